// Package ingest turns raw exported chat-log text into pending conversation
// records: detect the dialect, parse the messages, assemble the record,
// persist it.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/olegiv/chatlog-ai-go/internal/chatlog"
	"github.com/olegiv/chatlog-ai-go/internal/logging"
	"github.com/olegiv/chatlog-ai-go/internal/storage"
)

// ErrNoConversation marks input that parsed to zero messages under the
// detected format. It is a per-file condition, never fatal for a batch.
var ErrNoConversation = errors.New("no valid conversation found")

// Store is the record store surface ingestion consumes.
type Store interface {
	Add(conv *storage.Conversation) error
}

// Compile-time interface check
var _ Store = (*storage.Storage)(nil)

// Assemble wraps a parsed message sequence into a conversation record with
// derived metadata. Returns nil when msgs is empty: empty parses are
// rejected upstream, never persisted. Aside from identifier and clock
// generation, the result is a pure function of its inputs.
func Assemble(sourceLabel, rawText string, msgs []chatlog.Message) *storage.Conversation {
	if len(msgs) == 0 {
		return nil
	}

	first := msgs[0].Timestamp
	for _, msg := range msgs[1:] {
		if msg.Timestamp.Before(first) {
			first = msg.Timestamp
		}
	}

	return &storage.Conversation{
		ID:             uuid.NewString(),
		SourceLabel:    sourceLabel,
		RawText:        rawText,
		Messages:       msgs,
		FirstTimestamp: first,
		UploadedAt:     time.Now(),
		Status:         storage.StatusPending,
	}
}

// Ingestor converts uploaded files into pending conversation records.
type Ingestor struct {
	store Store
	log   *logging.SecureLogger
}

// NewIngestor creates a new ingestor over the given store.
func NewIngestor(store Store, log *logging.SecureLogger) *Ingestor {
	return &Ingestor{store: store, log: log}
}

// IngestText parses raw export text under its detected dialect and persists
// the assembled record. Returns ErrNoConversation when nothing parseable was
// found.
func (in *Ingestor) IngestText(sourceLabel, text string) (*storage.Conversation, error) {
	tag := chatlog.Detect(text)
	msgs := chatlog.Parse(text, tag)

	conv := Assemble(sourceLabel, text, msgs)
	if conv == nil {
		return nil, fmt.Errorf("%w in %s (format: %s)", ErrNoConversation, sourceLabel, tag)
	}

	if err := in.store.Add(conv); err != nil {
		return nil, fmt.Errorf("failed to store conversation: %w", err)
	}

	in.log.Info().
		Str("id", conv.ID).
		Str("source", sourceLabel).
		Str("format", string(tag)).
		Int("messages", len(conv.Messages)).
		Msg("Conversation ingested")

	return conv, nil
}

// IngestFile reads one exported file and ingests its content.
func (in *Ingestor) IngestFile(path string) (*storage.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return in.IngestText(filepath.Base(path), string(data))
}

// IngestFiles ingests a batch of files. A file that fails to parse or store
// does not abort its siblings; the number of successfully ingested
// conversations is returned alongside the per-file errors.
func (in *Ingestor) IngestFiles(paths []string) (int, []error) {
	var errs []error
	ingested := 0

	for _, path := range paths {
		if _, err := in.IngestFile(path); err != nil {
			if errors.Is(err, ErrNoConversation) {
				in.log.Warn().Str("path", path).Msg("No valid conversation found, skipping file")
			} else {
				in.log.Error().Str("path", path).Err(err).Msg("Failed to ingest file")
			}
			errs = append(errs, err)
			continue
		}
		ingested++
	}

	return ingested, errs
}
