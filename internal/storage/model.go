package storage

import (
	"time"

	"github.com/olegiv/chatlog-ai-go/internal/ai"
	"github.com/olegiv/chatlog-ai-go/internal/chatlog"
)

// Status is a conversation record's processing state. Transitions only run
// pending → processing → {done | pending (re-queued after throttling) | failed}.
type Status string

// Conversation processing states.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// ValidStatuses returns all conversation statuses.
func ValidStatuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusDone, StatusFailed}
}

// Conversation is one uploaded chat's parsed messages plus processing state.
// Analysis is present if and only if Status is done. Records are created at
// upload time and mutated only by the queue scheduler during processing.
type Conversation struct {
	ID             string
	SourceLabel    string
	RawText        string
	Messages       []chatlog.Message
	FirstTimestamp time.Time // zero when no message carried a timestamp
	UploadedAt     time.Time
	Status         Status
	Analysis       *ai.Analysis
	LastError      string
	ProcessedAt    time.Time // zero until the record reaches done
}
