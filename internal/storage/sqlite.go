// Package storage persists conversation records in SQLite and exposes
// status-indexed retrieval for the processing queue.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/olegiv/chatlog-ai-go/internal/ai"
	"github.com/olegiv/chatlog-ai-go/internal/chatlog"

	_ "modernc.org/sqlite"
)

// Storage handles database operations
type Storage struct {
	db *sql.DB
}

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when database is locked (5 seconds)
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	// maxIdleConns is the number of idle connections to keep
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
)

// New creates a new storage instance
func New(dbPath string) (*Storage, error) {
	// Create directory if it doesn't exist (0700 for security - owner only)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The _busy_timeout pragma prevents "database is locked" errors by waiting.
	// The queue writes to distinct record keys from multiple goroutines.
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Schema version constants
const (
	// currentSchemaVersion is the latest schema version
	// Increment this when adding new migrations
	currentSchemaVersion = 1
)

// initSchema creates the database schema if it doesn't exist
func (s *Storage) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	version := s.getSchemaVersion()

	if err := s.migrateSchema(version); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version (0 if not set)
func (s *Storage) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0 // No version set, needs full migration
	}
	return version
}

// setSchemaVersion updates the schema version
func (s *Storage) setSchemaVersion(version int) error {
	// Delete existing and insert new (simpler than upsert for single row)
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return nil
}

// migrateSchema runs migrations from currentVersion to latest
func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil // Already up to date
	}

	log.Printf("storage: migrating schema from version %d to %d", currentVersion, currentSchemaVersion)

	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// migrateV1 creates the base conversations table
func (s *Storage) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		source_label TEXT NOT NULL,
		raw_text TEXT NOT NULL,
		messages TEXT NOT NULL,
		first_timestamp TEXT,
		uploaded_at TEXT NOT NULL,
		status TEXT NOT NULL,
		analysis TEXT,
		last_error TEXT NOT NULL DEFAULT '',
		processed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
	CREATE INDEX IF NOT EXISTS idx_conversations_uploaded_at ON conversations(uploaded_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Add inserts a new conversation record.
func (s *Storage) Add(conv *Conversation) error {
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	analysisJSON, err := marshalAnalysis(conv.Analysis)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (
			id, source_label, raw_text, messages, first_timestamp,
			uploaded_at, status, analysis, last_error, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(
		query,
		conv.ID,
		conv.SourceLabel,
		conv.RawText,
		string(messagesJSON),
		nullableTime(conv.FirstTimestamp),
		conv.UploadedAt.Format(time.RFC3339Nano),
		string(conv.Status),
		analysisJSON,
		conv.LastError,
		nullableTime(conv.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	return nil
}

// AddMany inserts multiple conversation records; each insert is independent,
// so a failing record does not abort its siblings.
func (s *Storage) AddMany(convs []*Conversation) error {
	var firstErr error
	for _, conv := range convs {
		if err := s.Add(conv); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get retrieves a conversation by id. Returns sql.ErrNoRows when absent.
func (s *Storage) Get(id string) (*Conversation, error) {
	row := s.db.QueryRow(selectColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetAllByStatus retrieves all conversations with the given status, ordered
// by upload time.
func (s *Storage) GetAllByStatus(status Status) ([]*Conversation, error) {
	rows, err := s.db.Query(
		selectColumns+` FROM conversations WHERE status = ? ORDER BY uploaded_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

// Update persists the full current state of a conversation record. Writing
// the same state twice is harmless.
func (s *Storage) Update(conv *Conversation) error {
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	analysisJSON, err := marshalAnalysis(conv.Analysis)
	if err != nil {
		return err
	}

	query := `
		UPDATE conversations SET
			source_label = ?, raw_text = ?, messages = ?, first_timestamp = ?,
			uploaded_at = ?, status = ?, analysis = ?, last_error = ?, processed_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		conv.SourceLabel,
		conv.RawText,
		string(messagesJSON),
		nullableTime(conv.FirstTimestamp),
		conv.UploadedAt.Format(time.RFC3339Nano),
		string(conv.Status),
		analysisJSON,
		conv.LastError,
		nullableTime(conv.ProcessedAt),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation not found: %s", conv.ID)
	}

	return nil
}

// UpdateMany persists multiple records; failures are per-record.
func (s *Storage) UpdateMany(convs []*Conversation) error {
	var firstErr error
	for _, conv := range convs {
		if err := s.Update(conv); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CountsByStatus returns the number of conversations per status.
func (s *Storage) CountsByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM conversations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}

	return counts, rows.Err()
}

// RequeueInFlight resets processing records back to pending. Called at
// startup so that work interrupted by a crash or restart is picked up again.
func (s *Storage) RequeueInFlight() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE conversations SET status = ?, last_error = '' WHERE status = ?`,
		string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue in-flight conversations: %w", err)
	}
	return result.RowsAffected()
}

// ResetFailed resets failed records back to pending for an explicit bulk
// "retry failed" action.
func (s *Storage) ResetFailed() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE conversations SET status = ?, last_error = '' WHERE status = ?`,
		string(StatusPending), string(StatusFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed conversations: %w", err)
	}
	return result.RowsAffected()
}

const selectColumns = `SELECT id, source_label, raw_text, messages, first_timestamp,
	uploaded_at, status, analysis, last_error, processed_at`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanConversation scans a database row into a Conversation struct
func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		id, sourceLabel, rawText, messagesJSON string
		firstTimestamp, processedAt            sql.NullString
		uploadedAt, status, lastError          string
		analysisJSON                           sql.NullString
	)

	err := row.Scan(
		&id, &sourceLabel, &rawText, &messagesJSON, &firstTimestamp,
		&uploadedAt, &status, &analysisJSON, &lastError, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	var messages []chatlog.Message
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}

	uploaded, err := time.Parse(time.RFC3339Nano, uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse uploaded_at: %w", err)
	}

	conv := &Conversation{
		ID:          id,
		SourceLabel: sourceLabel,
		RawText:     rawText,
		Messages:    messages,
		UploadedAt:  uploaded,
		Status:      Status(status),
		LastError:   lastError,
	}

	if firstTimestamp.Valid {
		ts, err := time.Parse(time.RFC3339Nano, firstTimestamp.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse first_timestamp: %w", err)
		}
		conv.FirstTimestamp = ts
	}

	if processedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse processed_at: %w", err)
		}
		conv.ProcessedAt = ts
	}

	if analysisJSON.Valid && analysisJSON.String != "" {
		var analysis ai.Analysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
		}
		conv.Analysis = &analysis
	}

	return conv, nil
}

// marshalAnalysis serializes the analysis column; absent analyses store NULL
// so the "analysis present iff done" invariant is visible in the schema.
func marshalAnalysis(analysis *ai.Analysis) (sql.NullString, error) {
	if analysis == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// nullableTime renders zero times as NULL.
func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
