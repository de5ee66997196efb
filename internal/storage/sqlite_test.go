package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/olegiv/chatlog-ai-go/internal/ai"
	"github.com/olegiv/chatlog-ai-go/internal/chatlog"
)

// newTestStorage creates a storage instance backed by a temp database
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	storage, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	return storage
}

// testConversation builds a pending conversation record for tests
func testConversation(id string) *Conversation {
	return &Conversation{
		ID:          id,
		SourceLabel: "export.txt",
		RawText:     "[12/3/2024, 14:05:33] Maria: hello\n",
		Messages: []chatlog.Message{
			{
				Timestamp: time.Date(2024, 3, 12, 14, 5, 33, 0, time.UTC),
				Sender:    "Maria",
				Content:   "hello",
			},
		},
		FirstTimestamp: time.Date(2024, 3, 12, 14, 5, 33, 0, time.UTC),
		UploadedAt:     time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC),
		Status:         StatusPending,
	}
}

func assertConversationsEqual(t *testing.T, got, want *Conversation) {
	t.Helper()
	if got.ID != want.ID {
		t.Errorf("ID mismatch: got %s, want %s", got.ID, want.ID)
	}
	if got.SourceLabel != want.SourceLabel {
		t.Errorf("SourceLabel mismatch: got %s, want %s", got.SourceLabel, want.SourceLabel)
	}
	if got.RawText != want.RawText {
		t.Errorf("RawText mismatch: got %q, want %q", got.RawText, want.RawText)
	}
	if !reflect.DeepEqual(got.Messages, want.Messages) {
		t.Errorf("Messages mismatch: got %+v, want %+v", got.Messages, want.Messages)
	}
	if !got.FirstTimestamp.Equal(want.FirstTimestamp) {
		t.Errorf("FirstTimestamp mismatch: got %v, want %v", got.FirstTimestamp, want.FirstTimestamp)
	}
	if !got.UploadedAt.Equal(want.UploadedAt) {
		t.Errorf("UploadedAt mismatch: got %v, want %v", got.UploadedAt, want.UploadedAt)
	}
	if got.Status != want.Status {
		t.Errorf("Status mismatch: got %s, want %s", got.Status, want.Status)
	}
	if got.LastError != want.LastError {
		t.Errorf("LastError mismatch: got %q, want %q", got.LastError, want.LastError)
	}
}

func TestNew(t *testing.T) {
	storage := newTestStorage(t)

	if storage.db == nil {
		t.Fatal("Expected database connection to be initialized")
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	storage, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage with nested directories: %v", err)
	}
	defer func() { _ = storage.Close() }()
}

func TestSchemaVersionSet(t *testing.T) {
	storage := newTestStorage(t)

	if got := storage.getSchemaVersion(); got != currentSchemaVersion {
		t.Errorf("Schema version = %d, want %d", got, currentSchemaVersion)
	}
}

func TestAddAndGet(t *testing.T) {
	storage := newTestStorage(t)

	want := testConversation("conv-1")
	if err := storage.Add(want); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := storage.Get("conv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	assertConversationsEqual(t, got, want)

	if got.Analysis != nil {
		t.Error("Pending conversation should have no analysis")
	}
	if !got.ProcessedAt.IsZero() {
		t.Error("Pending conversation should have no processed timestamp")
	}
}

func TestGetMissing(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.Get("does-not-exist")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}
}

func TestAddDuplicateID(t *testing.T) {
	storage := newTestStorage(t)

	conv := testConversation("conv-1")
	if err := storage.Add(conv); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := storage.Add(conv); err == nil {
		t.Error("Expected error adding duplicate ID")
	}
}

func TestAddMany(t *testing.T) {
	storage := newTestStorage(t)

	convs := []*Conversation{
		testConversation("conv-1"),
		testConversation("conv-2"),
		testConversation("conv-1"), // duplicate, fails independently
		testConversation("conv-3"),
	}

	err := storage.AddMany(convs)
	if err == nil {
		t.Error("Expected first error from duplicate insert")
	}

	// Siblings of the failing record are still inserted
	for _, id := range []string{"conv-1", "conv-2", "conv-3"} {
		if _, err := storage.Get(id); err != nil {
			t.Errorf("Get(%s) failed: %v", id, err)
		}
	}
}

func TestGetAllByStatusOrdered(t *testing.T) {
	storage := newTestStorage(t)

	first := testConversation("conv-early")
	first.UploadedAt = time.Date(2024, 3, 13, 8, 0, 0, 0, time.UTC)
	second := testConversation("conv-late")
	second.UploadedAt = time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

	done := testConversation("conv-done")
	done.Status = StatusDone

	// Insert out of upload order
	for _, conv := range []*Conversation{second, done, first} {
		if err := storage.Add(conv); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	pending, err := storage.GetAllByStatus(StatusPending)
	if err != nil {
		t.Fatalf("GetAllByStatus failed: %v", err)
	}

	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending conversations, got %d", len(pending))
	}
	if pending[0].ID != "conv-early" || pending[1].ID != "conv-late" {
		t.Errorf("Wrong order: %s, %s", pending[0].ID, pending[1].ID)
	}
}

func TestUpdate(t *testing.T) {
	storage := newTestStorage(t)

	conv := testConversation("conv-1")
	if err := storage.Add(conv); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	conv.Status = StatusDone
	conv.ProcessedAt = time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC)
	conv.Analysis = &ai.Analysis{
		Channel:           "whatsapp",
		EquipmentCategory: "loader",
		Value:             800,
		Score:             7,
		Summary:           "Customer asked about loader prices.",
	}

	if err := storage.Update(conv); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := storage.Get("conv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Status != StatusDone {
		t.Errorf("Status = %s, want %s", got.Status, StatusDone)
	}
	if got.Analysis == nil {
		t.Fatal("Expected analysis to be persisted")
	}
	if !reflect.DeepEqual(got.Analysis, conv.Analysis) {
		t.Errorf("Analysis mismatch: got %+v, want %+v", got.Analysis, conv.Analysis)
	}
	if !got.ProcessedAt.Equal(conv.ProcessedAt) {
		t.Errorf("ProcessedAt = %v, want %v", got.ProcessedAt, conv.ProcessedAt)
	}
}

func TestUpdateMissing(t *testing.T) {
	storage := newTestStorage(t)

	conv := testConversation("never-added")
	if err := storage.Update(conv); err == nil {
		t.Error("Expected error updating missing conversation")
	}
}

func TestUpdateIdempotent(t *testing.T) {
	storage := newTestStorage(t)

	conv := testConversation("conv-1")
	if err := storage.Add(conv); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	conv.Status = StatusFailed
	conv.LastError = "analysis failed"
	for i := 0; i < 2; i++ {
		if err := storage.Update(conv); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	got, err := storage.Get("conv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusFailed || got.LastError != "analysis failed" {
		t.Errorf("Got status %s, lastError %q", got.Status, got.LastError)
	}
}

func TestCountsByStatus(t *testing.T) {
	storage := newTestStorage(t)

	statuses := []Status{
		StatusPending, StatusPending, StatusPending,
		StatusProcessing,
		StatusDone, StatusDone,
		StatusFailed,
	}
	for i, status := range statuses {
		conv := testConversation(string(rune('a' + i)))
		conv.Status = status
		if err := storage.Add(conv); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	counts, err := storage.CountsByStatus()
	if err != nil {
		t.Fatalf("CountsByStatus failed: %v", err)
	}

	want := map[Status]int{
		StatusPending:    3,
		StatusProcessing: 1,
		StatusDone:       2,
		StatusFailed:     1,
	}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("CountsByStatus = %v, want %v", counts, want)
	}
}

func TestRequeueInFlight(t *testing.T) {
	storage := newTestStorage(t)

	inFlight := testConversation("conv-processing")
	inFlight.Status = StatusProcessing
	inFlight.LastError = "interrupted"
	done := testConversation("conv-done")
	done.Status = StatusDone

	for _, conv := range []*Conversation{inFlight, done} {
		if err := storage.Add(conv); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	requeued, err := storage.RequeueInFlight()
	if err != nil {
		t.Fatalf("RequeueInFlight failed: %v", err)
	}
	if requeued != 1 {
		t.Errorf("Requeued %d records, want 1", requeued)
	}

	got, err := storage.Get("conv-processing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %s, want %s", got.Status, StatusPending)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty", got.LastError)
	}

	// Done records are untouched
	gotDone, err := storage.Get("conv-done")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotDone.Status != StatusDone {
		t.Errorf("Done record status = %s, want %s", gotDone.Status, StatusDone)
	}
}

func TestResetFailed(t *testing.T) {
	storage := newTestStorage(t)

	failed := testConversation("conv-failed")
	failed.Status = StatusFailed
	failed.LastError = "analysis failed after 3 retries"
	pending := testConversation("conv-pending")

	for _, conv := range []*Conversation{failed, pending} {
		if err := storage.Add(conv); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	reset, err := storage.ResetFailed()
	if err != nil {
		t.Fatalf("ResetFailed failed: %v", err)
	}
	if reset != 1 {
		t.Errorf("Reset %d records, want 1", reset)
	}

	got, err := storage.Get("conv-failed")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %s, want %s", got.Status, StatusPending)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty", got.LastError)
	}
}

func TestMultilineContentSurvivesStorage(t *testing.T) {
	storage := newTestStorage(t)

	conv := testConversation("conv-1")
	conv.Messages[0].Content = "first line\nsecond line"

	if err := storage.Add(conv); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := storage.Get("conv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Messages[0].Content != "first line\nsecond line" {
		t.Errorf("Content = %q", got.Messages[0].Content)
	}
}

func TestValidStatuses(t *testing.T) {
	want := []Status{StatusPending, StatusProcessing, StatusDone, StatusFailed}
	if got := ValidStatuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("ValidStatuses() = %v, want %v", got, want)
	}
}
