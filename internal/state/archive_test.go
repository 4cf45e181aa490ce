package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hivecrew/hivecrew/pkg/models"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), ".hivecrew", "archive.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenCreatesParentDirs(t *testing.T) {
	a := openTestArchive(t)
	if a.Path() == "" {
		t.Error("Path should not be empty")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	a.Close()

	// Migrations must not fail on an already-migrated file.
	a, err = Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	a.Close()
}

func TestRecordAndListExceptions(t *testing.T) {
	a := openTestArchive(t)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := &models.ExceptionRecord{
		ID:        "ex1",
		Type:      models.ExceptionTaskFailure,
		Severity:  models.SeverityMedium,
		TaskID:    "t1",
		SubTaskID: "s1",
		WorkerID:  "w1",
		Message:   "boom",
		Status:    models.ExceptionStatusPending,
		CreatedAt: base,
	}
	if err := a.RecordException(rec); err != nil {
		t.Fatalf("RecordException failed: %v", err)
	}

	// Re-archiving after resolution replaces the row.
	rec.Status = models.ExceptionStatusResolved
	rec.Resolution = &models.Resolution{Action: "auto_retry", ResolvedBy: "auto", ResolvedAt: base.Add(time.Second)}
	if err := a.RecordException(rec); err != nil {
		t.Fatalf("RecordException (resolved) failed: %v", err)
	}

	other := &models.ExceptionRecord{
		ID:        "ex2",
		Type:      models.ExceptionTaskTimeout,
		Severity:  models.SeverityHigh,
		TaskID:    "t2",
		SubTaskID: "s9",
		Message:   "watchdog fired",
		Status:    models.ExceptionStatusEscalated,
		CreatedAt: base.Add(time.Minute),
	}
	if err := a.RecordException(other); err != nil {
		t.Fatalf("RecordException (other) failed: %v", err)
	}

	all, err := a.ListExceptions("", 0)
	if err != nil {
		t.Fatalf("ListExceptions failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if all[0].ID != "ex2" {
		t.Errorf("newest first: got %q, want ex2", all[0].ID)
	}

	forTask, err := a.ListExceptions("t1", 0)
	if err != nil {
		t.Fatalf("ListExceptions(t1) failed: %v", err)
	}
	if len(forTask) != 1 {
		t.Fatalf("len(forTask) = %d, want 1", len(forTask))
	}
	got := forTask[0]
	if got.Status != string(models.ExceptionStatusResolved) {
		t.Errorf("Status = %q, want resolved", got.Status)
	}
	if got.Action != "auto_retry" {
		t.Errorf("Action = %q, want auto_retry", got.Action)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
}

func TestListExceptionsLimit(t *testing.T) {
	a := openTestArchive(t)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := &models.ExceptionRecord{
			ID:        string(rune('a' + i)),
			Type:      models.ExceptionTaskFailure,
			Severity:  models.SeverityLow,
			TaskID:    "t1",
			SubTaskID: "s1",
			Status:    models.ExceptionStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := a.RecordException(rec); err != nil {
			t.Fatalf("RecordException failed: %v", err)
		}
	}

	limited, err := a.ListExceptions("", 2)
	if err != nil {
		t.Fatalf("ListExceptions failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}
}

func TestRecordAndListConversations(t *testing.T) {
	a := openTestArchive(t)

	closed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &models.ConversationRecord{
		ID:           "cr1",
		SessionID:    "sess1",
		TaskID:       "t1",
		Participants: []string{"Ada", "Grace"},
		Summary:      "Ada and Grace exchanged 4 message(s) (question, response) over 2s",
		MessageCount: 4,
		MessageTypes: []string{"question", "response"},
		Duration:     2 * time.Second,
		ClosedAt:     closed,
	}
	if err := a.RecordConversation(rec); err != nil {
		t.Fatalf("RecordConversation failed: %v", err)
	}

	list, err := a.ListConversations("t1", 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	got := list[0]
	if got.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", got.MessageCount)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "Ada" {
		t.Errorf("Participants = %v, want [Ada Grace]", got.Participants)
	}
	if got.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got.Duration)
	}
	if !got.ClosedAt.Equal(closed) {
		t.Errorf("ClosedAt = %v, want %v", got.ClosedAt, closed)
	}

	none, err := a.ListConversations("other", 0)
	if err != nil {
		t.Fatalf("ListConversations(other) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("len(none) = %d, want 0", len(none))
	}
}
