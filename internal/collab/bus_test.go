package collab

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/internal/events"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/pkg/models"
)

func newFixture(t *testing.T, caps map[string]chat.Streamer) (*Bus, *pool.Pool) {
	t.Helper()

	log := zap.NewNop().Sugar()
	p := pool.New(log)
	for id, capability := range caps {
		if err := p.Register(pool.Registration{
			Worker:     &models.Worker{ID: id, Name: "Worker " + id},
			Capability: capability,
		}); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	em := events.NewEmitter(1024, log)
	go func() {
		for range em.Events() {
		}
	}()

	bus := New(Config{ReplyDelay: 5 * time.Millisecond, PurgeGrace: time.Minute}, p, em, log)
	return bus, p
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// A question with requireResponse produces exactly one automatic
// answer in the same session, linked by ParentMessageID.
func TestQuestionAutoReply(t *testing.T) {
	bus, _ := newFixture(t, map[string]chat.Streamer{
		"w1": &chat.Scripted{Response: "asking"},
		"w2": &chat.Scripted{Response: "the checksum is fine"},
	})

	msg, err := bus.Send(SendRequest{
		From:            "w1",
		To:              "w2",
		Type:            models.MessageQuestion,
		Content:         "is the checksum fine?",
		TaskID:          "t1",
		RequireResponse: true,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	pending := bus.PendingResponses()
	if len(pending) != 1 || pending[0].ID != msg.ID {
		t.Errorf("PendingResponses() before reply = %v, want the question", pending)
	}

	waitFor(t, time.Second, "auto-reply", func() bool {
		return len(bus.Session(msg.SessionID).Messages) == 2
	})

	session := bus.Session(msg.SessionID)
	reply := session.Messages[1]
	if reply.Type != models.MessageAnswer {
		t.Errorf("reply type = %s, want answer", reply.Type)
	}
	if reply.ParentMessageID != msg.ID {
		t.Errorf("reply parent = %q, want %q", reply.ParentMessageID, msg.ID)
	}
	if reply.From != "w2" || reply.To != "w1" {
		t.Errorf("reply direction = %s->%s, want w2->w1", reply.From, reply.To)
	}
	if reply.SessionID != msg.SessionID {
		t.Errorf("reply session = %q, want %q", reply.SessionID, msg.SessionID)
	}
	if reply.Content != "the checksum is fine" {
		t.Errorf("reply content = %q", reply.Content)
	}

	if pending := bus.PendingResponses(); len(pending) != 0 {
		t.Errorf("PendingResponses() after reply = %d, want 0", len(pending))
	}

	// Only the one answer; no second reply appears later.
	time.Sleep(20 * time.Millisecond)
	if got := len(bus.Session(msg.SessionID).Messages); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}

func TestSessionReusedForSamePair(t *testing.T) {
	bus, _ := newFixture(t, map[string]chat.Streamer{
		"w1": &chat.Scripted{Response: "ok"},
		"w2": &chat.Scripted{Response: "ok"},
	})

	first, err := bus.Send(SendRequest{From: "w1", To: "w2", Type: models.MessageSuggestion, Content: "a", TaskID: "t1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	second, err := bus.Send(SendRequest{From: "w2", To: "w1", Type: models.MessageSuggestion, Content: "b", TaskID: "t1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if first.SessionID != second.SessionID {
		t.Errorf("sessions differ: %q vs %q", first.SessionID, second.SessionID)
	}

	other, err := bus.Send(SendRequest{From: "w1", To: "w2", Type: models.MessageSuggestion, Content: "c", TaskID: "t2"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if other.SessionID == first.SessionID {
		t.Error("different task reused the same session")
	}
}

func TestBroadcastCollectsPartialFailures(t *testing.T) {
	bus, _ := newFixture(t, map[string]chat.Streamer{
		"w1": &chat.Scripted{Response: "ok"},
		"w2": &chat.Scripted{Response: "ok"},
		"w3": &chat.Scripted{Err: errors.New("capability down")},
	})

	errs := bus.Broadcast("w1", []string{"w1", "w2", "w3"}, models.MessageNotification, "heads up", "t1")
	if len(errs) != 1 {
		t.Fatalf("Broadcast() errors = %v, want exactly 1", errs)
	}

	// The failed delivery is still recorded in its session history.
	if got := bus.History("w1", "w3"); len(got) != 1 {
		t.Errorf("History(w1, w3) = %d messages, want 1", len(got))
	}
	if got := bus.History("w1", "w2"); len(got) != 1 {
		t.Errorf("History(w1, w2) = %d messages, want 1", len(got))
	}
}

func TestCloseBuildsRecord(t *testing.T) {
	bus, _ := newFixture(t, map[string]chat.Streamer{
		"w1": &chat.Scripted{Response: "ok"},
		"w2": &chat.Scripted{Response: "ok"},
	})

	msg, err := bus.Send(SendRequest{From: "w1", To: "w2", Type: models.MessageHandoff, Content: "take over", TaskID: "t1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	rec, err := bus.Close(msg.SessionID, true)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Close() returned no record")
	}
	if rec.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", rec.MessageCount)
	}
	if len(rec.MessageTypes) != 1 || rec.MessageTypes[0] != "handoff" {
		t.Errorf("MessageTypes = %v, want [handoff]", rec.MessageTypes)
	}
	if rec.Summary == "" {
		t.Error("record has no summary")
	}

	if got := bus.Session(msg.SessionID).Status; got != models.SessionClosed {
		t.Errorf("session status = %s, want closed", got)
	}
	if bus.Record(msg.SessionID) == nil {
		t.Error("record not retained after close")
	}

	// A closed session no longer accepts the pair; a new one is created.
	next, err := bus.Send(SendRequest{From: "w1", To: "w2", Type: models.MessageSuggestion, Content: "new", TaskID: "t1"})
	if err != nil {
		t.Fatalf("Send() after close error = %v", err)
	}
	if next.SessionID == msg.SessionID {
		t.Error("closed session was reused")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bus, _ := newFixture(t, map[string]chat.Streamer{
		"w1": &chat.Scripted{Response: "ok"},
		"w2": &chat.Scripted{Response: "ok"},
	})

	msg, err := bus.Send(SendRequest{From: "w1", To: "w2", Type: models.MessageSuggestion, Content: "x", TaskID: "t1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	first, err := bus.Close(msg.SessionID, true)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	second, err := bus.Close(msg.SessionID, true)
	if err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if first != second {
		t.Error("second close built a new record")
	}
}

func TestSendValidation(t *testing.T) {
	bus, _ := newFixture(t, map[string]chat.Streamer{
		"w1": &chat.Scripted{Response: "ok"},
		"w2": &chat.Scripted{Response: "ok"},
	})

	if _, err := bus.Send(SendRequest{From: "w1", To: "w1", Type: models.MessageQuestion}); err == nil {
		t.Error("self-send expected an error")
	}
	if _, err := bus.Send(SendRequest{From: "w1", To: "ghost", Type: models.MessageQuestion}); err == nil {
		t.Error("unknown recipient expected an error")
	}
	if _, err := bus.Send(SendRequest{From: "ghost", To: "w1", Type: models.MessageQuestion}); err == nil {
		t.Error("unknown sender expected an error")
	}
	if _, err := bus.Send(SendRequest{From: "w1", To: "w2", Type: "shout"}); err == nil {
		t.Error("invalid type expected an error")
	}
}

func TestOverview(t *testing.T) {
	bus, _ := newFixture(t, map[string]chat.Streamer{
		"w1": &chat.Scripted{Response: "ok"},
		"w2": &chat.Scripted{Response: "ok"},
		"w3": &chat.Scripted{Response: "ok"},
	})

	if _, err := bus.Send(SendRequest{From: "w1", To: "w2", Type: models.MessageSuggestion, Content: "a", TaskID: "t1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := bus.Send(SendRequest{From: "w1", To: "w3", Type: models.MessageSuggestion, Content: "b", TaskID: "t1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ov := bus.GetOverview()
	if ov.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", ov.ActiveSessions)
	}
	if ov.TotalMessages != 2 {
		t.Errorf("TotalMessages = %d, want 2", ov.TotalMessages)
	}
	if ov.PendingResponses != 0 {
		t.Errorf("PendingResponses = %d, want 0", ov.PendingResponses)
	}
	if _, ok := ov.LastActivity["w1"]; !ok {
		t.Error("LastActivity missing w1")
	}
}
