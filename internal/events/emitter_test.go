package events

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEmitter(8, zap.NewNop().Sugar())

	e.Emit(Event{Family: FamilyScheduler, Type: TaskQueued, TaskID: "t1"})
	e.Emit(Event{Family: FamilyScheduler, Type: TaskStarted, TaskID: "t1"})
	e.Close()

	var got []Type
	for ev := range e.Events() {
		got = append(got, ev.Type)
		if ev.Timestamp.IsZero() {
			t.Error("expected emitter to stamp timestamps")
		}
	}

	if len(got) != 2 || got[0] != TaskQueued || got[1] != TaskStarted {
		t.Errorf("expected [task_queued task_started], got %v", got)
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	e := NewEmitter(1, zap.NewNop().Sugar())

	e.Emit(Event{Family: FamilyExecutor, Type: ExecStart})
	// Nobody drains; the second emit must drop after its grace period.
	e.Emit(Event{Family: FamilyExecutor, Type: ExecProgress})

	if e.DroppedCount() != 1 {
		t.Errorf("expected 1 dropped event, got %d", e.DroppedCount())
	}
}

func TestEmitAfterCloseIsNoop(t *testing.T) {
	e := NewEmitter(8, zap.NewNop().Sugar())
	e.Close()
	e.Emit(Event{Family: FamilyScheduler, Type: TaskQueued})
	e.Close()

	if _, open := <-e.Events(); open {
		t.Error("expected channel to be closed and empty")
	}
}

func TestEventUnixMilli(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	ev := Event{Timestamp: ts}
	if got := ev.UnixMilli(); got != ts.UnixMilli() {
		t.Errorf("UnixMilli() = %d, want %d", got, ts.UnixMilli())
	}
}
