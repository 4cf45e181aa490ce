package store

import (
	"testing"
	"time"

	"github.com/hivecrew/hivecrew/pkg/models"
)

func seed(t *testing.T) *TaskStore {
	t.Helper()
	s := New()
	task := &models.Task{
		ID:         "t1",
		Status:     models.TaskStatusPending,
		SubTaskIDs: []string{"s1", "s2"},
	}
	subs := []*models.SubTask{
		{ID: "s1", TaskID: "t1", Title: "first", Status: models.SubTaskStatusPending},
		{ID: "s2", TaskID: "t1", Title: "second", Status: models.SubTaskStatusPending},
	}
	if err := s.AddTask(task, subs); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	return s
}

func TestAddTaskRejectsDuplicates(t *testing.T) {
	s := seed(t)
	err := s.AddTask(&models.Task{ID: "t1"}, nil)
	if err == nil {
		t.Fatal("expected duplicate task error")
	}
	err = s.AddTask(&models.Task{ID: "t2", SubTaskIDs: []string{"s1"}},
		[]*models.SubTask{{ID: "s1", TaskID: "t2"}})
	if err == nil {
		t.Fatal("expected duplicate sub-task error")
	}
}

func TestSubTasksPreserveOrder(t *testing.T) {
	s := seed(t)
	subs := s.SubTasks("t1")
	if len(subs) != 2 || subs[0].ID != "s1" || subs[1].ID != "s2" {
		t.Fatalf("expected [s1 s2], got %v", subs)
	}
}

func TestTerminalState(t *testing.T) {
	s := seed(t)

	if _, terminal := s.TerminalState("t1"); terminal {
		t.Fatal("task with pending sub-tasks must not be terminal")
	}

	s.SetSubTaskStatus("s1", models.SubTaskStatusCompleted)
	if _, terminal := s.TerminalState("t1"); terminal {
		t.Fatal("task must not be terminal with one sub-task pending")
	}

	s.SetSubTaskStatus("s2", models.SubTaskStatusCompleted)
	status, terminal := s.TerminalState("t1")
	if !terminal || status != models.TaskStatusCompleted {
		t.Fatalf("expected (completed, true), got (%s, %v)", status, terminal)
	}

	s.SetSubTaskStatus("s2", models.SubTaskStatusFailed)
	status, terminal = s.TerminalState("t1")
	if !terminal || status != models.TaskStatusFailed {
		t.Fatalf("expected (failed, true), got (%s, %v)", status, terminal)
	}
}

func TestProgress(t *testing.T) {
	s := seed(t)
	if p := s.Progress("t1"); p != 0 {
		t.Errorf("expected 0%%, got %d", p)
	}
	s.SetSubTaskStatus("s1", models.SubTaskStatusCompleted)
	if p := s.Progress("t1"); p != 50 {
		t.Errorf("expected 50%%, got %d", p)
	}
	s.SetSubTaskStatus("s2", models.SubTaskStatusFailed)
	if p := s.Progress("t1"); p != 100 {
		t.Errorf("expected 100%%, got %d", p)
	}
}

func TestFailSubTaskLeavesReadableResult(t *testing.T) {
	s := seed(t)
	s.FailSubTask("s1", "skipped after repeated failures: boom")

	sub := s.SubTask("s1")
	if sub.Status != models.SubTaskStatusFailed {
		t.Errorf("expected failed status, got %s", sub.Status)
	}
	if sub.Result == "" || sub.Error == "" {
		t.Error("expected both result and error to carry the reason")
	}
	if sub.CompletedAt == nil {
		t.Error("expected CompletedAt to be stamped")
	}
}

func TestSetTaskStatusStampsCompletion(t *testing.T) {
	s := seed(t)
	s.SetTaskStatus("t1", models.TaskStatusRunning)
	if s.Task("t1").CompletedAt != nil {
		t.Error("running task must not have CompletedAt")
	}
	s.SetTaskStatus("t1", models.TaskStatusCompleted)
	if s.Task("t1").CompletedAt == nil {
		t.Error("terminal task must have CompletedAt")
	}
}

func TestExecutorTimestamps(t *testing.T) {
	s := seed(t)
	start := time.Now()
	s.MarkSubTaskStarted("s1", start)
	s.SetSubTaskResult("s1", "done", start.Add(time.Second))

	sub := s.SubTask("s1")
	if sub.StartedAt == nil || sub.CompletedAt == nil {
		t.Fatal("expected both timestamps set")
	}
	if sub.Duration() != time.Second {
		t.Errorf("expected 1s duration, got %v", sub.Duration())
	}
}
