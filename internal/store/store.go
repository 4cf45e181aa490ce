// Package store holds the in-memory task and sub-task state shared by
// the scheduler, executor, exception handler, and aggregator.
//
// Ownership discipline: the scheduler writes sub-task status and
// assignment; the executor writes result, error and timestamps; the
// aggregator only reads. All mutation goes through store methods so
// readers never observe a torn update.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/hivecrew/hivecrew/pkg/models"
)

// TaskStore is the single source of truth for tasks and sub-tasks.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	subs  map[string]*models.SubTask
}

// New creates an empty TaskStore.
func New() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*models.Task),
		subs:  make(map[string]*models.SubTask),
	}
}

// AddTask registers a task and its sub-tasks. Sub-task IDs must be
// globally unique.
func (s *TaskStore) AddTask(task *models.Task, subtasks []*models.SubTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already registered", task.ID)
	}
	for _, sub := range subtasks {
		if _, exists := s.subs[sub.ID]; exists {
			return fmt.Errorf("sub-task %s already registered", sub.ID)
		}
	}

	s.tasks[task.ID] = task
	for _, sub := range subtasks {
		s.subs[sub.ID] = sub
	}
	return nil
}

// Task returns the task for an ID, or nil if unknown.
func (s *TaskStore) Task(taskID string) *models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[taskID]
}

// SubTask returns the sub-task for an ID, or nil if unknown.
func (s *TaskStore) SubTask(subTaskID string) *models.SubTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[subTaskID]
}

// SubTasks returns a task's sub-tasks in submission order.
func (s *TaskStore) SubTasks(taskID string) []*models.SubTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task := s.tasks[taskID]
	if task == nil {
		return nil
	}
	out := make([]*models.SubTask, 0, len(task.SubTaskIDs))
	for _, id := range task.SubTaskIDs {
		if sub := s.subs[id]; sub != nil {
			out = append(out, sub)
		}
	}
	return out
}

// Tasks returns all registered tasks.
func (s *TaskStore) Tasks() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// SetTaskStatus updates a task's status, stamping CompletedAt on the
// transition into a terminal state.
func (s *TaskStore) SetTaskStatus(taskID string, status models.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.tasks[taskID]
	if task == nil {
		return
	}
	task.Status = status
	if status.Terminal() && task.CompletedAt == nil {
		now := time.Now()
		task.CompletedAt = &now
	}
}

// SetTaskProgress updates a task's completion percentage.
func (s *TaskStore) SetTaskProgress(taskID string, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task := s.tasks[taskID]; task != nil {
		task.Progress = progress
	}
}

// SetSubTaskStatus updates a sub-task's status. Scheduler only.
func (s *TaskStore) SetSubTaskStatus(subTaskID string, status models.SubTaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub := s.subs[subTaskID]; sub != nil {
		sub.Status = status
	}
}

// AssignWorker records the worker assignment. Scheduler only.
func (s *TaskStore) AssignWorker(subTaskID, workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub := s.subs[subTaskID]; sub != nil {
		sub.AssignedWorkerID = workerID
	}
}

// IncrementRetry bumps the sub-task's retry counter and returns the
// new value.
func (s *TaskStore) IncrementRetry(subTaskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subs[subTaskID]
	if sub == nil {
		return 0
	}
	sub.RetryCount++
	return sub.RetryCount
}

// MarkSubTaskStarted stamps the start of an execution attempt and
// clears any stale completion data. Executor only.
func (s *TaskStore) MarkSubTaskStarted(subTaskID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subs[subTaskID]
	if sub == nil {
		return
	}
	sub.StartedAt = &at
	sub.CompletedAt = nil
	sub.Error = ""
}

// SetSubTaskResult records a successful execution. Executor only.
func (s *TaskStore) SetSubTaskResult(subTaskID, result string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subs[subTaskID]
	if sub == nil {
		return
	}
	sub.Result = result
	sub.CompletedAt = &at
}

// SetSubTaskError records a failed execution. Executor only.
func (s *TaskStore) SetSubTaskError(subTaskID, errMsg string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subs[subTaskID]
	if sub == nil {
		return
	}
	sub.Error = errMsg
	sub.CompletedAt = &at
}

// FailSubTask marks a sub-task failed with a human-readable reason in
// its result field, so aggregated reports stay coherent on partial
// failure.
func (s *TaskStore) FailSubTask(subTaskID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subs[subTaskID]
	if sub == nil {
		return
	}
	sub.Status = models.SubTaskStatusFailed
	sub.Result = reason
	if sub.Error == "" {
		sub.Error = reason
	}
	if sub.CompletedAt == nil {
		now := time.Now()
		sub.CompletedAt = &now
	}
}

// Progress computes the share of terminal sub-tasks for a task (0-100).
func (s *TaskStore) Progress(taskID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task := s.tasks[taskID]
	if task == nil || len(task.SubTaskIDs) == 0 {
		return 0
	}
	terminal := 0
	for _, id := range task.SubTaskIDs {
		if sub := s.subs[id]; sub != nil && sub.Status.Terminal() {
			terminal++
		}
	}
	return terminal * 100 / len(task.SubTaskIDs)
}

// TerminalState inspects a task's sub-tasks and reports whether all of
// them are terminal, and if so which terminal status the task takes:
// completed iff every sub-task completed, failed otherwise.
func (s *TaskStore) TerminalState(taskID string) (models.TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task := s.tasks[taskID]
	if task == nil || len(task.SubTaskIDs) == 0 {
		return "", false
	}

	allCompleted := true
	for _, id := range task.SubTaskIDs {
		sub := s.subs[id]
		if sub == nil || !sub.Status.Terminal() {
			return "", false
		}
		if sub.Status != models.SubTaskStatusCompleted {
			allCompleted = false
		}
	}
	if allCompleted {
		return models.TaskStatusCompleted, true
	}
	return models.TaskStatusFailed, true
}
