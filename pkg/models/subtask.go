package models

import "time"

// SubTaskStatus represents the current state of a sub-task.
type SubTaskStatus string

const (
	// SubTaskStatusPending indicates the sub-task is queued or waiting on dependencies.
	SubTaskStatusPending SubTaskStatus = "pending"
	// SubTaskStatusRunning indicates the sub-task is executing on a worker.
	SubTaskStatusRunning SubTaskStatus = "running"
	// SubTaskStatusCompleted indicates the sub-task finished successfully.
	SubTaskStatusCompleted SubTaskStatus = "completed"
	// SubTaskStatusFailed indicates the sub-task failed permanently.
	SubTaskStatusFailed SubTaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubTaskStatus) Valid() bool {
	switch s {
	case SubTaskStatusPending, SubTaskStatusRunning, SubTaskStatusCompleted, SubTaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s SubTaskStatus) Terminal() bool {
	return s == SubTaskStatusCompleted || s == SubTaskStatusFailed
}

// Priority represents the scheduling priority of a sub-task.
type Priority string

const (
	// PriorityHigh sub-tasks are served before medium and low ones.
	PriorityHigh Priority = "high"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityLow sub-tasks are served last.
	PriorityLow Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Score returns the base priority score. Lower scores are served first.
func (p Priority) Score() int {
	switch p {
	case PriorityHigh:
		return -2
	case PriorityLow:
		return 2
	default:
		return 0
	}
}

// SubTask is an atomic, independently assignable unit of work.
// Ownership is split: the scheduler is the only writer of Status and
// AssignedWorkerID, the executor is the only writer of Result, Error
// and the start/end timestamps.
type SubTask struct {
	// ID is the unique identifier for this sub-task.
	ID string `json:"id"`
	// TaskID is the ID of the owning task.
	TaskID string `json:"task_id"`
	// Title is the short description of the sub-task.
	Title string `json:"title"`
	// Description provides detailed information about the sub-task.
	Description string `json:"description,omitempty"`
	// Priority determines queue ordering.
	Priority Priority `json:"priority"`
	// EstimatedDuration is a planning hint, not an enforcement bound.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	// Dependencies lists sub-task IDs that must be completed before this one runs.
	Dependencies []string `json:"dependencies,omitempty"`
	// RequiredSkills lists skill tags a worker should match.
	RequiredSkills []string `json:"required_skills,omitempty"`
	// Status is the current state of the sub-task.
	Status SubTaskStatus `json:"status"`
	// AssignedWorkerID is the worker currently or last assigned, if any.
	AssignedWorkerID string `json:"assigned_worker_id,omitempty"`
	// Result contains the accumulated output text on success, or a
	// human-readable error string when the sub-task was skipped or aborted.
	Result string `json:"result,omitempty"`
	// Error contains the last execution error message, if any.
	Error string `json:"error,omitempty"`
	// StartedAt is when the most recent execution attempt began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the sub-task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// RetryCount is the number of times this sub-task has been resubmitted.
	RetryCount int `json:"retry_count,omitempty"`
}

// Duration returns the wall-clock execution time, or zero if the
// sub-task never ran to a terminal state.
func (s *SubTask) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}
