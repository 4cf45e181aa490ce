package models

import "time"

// TaskStatus represents the current state of a top-level task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates at least one sub-task is executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates every sub-task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task ended with at least one failed sub-task.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is the top-level unit of work submitted by a caller.
// It owns an ordered list of sub-tasks produced by an external
// decomposition step.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is the original high-level request.
	Description string `json:"description"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Progress is the overall completion percentage (0-100).
	Progress int `json:"progress"`
	// SubTaskIDs lists the sub-tasks of this task in submission order.
	SubTaskIDs []string `json:"sub_task_ids"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
