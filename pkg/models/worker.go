package models

// WorkerStatus represents the current availability state of a worker.
type WorkerStatus string

const (
	// WorkerStatusIdle indicates the worker can accept a sub-task.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusThinking indicates the worker has been claimed and is preparing output.
	WorkerStatusThinking WorkerStatus = "thinking"
	// WorkerStatusTyping indicates the worker is streaming output.
	WorkerStatusTyping WorkerStatus = "typing"
	// WorkerStatusError indicates the worker's last execution failed.
	WorkerStatusError WorkerStatus = "error"
	// WorkerStatusSuccess indicates the worker's last execution succeeded.
	WorkerStatusSuccess WorkerStatus = "success"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusIdle, WorkerStatusThinking, WorkerStatusTyping,
		WorkerStatusError, WorkerStatusSuccess:
		return true
	default:
		return false
	}
}

// Worker is a logical executor capable of turning a task description
// into a textual result, possibly incrementally. Workers are long-lived
// relative to any one task.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Role is a human-readable role label (e.g. "backend engineer").
	Role string `json:"role,omitempty"`
	// Skills lists the worker's skill tags used for assignment matching.
	Skills []string `json:"skills,omitempty"`
	// Status is the current availability state.
	Status WorkerStatus `json:"status"`
	// CurrentSubTaskID is the sub-task this worker is executing, if any.
	// A worker holds at most one sub-task at a time.
	CurrentSubTaskID string `json:"current_sub_task_id,omitempty"`
	// CompletedTasks counts sub-tasks this worker finished successfully.
	CompletedTasks int `json:"completed_tasks"`
}
