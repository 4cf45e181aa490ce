package models

import "time"

// OverallStatus classifies an aggregated task outcome.
type OverallStatus string

const (
	// OverallCompleted means every sub-task completed.
	OverallCompleted OverallStatus = "completed"
	// OverallPartial means the task finished with a mix of outcomes.
	OverallPartial OverallStatus = "partial"
	// OverallFailed means every sub-task failed.
	OverallFailed OverallStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s OverallStatus) Valid() bool {
	switch s {
	case OverallCompleted, OverallPartial, OverallFailed:
		return true
	default:
		return false
	}
}

// ReportFormat selects an export encoding of an aggregated result.
type ReportFormat string

const (
	FormatMarkdown ReportFormat = "markdown"
	FormatHTML     ReportFormat = "html"
	FormatJSON     ReportFormat = "json"
)

// Valid returns true if the format is a known value.
func (f ReportFormat) Valid() bool {
	switch f {
	case FormatMarkdown, FormatHTML, FormatJSON:
		return true
	default:
		return false
	}
}

// Metrics summarizes sub-task outcomes for one task.
type Metrics struct {
	// TotalSubTasks is the number of sub-tasks in the task.
	TotalSubTasks int `json:"total_sub_tasks"`
	// CompletedSubTasks counts sub-tasks that completed.
	CompletedSubTasks int `json:"completed_sub_tasks"`
	// FailedSubTasks counts sub-tasks that failed.
	FailedSubTasks int `json:"failed_sub_tasks"`
	// SuccessRate is round(completed/total*100).
	SuccessRate int `json:"success_rate"`
	// TotalDuration is the summed execution time across sub-tasks.
	TotalDuration time.Duration `json:"total_duration"`
	// AvgDuration is TotalDuration divided by sub-tasks that have a duration.
	AvgDuration time.Duration `json:"avg_duration"`
}

// SubTaskResult is the per-sub-task line item of an aggregated result.
type SubTaskResult struct {
	// SubTaskID identifies the sub-task.
	SubTaskID string `json:"sub_task_id"`
	// Title is the sub-task title.
	Title string `json:"title"`
	// WorkerName is the display name of the assigned worker, if any.
	WorkerName string `json:"worker_name,omitempty"`
	// Status is the sub-task's terminal status.
	Status SubTaskStatus `json:"status"`
	// Result is the output text, or the error placeholder for failures.
	Result string `json:"result,omitempty"`
	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`
	// Duration is the sub-task's wall-clock execution time.
	Duration time.Duration `json:"duration"`
	// RetryCount is how often the sub-task was resubmitted.
	RetryCount int `json:"retry_count"`
}

// AggregatedResult is the post-hoc compilation of all sub-task
// outcomes for one terminal task. Built by the result aggregator and
// cached for repeated export.
type AggregatedResult struct {
	// TaskID identifies the aggregated task.
	TaskID string `json:"task_id"`
	// Status classifies the overall outcome.
	Status OverallStatus `json:"status"`
	// Summary is a short natural-language description of the outcome.
	Summary string `json:"summary"`
	// Metrics holds the outcome counts and timings.
	Metrics Metrics `json:"metrics"`
	// Breakdown lists per-sub-task results in submission order.
	Breakdown []SubTaskResult `json:"breakdown"`
	// CreatedAt mirrors the task's creation time.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt mirrors the task's completion time.
	CompletedAt time.Time `json:"completed_at"`
}
