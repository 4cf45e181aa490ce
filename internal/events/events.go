// Package events defines the tagged event stream emitted by the
// orchestration engine. Delivery is at-least-once and ordered only
// within a single component's own stream, not globally.
package events

import "time"

// Family identifies which component emitted an event.
type Family string

const (
	FamilyScheduler     Family = "scheduler"
	FamilyExecutor      Family = "executor"
	FamilyCollaboration Family = "collaboration"
	FamilyException     Family = "exception"
)

// Type is the event kind within a family.
type Type string

// Scheduler events.
const (
	TaskQueued    Type = "task_queued"
	TaskStarted   Type = "task_started"
	TaskCompleted Type = "task_completed"
	TaskFailed    Type = "task_failed"
	TaskTimeout   Type = "task_timeout"
	QueueUpdated  Type = "queue_updated"
)

// Executor events.
const (
	ExecStart    Type = "task_start"
	ExecProgress Type = "task_progress"
	ExecStream   Type = "task_stream"
	ExecComplete Type = "task_complete"
	ExecFailed   Type = "task_failed"
	ExecRetry    Type = "task_retry"
)

// Collaboration events.
const (
	MessageSent     Type = "message_sent"
	MessageReceived Type = "message_received"
	SessionCreated  Type = "session_created"
	SessionClosed   Type = "session_closed"
)

// Exception events.
const (
	ExceptionOccurred     Type = "exception_occurred"
	ExceptionAcknowledged Type = "exception_acknowledged"
	ExceptionResolved     Type = "exception_resolved"
	InterventionRequired  Type = "human_intervention_required"
	InterventionResponded Type = "human_intervention_responded"
)

// Progress carries executor progress details.
type Progress struct {
	// Percent is the heuristic completion estimate (0-100).
	Percent int
	// Accumulated is the current output length in bytes.
	Accumulated int
}

// Stream carries one batch of streamed output.
type Stream struct {
	// Delta is the text produced since the previous stream event.
	Delta string
}

// Retry carries executor retry details.
type Retry struct {
	// Attempt is the upcoming attempt number (1-indexed).
	Attempt int
	// Delay is the backoff applied before the attempt.
	Delay time.Duration
}

// Queue carries a scheduler queue snapshot.
type Queue struct {
	Queued         int
	Running        int
	MaxConcurrency int
}

// Intervention carries exception workflow details.
type Intervention struct {
	Severity string
	Decision string
}

// Event is one entry on the outbound stream. The Family tag
// disambiguates types that exist in more than one family
// (scheduler task_failed vs executor task_failed).
type Event struct {
	Family    Family
	Type      Type
	Timestamp time.Time

	TaskID      string
	SubTaskID   string
	WorkerID    string
	ExceptionID string
	SessionID   string
	MessageID   string

	// Message provides human-readable context.
	Message string
	// Err carries failure details for failure events.
	Err error

	// Exactly one payload pointer is set for events that carry data.
	Progress     *Progress
	Stream       *Stream
	Retry        *Retry
	Queue        *Queue
	Intervention *Intervention
}

// UnixMilli returns the event timestamp in milliseconds, the unit the
// transport layer exposes.
func (e Event) UnixMilli() int64 {
	return e.Timestamp.UnixMilli()
}
