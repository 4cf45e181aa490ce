package models

import "time"

// ExceptionType classifies a reported failure.
type ExceptionType string

const (
	// ExceptionTaskFailure indicates a sub-task execution failed after executor retries.
	ExceptionTaskFailure ExceptionType = "task_failure"
	// ExceptionTaskTimeout indicates the watchdog aborted a running sub-task.
	ExceptionTaskTimeout ExceptionType = "task_timeout"
	// ExceptionAgentError indicates the worker capability itself misbehaved.
	ExceptionAgentError ExceptionType = "agent_error"
	// ExceptionDependencyFail indicates an upstream dependency failed permanently.
	ExceptionDependencyFail ExceptionType = "dependency_fail"
	// ExceptionResourceUnavailable indicates a required resource was missing.
	ExceptionResourceUnavailable ExceptionType = "resource_unavailable"
	// ExceptionValidationError indicates structurally invalid input or output.
	ExceptionValidationError ExceptionType = "validation_error"
	// ExceptionUnknown is the fallback classification.
	ExceptionUnknown ExceptionType = "unknown"
)

// Valid returns true if the type is a known value.
func (t ExceptionType) Valid() bool {
	switch t {
	case ExceptionTaskFailure, ExceptionTaskTimeout, ExceptionAgentError,
		ExceptionDependencyFail, ExceptionResourceUnavailable,
		ExceptionValidationError, ExceptionUnknown:
		return true
	default:
		return false
	}
}

// Severity ranks how serious a reported failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank returns a comparable weight: critical > high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// ExceptionStatus tracks the lifecycle of an exception record.
type ExceptionStatus string

const (
	ExceptionStatusPending      ExceptionStatus = "pending"
	ExceptionStatusAcknowledged ExceptionStatus = "acknowledged"
	ExceptionStatusResolving    ExceptionStatus = "resolving"
	ExceptionStatusResolved     ExceptionStatus = "resolved"
	ExceptionStatusEscalated    ExceptionStatus = "escalated"
)

// Valid returns true if the status is a known value.
func (s ExceptionStatus) Valid() bool {
	switch s {
	case ExceptionStatusPending, ExceptionStatusAcknowledged,
		ExceptionStatusResolving, ExceptionStatusResolved, ExceptionStatusEscalated:
		return true
	default:
		return false
	}
}

// InterventionDecision is an operator's answer to a human-intervention ticket.
type InterventionDecision string

const (
	DecisionRetry    InterventionDecision = "retry"
	DecisionSkip     InterventionDecision = "skip"
	DecisionAbort    InterventionDecision = "abort"
	DecisionReassign InterventionDecision = "reassign"
	// DecisionPending marks a ticket that has not been answered yet.
	DecisionPending InterventionDecision = "pending"
)

// Valid returns true if the decision is an actionable value.
func (d InterventionDecision) Valid() bool {
	switch d {
	case DecisionRetry, DecisionSkip, DecisionAbort, DecisionReassign:
		return true
	default:
		return false
	}
}

// InterventionTicket tracks a human-intervention request and its response.
type InterventionTicket struct {
	// RequestedAt is when the ticket was opened.
	RequestedAt time.Time `json:"requested_at"`
	// Decision is the operator's choice, or DecisionPending.
	Decision InterventionDecision `json:"decision"`
	// RespondedBy identifies who answered the ticket.
	RespondedBy string `json:"responded_by,omitempty"`
	// Notes carries the operator's free-form explanation.
	Notes string `json:"notes,omitempty"`
	// RespondedAt is when the ticket was answered, if it has been.
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Resolution records how an exception was closed.
type Resolution struct {
	// Action names the remediation applied (auto_retry, skip, reassign, abort, retry).
	Action string `json:"action"`
	// ResolvedBy identifies the deciding party ("auto" or an operator name).
	ResolvedBy string `json:"resolved_by"`
	// Notes carries additional context about the resolution.
	Notes string `json:"notes,omitempty"`
	// ResolvedAt is when the resolution was applied.
	ResolvedAt time.Time `json:"resolved_at"`
}

// ExceptionRecord is the audit-trail entry for a reported failure.
// Records are never deleted; terminal records keep their resolution.
type ExceptionRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// Type classifies the failure.
	Type ExceptionType `json:"type"`
	// Severity is supplied by the reporting component.
	Severity Severity `json:"severity"`
	// TaskID is the owning task.
	TaskID string `json:"task_id"`
	// SubTaskID is the sub-task the failure relates to.
	SubTaskID string `json:"sub_task_id"`
	// WorkerID is the worker involved, if any.
	WorkerID string `json:"worker_id,omitempty"`
	// Message is the failure description.
	Message string `json:"message"`
	// Status tracks the record's lifecycle.
	Status ExceptionStatus `json:"status"`
	// RequiresHuman indicates a human-intervention ticket was opened.
	RequiresHuman bool `json:"requires_human"`
	// Intervention is the open or answered human-intervention ticket, if any.
	Intervention *InterventionTicket `json:"intervention,omitempty"`
	// Resolution records how the exception was closed, if it has been.
	Resolution *Resolution `json:"resolution,omitempty"`
	// CreatedAt is when the failure was reported.
	CreatedAt time.Time `json:"created_at"`
}

// FailureReport is what execution components hand to the exception
// handler. Severity is assigned by the reporting side.
type FailureReport struct {
	Type      ExceptionType
	Severity  Severity
	TaskID    string
	SubTaskID string
	WorkerID  string
	Message   string
}
