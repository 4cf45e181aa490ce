package models

import "time"

// MessageType classifies a collaboration message.
type MessageType string

const (
	MessageQuestion      MessageType = "question"
	MessageAnswer        MessageType = "answer"
	MessageSuggestion    MessageType = "suggestion"
	MessageNotification  MessageType = "notification"
	MessageHandoff       MessageType = "handoff"
	MessageClarification MessageType = "clarification"
	MessageEscalation    MessageType = "escalation"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageQuestion, MessageAnswer, MessageSuggestion, MessageNotification,
		MessageHandoff, MessageClarification, MessageEscalation:
		return true
	default:
		return false
	}
}

// Urgency ranks how quickly a message should be attended to.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Valid returns true if the urgency is a known value.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	default:
		return false
	}
}

// CollaborationMessage is a single worker-to-worker message.
// Messages are immutable once created. Answers always set
// ParentMessageID so reply detection does not depend on ordering.
type CollaborationMessage struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// SessionID is the owning collaboration session.
	SessionID string `json:"session_id"`
	// Type classifies the message.
	Type MessageType `json:"type"`
	// From is the sending worker's ID.
	From string `json:"from"`
	// To is the receiving worker's ID.
	To string `json:"to"`
	// Content is the message body.
	Content string `json:"content"`
	// ParentMessageID links a reply to the message it answers, if any.
	ParentMessageID string `json:"parent_message_id,omitempty"`
	// Urgency ranks attention priority.
	Urgency Urgency `json:"urgency"`
	// RequiresResponse marks messages that expect an answer.
	RequiresResponse bool `json:"requires_response"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
}

// SessionStatus tracks the lifecycle of a collaboration session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionClosed SessionStatus = "closed"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionClosed:
		return true
	default:
		return false
	}
}

// CollaborationSession groups the messages exchanged between two
// workers for one task. Sessions are created lazily on first contact.
type CollaborationSession struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// TaskID is the owning task.
	TaskID string `json:"task_id"`
	// Participants lists the worker IDs sharing this session.
	Participants []string `json:"participants"`
	// Messages holds the ordered message history.
	Messages []*CollaborationMessage `json:"messages"`
	// Status tracks the session lifecycle.
	Status SessionStatus `json:"status"`
	// CreatedAt is when the session was opened.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the last message was appended.
	UpdatedAt time.Time `json:"updated_at"`
	// ClosedAt is when the session was closed, if it has been.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// HasParticipant returns true if the worker is part of this session.
func (s *CollaborationSession) HasParticipant(workerID string) bool {
	for _, p := range s.Participants {
		if p == workerID {
			return true
		}
	}
	return false
}

// ConversationRecord is the immutable archival snapshot of a closed session.
type ConversationRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// SessionID is the session this record was built from.
	SessionID string `json:"session_id"`
	// TaskID is the owning task.
	TaskID string `json:"task_id"`
	// Participants lists the worker names involved.
	Participants []string `json:"participants"`
	// Summary is a generated one-line description of the conversation.
	Summary string `json:"summary"`
	// MessageCount is the number of messages exchanged.
	MessageCount int `json:"message_count"`
	// MessageTypes lists the distinct message types seen, sorted.
	MessageTypes []string `json:"message_types"`
	// Duration is the span from session creation to close.
	Duration time.Duration `json:"duration"`
	// ClosedAt is when the session was closed.
	ClosedAt time.Time `json:"closed_at"`
}
