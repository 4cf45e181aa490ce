// Package collab provides peer-to-peer and broadcast messaging between
// workers, organized into per-task sessions. Delivery goes through the
// target worker's capability, so the addressee's own processing can
// become its reply.
package collab

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/internal/events"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/pkg/models"
)

// Archiver persists conversation records when sessions close.
type Archiver interface {
	RecordConversation(rec *models.ConversationRecord) error
}

// SendRequest describes one message to deliver.
type SendRequest struct {
	From    string
	To      string
	Type    models.MessageType
	Content string
	TaskID  string
	// Urgency defaults to normal.
	Urgency models.Urgency
	// RequireResponse schedules an automatic answer built from the
	// target's processing output.
	RequireResponse bool
}

// Overview is a point-in-time snapshot of collaboration activity.
type Overview struct {
	ActiveSessions   int                  `json:"active_sessions"`
	TotalMessages    int                  `json:"total_messages"`
	PendingResponses int                  `json:"pending_responses"`
	LastActivity     map[string]time.Time `json:"last_activity"`
}

// Config holds messaging settings.
type Config struct {
	// ReplyDelay is the pause before an automatic answer is delivered.
	ReplyDelay time.Duration
	// PurgeGrace is how long a closed session object stays queryable
	// before the live object is dropped. The archival record persists.
	PurgeGrace time.Duration
}

// Bus routes messages between workers. Sessions are created lazily on
// first contact between two workers for a task.
type Bus struct {
	pool     *pool.Pool
	emitter  *events.Emitter
	archiver Archiver
	log      *zap.SugaredLogger

	replyDelay time.Duration
	purgeGrace time.Duration

	mu       sync.Mutex
	sessions map[string]*models.CollaborationSession
	byWorker map[string]map[string]bool
	records  map[string]*models.ConversationRecord
}

// New creates a Bus.
func New(cfg Config, p *pool.Pool, em *events.Emitter, log *zap.SugaredLogger) *Bus {
	if cfg.ReplyDelay <= 0 {
		cfg.ReplyDelay = 500 * time.Millisecond
	}
	if cfg.PurgeGrace <= 0 {
		cfg.PurgeGrace = 5 * time.Minute
	}
	return &Bus{
		pool:       p,
		emitter:    em,
		log:        log,
		replyDelay: cfg.ReplyDelay,
		purgeGrace: cfg.PurgeGrace,
		sessions:   make(map[string]*models.CollaborationSession),
		byWorker:   make(map[string]map[string]bool),
		records:    make(map[string]*models.ConversationRecord),
	}
}

// SetArchiver wires the conversation-record sink.
func (b *Bus) SetArchiver(a Archiver) {
	b.archiver = a
}

// Send delivers one message, creating a session for the pair if none
// is active. The message is recorded even when delivery fails, so the
// history stays complete.
func (b *Bus) Send(req SendRequest) (*models.CollaborationMessage, error) {
	if req.From == req.To {
		return nil, fmt.Errorf("worker %s cannot message itself", req.From)
	}
	sender := b.pool.Get(req.From)
	target := b.pool.Get(req.To)
	if sender == nil {
		return nil, fmt.Errorf("unknown sender %s", req.From)
	}
	if target == nil {
		return nil, fmt.Errorf("unknown recipient %s", req.To)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("invalid message type %q", req.Type)
	}
	if !req.Urgency.Valid() {
		req.Urgency = models.UrgencyNormal
	}

	session := b.resolveSession(req.From, req.To, req.TaskID)
	msg := &models.CollaborationMessage{
		ID:               uuid.NewString()[:8],
		SessionID:        session.ID,
		Type:             req.Type,
		From:             req.From,
		To:               req.To,
		Content:          req.Content,
		Urgency:          req.Urgency,
		RequiresResponse: req.RequireResponse,
		Timestamp:        time.Now(),
	}
	b.appendMessage(session, msg)

	b.emit(events.Event{
		Family: events.FamilyCollaboration, Type: events.MessageSent,
		TaskID: req.TaskID, WorkerID: req.From,
		SessionID: session.ID, MessageID: msg.ID,
		Message: string(req.Type),
	})

	output, err := b.deliver(sender, target, msg)
	if err != nil {
		b.log.Warnf("[collab] delivery to %s failed: %v", req.To, err)
		return msg, fmt.Errorf("delivering message %s to %s: %w", msg.ID, req.To, err)
	}

	b.emit(events.Event{
		Family: events.FamilyCollaboration, Type: events.MessageReceived,
		TaskID: req.TaskID, WorkerID: req.To,
		SessionID: session.ID, MessageID: msg.ID,
	})

	if req.RequireResponse && strings.TrimSpace(output) != "" {
		b.scheduleReply(session.ID, msg, output)
	}
	return msg, nil
}

// Broadcast fans out a message to every recipient except the sender,
// collecting partial failures without aborting the whole broadcast.
func (b *Bus) Broadcast(from string, to []string, msgType models.MessageType, content, taskID string) []error {
	var errs []error
	for _, recipient := range to {
		if recipient == from {
			continue
		}
		if _, err := b.Send(SendRequest{
			From:    from,
			To:      recipient,
			Type:    msgType,
			Content: content,
			TaskID:  taskID,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// resolveSession finds the active session shared by the two workers
// for the task, or creates one.
func (b *Bus) resolveSession(a, c, taskID string) *models.CollaborationSession {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.sessions {
		if s.Status == models.SessionActive && s.TaskID == taskID &&
			s.HasParticipant(a) && s.HasParticipant(c) {
			return s
		}
	}

	session := &models.CollaborationSession{
		ID:           uuid.NewString()[:8],
		TaskID:       taskID,
		Participants: []string{a, c},
		Status:       models.SessionActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	b.sessions[session.ID] = session
	for _, w := range session.Participants {
		if b.byWorker[w] == nil {
			b.byWorker[w] = make(map[string]bool)
		}
		b.byWorker[w][session.ID] = true
	}

	b.emit(events.Event{
		Family: events.FamilyCollaboration, Type: events.SessionCreated,
		TaskID: taskID, SessionID: session.ID,
	})
	b.log.Debugf("[collab] session %s created for %s and %s", session.ID, a, c)
	return session
}

func (b *Bus) appendMessage(session *models.CollaborationSession, msg *models.CollaborationMessage) {
	b.mu.Lock()
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = msg.Timestamp
	b.mu.Unlock()
}

// deliver invokes the target worker's capability with a context block
// around the raw content, returning the target's output.
func (b *Bus) deliver(sender, target *models.Worker, msg *models.CollaborationMessage) (string, error) {
	capability, ok := b.pool.Capability(target.ID)
	if !ok {
		return "", fmt.Errorf("worker %s has no capability", target.ID)
	}

	var block strings.Builder
	fmt.Fprintf(&block, "Message from %s to %s at %s\n", sender.Name, target.Name, msg.Timestamp.Format(time.RFC3339))
	if msg.SessionID != "" {
		fmt.Fprintf(&block, "Session: %s\n", msg.SessionID)
	}
	fmt.Fprintf(&block, "Type: %s\n", msg.Type)
	if msg.RequiresResponse {
		block.WriteString("A response is expected.\n")
	}
	if msg.Urgency == models.UrgencyHigh {
		block.WriteString("This is urgent.\n")
	}
	fmt.Fprintf(&block, "\n%s", msg.Content)

	return capability.Chat(context.Background(), []chat.Message{
		{Role: chat.RoleUser, Content: block.String()},
	})
}

// scheduleReply turns the target's processing output into an automatic
// answer back to the sender after a short delay. The answer always
// sets ParentMessageID so pending-response detection stays accurate.
func (b *Bus) scheduleReply(sessionID string, parent *models.CollaborationMessage, output string) {
	time.AfterFunc(b.replyDelay, func() {
		b.mu.Lock()
		session, ok := b.sessions[sessionID]
		if !ok || session.Status != models.SessionActive {
			b.mu.Unlock()
			return
		}
		reply := &models.CollaborationMessage{
			ID:              uuid.NewString()[:8],
			SessionID:       sessionID,
			Type:            models.MessageAnswer,
			From:            parent.To,
			To:              parent.From,
			Content:         output,
			ParentMessageID: parent.ID,
			Urgency:         parent.Urgency,
			Timestamp:       time.Now(),
		}
		session.Messages = append(session.Messages, reply)
		session.UpdatedAt = reply.Timestamp
		taskID := session.TaskID
		b.mu.Unlock()

		b.emit(events.Event{
			Family: events.FamilyCollaboration, Type: events.MessageSent,
			TaskID: taskID, WorkerID: reply.From,
			SessionID: sessionID, MessageID: reply.ID,
			Message: string(models.MessageAnswer),
		})
		b.log.Debugf("[collab] auto-reply %s answers %s in session %s", reply.ID, parent.ID, sessionID)
	})
}

// Close marks a session closed, optionally snapshotting it into an
// immutable ConversationRecord. The live object is purged after a
// grace period; the record persists.
func (b *Bus) Close(sessionID string, saveRecord bool) (*models.ConversationRecord, error) {
	b.mu.Lock()
	session, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if session.Status == models.SessionClosed {
		b.mu.Unlock()
		return b.records[sessionID], nil
	}

	now := time.Now()
	session.Status = models.SessionClosed
	session.ClosedAt = &now
	for _, w := range session.Participants {
		delete(b.byWorker[w], sessionID)
	}

	var record *models.ConversationRecord
	if saveRecord {
		record = b.buildRecord(session, now)
		b.records[sessionID] = record
	}
	taskID := session.TaskID
	b.mu.Unlock()

	b.emit(events.Event{
		Family: events.FamilyCollaboration, Type: events.SessionClosed,
		TaskID: taskID, SessionID: sessionID,
	})
	b.log.Debugf("[collab] session %s closed (record=%v)", sessionID, saveRecord)

	if record != nil && b.archiver != nil {
		if err := b.archiver.RecordConversation(record); err != nil {
			b.log.Errorf("[collab] archiving session %s: %v", sessionID, err)
		}
	}

	time.AfterFunc(b.purgeGrace, func() {
		b.mu.Lock()
		delete(b.sessions, sessionID)
		b.mu.Unlock()
	})
	return record, nil
}

// buildRecord snapshots a closed session. Caller holds mu.
func (b *Bus) buildRecord(session *models.CollaborationSession, closedAt time.Time) *models.ConversationRecord {
	names := make([]string, 0, len(session.Participants))
	for _, id := range session.Participants {
		if w := b.pool.Get(id); w != nil {
			names = append(names, w.Name)
		} else {
			names = append(names, id)
		}
	}

	typeSet := make(map[string]bool)
	for _, m := range session.Messages {
		typeSet[string(m.Type)] = true
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	duration := closedAt.Sub(session.CreatedAt)
	summary := fmt.Sprintf("%s exchanged %d message(s) (%s) over %s",
		strings.Join(names, " and "), len(session.Messages),
		strings.Join(types, ", "), duration.Round(time.Second))

	return &models.ConversationRecord{
		ID:           uuid.NewString()[:8],
		SessionID:    session.ID,
		TaskID:       session.TaskID,
		Participants: names,
		Summary:      summary,
		MessageCount: len(session.Messages),
		MessageTypes: types,
		Duration:     duration,
		ClosedAt:     closedAt,
	}
}

// Session returns the live session for an ID, or nil if unknown or
// already purged.
func (b *Bus) Session(sessionID string) *models.CollaborationSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[sessionID]
}

// Record returns the archival record for a closed session, if any.
func (b *Bus) Record(sessionID string) *models.ConversationRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records[sessionID]
}

// PendingResponses returns messages that expect an answer and have not
// received one. A reply is any message whose ParentMessageID points at
// the original.
func (b *Bus) PendingResponses() []*models.CollaborationMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingLocked()
}

func (b *Bus) pendingLocked() []*models.CollaborationMessage {
	answered := make(map[string]bool)
	for _, s := range b.sessions {
		for _, m := range s.Messages {
			if m.ParentMessageID != "" {
				answered[m.ParentMessageID] = true
			}
		}
	}

	var out []*models.CollaborationMessage
	for _, s := range b.sessions {
		for _, m := range s.Messages {
			if m.RequiresResponse && !answered[m.ID] {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// History returns all messages exchanged between two workers across
// live sessions, oldest first.
func (b *Bus) History(workerA, workerB string) []*models.CollaborationMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*models.CollaborationMessage
	for _, s := range b.sessions {
		if !s.HasParticipant(workerA) || !s.HasParticipant(workerB) {
			continue
		}
		for _, m := range s.Messages {
			if (m.From == workerA && m.To == workerB) || (m.From == workerB && m.To == workerA) {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// GetOverview summarizes collaboration activity.
func (b *Bus) GetOverview() Overview {
	b.mu.Lock()
	defer b.mu.Unlock()

	ov := Overview{LastActivity: make(map[string]time.Time)}
	for _, s := range b.sessions {
		if s.Status == models.SessionActive {
			ov.ActiveSessions++
		}
		ov.TotalMessages += len(s.Messages)
		for _, m := range s.Messages {
			if m.Timestamp.After(ov.LastActivity[m.From]) {
				ov.LastActivity[m.From] = m.Timestamp
			}
		}
	}
	ov.PendingResponses = len(b.pendingLocked())
	return ov
}

// CloseAll closes every active session, saving records.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	var ids []string
	for id, s := range b.sessions {
		if s.Status == models.SessionActive {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		if _, err := b.Close(id, true); err != nil {
			b.log.Warnf("[collab] closing session %s: %v", id, err)
		}
	}
}

func (b *Bus) emit(ev events.Event) {
	if b.emitter != nil {
		b.emitter.Emit(ev)
	}
}
