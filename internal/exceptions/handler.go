// Package exceptions classifies reported failures and applies the
// remediation policy: automatic retry, skip, reassign, escalate, or a
// human-intervention ticket. It is the single authority on what
// happens after a failure; the scheduler and executor only report.
package exceptions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/events"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/internal/store"
	"github.com/hivecrew/hivecrew/pkg/models"
)

// Control is the scheduler surface the handler drives remediation
// through. *scheduler.Scheduler satisfies this.
type Control interface {
	Resubmit(taskID, subTaskID, workerID string) error
	Skip(taskID, subTaskID, reason string)
	Abort(taskID, subTaskID, reason string)
	Pause(taskID, reason string)
	Resume(taskID string) error
	Cancel(taskID string)
}

// Notifier broadcasts a message to other workers. *collab.Bus
// satisfies this.
type Notifier interface {
	Broadcast(from string, to []string, msgType models.MessageType, content, taskID string) []error
}

// Archiver persists closed exception records for the audit trail.
type Archiver interface {
	RecordException(rec *models.ExceptionRecord) error
}

// Config holds remediation policy settings.
type Config struct {
	// MaxAutoRetries bounds auto-retry per (task, sub-task) pair.
	MaxAutoRetries int
	// AutoRetryDelay is the base delay; retry n waits AutoRetryDelay*n.
	AutoRetryDelay time.Duration
	// InterventionThreshold is the severity at or above which a ticket
	// is always opened.
	InterventionThreshold models.Severity
	// AutoRetryTimeouts allows auto-retry for watchdog timeouts.
	AutoRetryTimeouts bool
	// AutoEscalate marks high/critical records escalated instead of
	// leaving them pending for a human.
	AutoEscalate bool
	// PauseOnCritical pauses the owning task when a critical exception
	// opens a ticket.
	PauseOnCritical bool
}

// pauseRecord is the handler's bookkeeping for a paused task.
type pauseRecord struct {
	reason    string
	resumable bool
	pausedAt  time.Time
}

// Stats summarizes the exception audit trail for observability.
type Stats struct {
	Total         int                              `json:"total"`
	ByType        map[models.ExceptionType]int     `json:"by_type"`
	BySeverity    map[models.Severity]int          `json:"by_severity"`
	ByStatus      map[models.ExceptionStatus]int   `json:"by_status"`
	AwaitingHuman int                              `json:"awaiting_human"`
}

// Handler owns the exception record lifecycle. Records are never
// deleted; terminal records keep their resolution for the audit trail.
type Handler struct {
	control  Control
	pool     *pool.Pool
	store    *store.TaskStore
	notifier Notifier
	archiver Archiver
	emitter  *events.Emitter
	log      *zap.SugaredLogger
	cfg      Config

	mu      sync.Mutex
	records map[string]*models.ExceptionRecord
	order   []string
	retries map[string]int
	paused  map[string]*pauseRecord
}

// New creates a Handler. The notifier and archiver are optional.
func New(cfg Config, control Control, p *pool.Pool, s *store.TaskStore, em *events.Emitter, log *zap.SugaredLogger) *Handler {
	if cfg.MaxAutoRetries < 0 {
		cfg.MaxAutoRetries = 0
	}
	if !cfg.InterventionThreshold.Valid() {
		cfg.InterventionThreshold = models.SeverityHigh
	}
	return &Handler{
		control: control,
		pool:    p,
		store:   s,
		emitter: em,
		log:     log,
		cfg:     cfg,
		records: make(map[string]*models.ExceptionRecord),
		retries: make(map[string]int),
		paused:  make(map[string]*pauseRecord),
	}
}

// SetNotifier wires the collaboration bus used to inform other workers
// when a ticket opens.
func (h *Handler) SetNotifier(n Notifier) {
	h.notifier = n
}

// SetArchiver wires the audit-trail sink.
func (h *Handler) SetArchiver(a Archiver) {
	h.archiver = a
}

// Report records a failure and applies the remediation policy.
// Severity is taken as supplied by the reporting side.
func (h *Handler) Report(fr models.FailureReport) {
	if !fr.Type.Valid() {
		fr.Type = models.ExceptionUnknown
	}
	if !fr.Severity.Valid() {
		fr.Severity = models.SeverityMedium
	}

	rec := &models.ExceptionRecord{
		ID:        uuid.NewString()[:8],
		Type:      fr.Type,
		Severity:  fr.Severity,
		TaskID:    fr.TaskID,
		SubTaskID: fr.SubTaskID,
		WorkerID:  fr.WorkerID,
		Message:   fr.Message,
		Status:    models.ExceptionStatusPending,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.records[rec.ID] = rec
	h.order = append(h.order, rec.ID)
	h.mu.Unlock()

	h.emit(events.Event{
		Family: events.FamilyException, Type: events.ExceptionOccurred,
		TaskID: rec.TaskID, SubTaskID: rec.SubTaskID, WorkerID: rec.WorkerID,
		ExceptionID: rec.ID, Message: rec.Message,
		Intervention: &events.Intervention{Severity: string(rec.Severity)},
	})
	h.log.Warnf("[exceptions] %s (%s) on sub-task %s: %s", rec.Type, rec.Severity, rec.SubTaskID, rec.Message)

	if h.requiresHuman(rec) {
		h.openIntervention(rec, "")
		return
	}
	h.autoResolve(rec)
}

// requiresHuman decides whether an operator must weigh in: always for
// critical, always for validation and resource failures, otherwise by
// the configured severity threshold.
func (h *Handler) requiresHuman(rec *models.ExceptionRecord) bool {
	if rec.Severity == models.SeverityCritical {
		return true
	}
	if rec.Type == models.ExceptionValidationError || rec.Type == models.ExceptionResourceUnavailable {
		return true
	}
	return rec.Severity.Rank() >= h.cfg.InterventionThreshold.Rank()
}

// autoResolve applies the automatic strategy order: retry under the
// ceiling, then skip, reassign, or escalate by severity.
func (h *Handler) autoResolve(rec *models.ExceptionRecord) {
	h.setStatus(rec, models.ExceptionStatusAcknowledged)

	if h.tryAutoRetry(rec) {
		return
	}
	h.applyStrategy(rec)
}

// applyStrategy picks the non-retry remediation by severity: skip low,
// reassign medium, escalate or ticket high and critical.
func (h *Handler) applyStrategy(rec *models.ExceptionRecord) {
	switch rec.Severity {
	case models.SeverityLow:
		h.setStatus(rec, models.ExceptionStatusResolving)
		h.control.Skip(rec.TaskID, rec.SubTaskID, fmt.Sprintf("skipped: %s", rec.Message))
		h.resolve(rec, "skip", "auto", "")

	case models.SeverityMedium:
		h.reassign(rec, "auto", "")

	default:
		if h.cfg.AutoEscalate {
			h.escalate(rec)
			return
		}
		h.openIntervention(rec, "")
	}
}

// tryAutoRetry resubmits the sub-task if it is still under the retry
// ceiling and the exception type is retryable. Returns true when a
// retry was scheduled.
func (h *Handler) tryAutoRetry(rec *models.ExceptionRecord) bool {
	switch rec.Type {
	case models.ExceptionTaskFailure, models.ExceptionAgentError:
	case models.ExceptionTaskTimeout:
		if !h.cfg.AutoRetryTimeouts {
			return false
		}
	default:
		return false
	}

	key := retryKey(rec.TaskID, rec.SubTaskID)
	h.mu.Lock()
	count := h.retries[key]
	if count >= h.cfg.MaxAutoRetries {
		h.mu.Unlock()
		return false
	}
	h.retries[key] = count + 1
	h.mu.Unlock()

	h.setStatus(rec, models.ExceptionStatusResolving)
	delay := h.cfg.AutoRetryDelay * time.Duration(count+1)
	h.log.Infof("[exceptions] auto-retry %d/%d for sub-task %s in %v", count+1, h.cfg.MaxAutoRetries, rec.SubTaskID, delay)

	time.AfterFunc(delay, func() {
		if err := h.control.Resubmit(rec.TaskID, rec.SubTaskID, ""); err != nil {
			h.log.Errorf("[exceptions] auto-retry resubmit failed for sub-task %s: %v", rec.SubTaskID, err)
			h.applyStrategy(rec)
			return
		}
		h.resolve(rec, "auto_retry", "auto", fmt.Sprintf("attempt %d of %d", count+1, h.cfg.MaxAutoRetries))
	})
	return true
}

// reassign moves the sub-task to another idle worker, or opens a
// ticket when no candidate exists.
func (h *Handler) reassign(rec *models.ExceptionRecord, by, notes string) {
	var skills []string
	if sub := h.store.SubTask(rec.SubTaskID); sub != nil {
		skills = sub.RequiredSkills
	}

	worker := h.pool.SelectExcluding(skills, rec.WorkerID)
	if worker == nil {
		h.openIntervention(rec, "no idle worker available for reassignment")
		return
	}

	h.setStatus(rec, models.ExceptionStatusResolving)
	if err := h.control.Resubmit(rec.TaskID, rec.SubTaskID, worker.ID); err != nil {
		h.log.Errorf("[exceptions] reassign resubmit failed for sub-task %s: %v", rec.SubTaskID, err)
		h.openIntervention(rec, fmt.Sprintf("reassignment failed: %v", err))
		return
	}
	h.log.Infof("[exceptions] reassigned sub-task %s from worker %s to %s", rec.SubTaskID, rec.WorkerID, worker.ID)
	h.resolve(rec, "reassign", by, joinNotes(notes, fmt.Sprintf("reassigned to %s", worker.ID)))
}

// escalate marks the record escalated and opens a ticket so an
// operator can still act on it.
func (h *Handler) escalate(rec *models.ExceptionRecord) {
	h.setStatus(rec, models.ExceptionStatusEscalated)
	h.archive(rec)
	h.openIntervention(rec, "auto-escalated")
}

// openIntervention opens a human-intervention ticket, optionally
// pausing the owning task and notifying up to two other workers.
func (h *Handler) openIntervention(rec *models.ExceptionRecord, note string) {
	h.mu.Lock()
	rec.RequiresHuman = true
	switch {
	case rec.Intervention == nil:
		rec.Intervention = &models.InterventionTicket{
			RequestedAt: time.Now(),
			Decision:    models.DecisionPending,
			Notes:       note,
		}
	case rec.Intervention.Decision != models.DecisionPending:
		// The operator's decision could not be carried out; reopen the
		// ticket so it shows up in the queue and accepts a new answer.
		rec.Intervention.Decision = models.DecisionPending
		rec.Intervention.RequestedAt = time.Now()
		rec.Intervention.RespondedAt = nil
		rec.Intervention.Notes = joinNotes(rec.Intervention.Notes, note)
	}
	h.mu.Unlock()

	if h.cfg.PauseOnCritical && rec.Severity == models.SeverityCritical && rec.TaskID != "" {
		h.pauseTask(rec.TaskID, fmt.Sprintf("critical exception %s", rec.ID), true)
	}

	h.notifyWorkers(rec)

	h.emit(events.Event{
		Family: events.FamilyException, Type: events.InterventionRequired,
		TaskID: rec.TaskID, SubTaskID: rec.SubTaskID, WorkerID: rec.WorkerID,
		ExceptionID: rec.ID, Message: rec.Message,
		Intervention: &events.Intervention{
			Severity: string(rec.Severity),
			Decision: string(models.DecisionPending),
		},
	})
	h.log.Warnf("[exceptions] human intervention required for %s (%s)", rec.ID, rec.Severity)
}

// notifyWorkers informs up to two other workers about an open ticket.
func (h *Handler) notifyWorkers(rec *models.ExceptionRecord) {
	if h.notifier == nil || rec.WorkerID == "" {
		return
	}
	var recipients []string
	for _, w := range h.pool.List() {
		if w.ID == rec.WorkerID {
			continue
		}
		recipients = append(recipients, w.ID)
		if len(recipients) == 2 {
			break
		}
	}
	if len(recipients) == 0 {
		return
	}
	content := fmt.Sprintf("Exception %s on sub-task %s requires human intervention: %s", rec.ID, rec.SubTaskID, rec.Message)
	if errs := h.notifier.Broadcast(rec.WorkerID, recipients, models.MessageNotification, content, rec.TaskID); len(errs) > 0 {
		h.log.Debugf("[exceptions] %d notification(s) failed for %s", len(errs), rec.ID)
	}
}

// Respond applies an operator's decision to an open ticket. A manual
// retry resets the auto-retry counter first.
func (h *Handler) Respond(exceptionID string, decision models.InterventionDecision, respondedBy, notes string) error {
	if !decision.Valid() {
		return fmt.Errorf("invalid decision %q", decision)
	}

	h.mu.Lock()
	rec, ok := h.records[exceptionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("unknown exception %s", exceptionID)
	}
	if rec.Intervention == nil || rec.Intervention.Decision != models.DecisionPending {
		h.mu.Unlock()
		return fmt.Errorf("exception %s has no pending intervention", exceptionID)
	}
	now := time.Now()
	rec.Intervention.Decision = decision
	rec.Intervention.RespondedBy = respondedBy
	rec.Intervention.Notes = joinNotes(rec.Intervention.Notes, notes)
	rec.Intervention.RespondedAt = &now
	h.mu.Unlock()

	h.emit(events.Event{
		Family: events.FamilyException, Type: events.InterventionResponded,
		TaskID: rec.TaskID, SubTaskID: rec.SubTaskID, ExceptionID: rec.ID,
		Message: notes,
		Intervention: &events.Intervention{
			Severity: string(rec.Severity),
			Decision: string(decision),
		},
	})
	h.log.Infof("[exceptions] %s answered %s by %s", rec.ID, decision, respondedBy)

	switch decision {
	case models.DecisionRetry:
		h.mu.Lock()
		delete(h.retries, retryKey(rec.TaskID, rec.SubTaskID))
		h.mu.Unlock()
		if err := h.control.Resubmit(rec.TaskID, rec.SubTaskID, ""); err != nil {
			return err
		}
		h.resolve(rec, "retry", respondedBy, notes)

	case models.DecisionSkip:
		h.control.Skip(rec.TaskID, rec.SubTaskID, fmt.Sprintf("skipped by %s: %s", respondedBy, rec.Message))
		h.resolve(rec, "skip", respondedBy, notes)

	case models.DecisionAbort:
		h.control.Abort(rec.TaskID, rec.SubTaskID, fmt.Sprintf("aborted by %s", respondedBy))
		h.resolve(rec, "abort", respondedBy, notes)

	case models.DecisionReassign:
		h.reassign(rec, respondedBy, notes)
	}
	return nil
}

// PauseTask suspends dispatch for a task and records it as resumable.
func (h *Handler) PauseTask(taskID, reason string) {
	h.pauseTask(taskID, reason, true)
}

func (h *Handler) pauseTask(taskID, reason string, resumable bool) {
	h.mu.Lock()
	if _, already := h.paused[taskID]; already {
		h.mu.Unlock()
		return
	}
	h.paused[taskID] = &pauseRecord{reason: reason, resumable: resumable, pausedAt: time.Now()}
	h.mu.Unlock()

	h.control.Pause(taskID, reason)
}

// ResumeTask clears a pause and triggers a fresh dispatch pass. Tasks
// paused as non-resumable reject the attempt.
func (h *Handler) ResumeTask(taskID string) error {
	h.mu.Lock()
	pr, ok := h.paused[taskID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("task %s is not paused", taskID)
	}
	if !pr.resumable {
		h.mu.Unlock()
		return fmt.Errorf("task %s cannot be resumed (%s)", taskID, pr.reason)
	}
	delete(h.paused, taskID)
	h.mu.Unlock()

	return h.control.Resume(taskID)
}

// CancelTask cancels a task and records it as permanently paused so
// resume attempts are rejected.
func (h *Handler) CancelTask(taskID string) {
	h.mu.Lock()
	h.paused[taskID] = &pauseRecord{reason: "cancelled", resumable: false, pausedAt: time.Now()}
	h.mu.Unlock()

	h.control.Cancel(taskID)
}

// setStatus transitions a record's lifecycle status, emitting the
// acknowledgement event on that edge.
func (h *Handler) setStatus(rec *models.ExceptionRecord, status models.ExceptionStatus) {
	h.mu.Lock()
	rec.Status = status
	h.mu.Unlock()

	if status == models.ExceptionStatusAcknowledged {
		h.emit(events.Event{
			Family: events.FamilyException, Type: events.ExceptionAcknowledged,
			TaskID: rec.TaskID, SubTaskID: rec.SubTaskID, ExceptionID: rec.ID,
		})
	}
}

// resolve closes a record with its resolution and archives it.
func (h *Handler) resolve(rec *models.ExceptionRecord, action, by, notes string) {
	h.mu.Lock()
	rec.Status = models.ExceptionStatusResolved
	rec.Resolution = &models.Resolution{
		Action:     action,
		ResolvedBy: by,
		Notes:      notes,
		ResolvedAt: time.Now(),
	}
	h.mu.Unlock()

	h.emit(events.Event{
		Family: events.FamilyException, Type: events.ExceptionResolved,
		TaskID: rec.TaskID, SubTaskID: rec.SubTaskID, ExceptionID: rec.ID,
		Message: action,
	})
	h.archive(rec)
}

func (h *Handler) archive(rec *models.ExceptionRecord) {
	if h.archiver == nil {
		return
	}
	if err := h.archiver.RecordException(rec); err != nil {
		h.log.Errorf("[exceptions] archiving %s: %v", rec.ID, err)
	}
}

// Record returns the exception record for an ID, or nil if unknown.
func (h *Handler) Record(exceptionID string) *models.ExceptionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records[exceptionID]
}

// Pending returns unresolved records sorted critical > high > medium >
// low, ties by creation order.
func (h *Handler) Pending() []*models.ExceptionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*models.ExceptionRecord
	for _, id := range h.order {
		rec := h.records[id]
		switch rec.Status {
		case models.ExceptionStatusResolved, models.ExceptionStatusEscalated:
		default:
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// AwaitingHuman returns records with an unanswered intervention ticket.
func (h *Handler) AwaitingHuman() []*models.ExceptionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*models.ExceptionRecord
	for _, id := range h.order {
		rec := h.records[id]
		if rec.RequiresHuman && rec.Intervention != nil && rec.Intervention.Decision == models.DecisionPending {
			out = append(out, rec)
		}
	}
	return out
}

// Stats returns per-type/severity/status counts.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		ByType:     make(map[models.ExceptionType]int),
		BySeverity: make(map[models.Severity]int),
		ByStatus:   make(map[models.ExceptionStatus]int),
	}
	for _, rec := range h.records {
		st.Total++
		st.ByType[rec.Type]++
		st.BySeverity[rec.Severity]++
		st.ByStatus[rec.Status]++
		if rec.RequiresHuman && rec.Intervention != nil && rec.Intervention.Decision == models.DecisionPending {
			st.AwaitingHuman++
		}
	}
	return st
}

func (h *Handler) emit(ev events.Event) {
	if h.emitter != nil {
		h.emitter.Emit(ev)
	}
}

func retryKey(taskID, subTaskID string) string {
	return taskID + "/" + subTaskID
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
