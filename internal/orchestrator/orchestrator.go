// Package orchestrator wires the engine components together and
// exposes the public API the CLI talks to: submit plans, control
// running tasks, answer intervention tickets, send collaboration
// messages, and export reports.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/aggregate"
	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/internal/collab"
	"github.com/hivecrew/hivecrew/internal/config"
	"github.com/hivecrew/hivecrew/internal/events"
	"github.com/hivecrew/hivecrew/internal/exceptions"
	"github.com/hivecrew/hivecrew/internal/executor"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/internal/scheduler"
	"github.com/hivecrew/hivecrew/internal/store"
	"github.com/hivecrew/hivecrew/pkg/models"
)

const eventBufferSize = 256

// Archiver receives both exception records and conversation records.
// The SQLite archive satisfies it; a nil archiver disables archiving.
type Archiver interface {
	exceptions.Archiver
	collab.Archiver
}

// CapabilityFactory builds the chat capability for a persona. The CLI
// supplies one backed by the Claude API, or a scripted one for dry runs.
type CapabilityFactory func(p pool.Persona) (chat.Streamer, error)

// Option configures an Orchestrator beyond what config.Config carries.
type Option func(*Orchestrator)

// WithArchiver attaches the audit archive. The orchestrator does not
// own the archive; the caller closes it after Close returns.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithCapabilityFactory sets the factory used for personas loaded from
// the configured persona directory.
func WithCapabilityFactory(f CapabilityFactory) Option {
	return func(o *Orchestrator) { o.capFactory = f }
}

// Orchestrator is the engine facade. All components share one store,
// one pool, and one event emitter; events surface on a single ordered
// channel via Events.
type Orchestrator struct {
	cfg *config.Config
	log *zap.SugaredLogger

	emitter    *events.Emitter
	store      *store.TaskStore
	pool       *pool.Pool
	executor   *executor.Executor
	scheduler  *scheduler.Scheduler
	handler    *exceptions.Handler
	bus        *collab.Bus
	aggregator *aggregate.Aggregator

	archiver   Archiver
	capFactory CapabilityFactory

	watchCancel context.CancelFunc
}

// New builds and wires the engine. Workers can be registered directly
// or loaded from the configured persona directory; the scheduler starts
// dispatching immediately.
func New(cfg *config.Config, log *zap.SugaredLogger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg: cfg,
		log: log,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.emitter = events.NewEmitter(eventBufferSize, log)
	o.store = store.New()
	o.pool = pool.New(log)

	o.executor = executor.New(executor.Config{
		MaxRetries:           cfg.Executor.MaxRetries,
		RetryDelay:           cfg.Executor.RetryDelay,
		StreamUpdateInterval: cfg.Executor.StreamUpdateInterval,
	}, o.pool, o.store, o.emitter, log)

	o.scheduler = scheduler.New(scheduler.Config{
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		TaskTimeout:    cfg.Scheduler.TaskTimeout,
		PollInterval:   cfg.Scheduler.PollInterval,
	}, o.store, o.pool, o.executor, o.emitter, log)

	o.handler = exceptions.New(exceptions.Config{
		MaxAutoRetries:        cfg.Exceptions.MaxAutoRetries,
		AutoRetryDelay:        cfg.Exceptions.AutoRetryDelay,
		InterventionThreshold: models.Severity(cfg.Exceptions.InterventionThreshold),
		AutoRetryTimeouts:     cfg.Exceptions.AutoRetryTimeouts,
		AutoEscalate:          cfg.Exceptions.AutoEscalate,
		PauseOnCritical:       cfg.Exceptions.PauseOnCritical,
	}, o.scheduler, o.pool, o.store, o.emitter, log)

	o.bus = collab.New(collab.Config{
		ReplyDelay: cfg.Collaboration.ReplyDelay,
		PurgeGrace: cfg.Collaboration.PurgeGrace,
	}, o.pool, o.emitter, log)

	o.aggregator = aggregate.New(o.store, o.pool, log)

	o.scheduler.SetFailureSink(o.handler)
	o.handler.SetNotifier(o.bus)
	if o.archiver != nil {
		o.handler.SetArchiver(o.archiver)
		o.bus.SetArchiver(o.archiver)
	}
	o.scheduler.SetOnTaskTerminal(o.onTaskTerminal)

	if cfg.Workers.PersonaDir != "" {
		if err := o.loadPersonas(cfg.Workers.PersonaDir, cfg.Workers.Watch); err != nil {
			return nil, err
		}
	}

	o.scheduler.Start()
	return o, nil
}

// onTaskTerminal builds the aggregated report as soon as a task
// settles, so exports never race a half-finished task.
func (o *Orchestrator) onTaskTerminal(taskID string, status models.TaskStatus) {
	if _, err := o.aggregator.Aggregate(taskID); err != nil {
		o.log.Warnw("[orchestrator] aggregation failed", "task", taskID, "error", err)
		return
	}
	o.log.Debugw("[orchestrator] task settled", "task", taskID, "status", status)
}

func (o *Orchestrator) loadPersonas(dir string, watch bool) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// The default persona dir may simply not exist yet.
		o.log.Debugw("[orchestrator] persona dir absent", "dir", dir)
		return nil
	}

	if o.capFactory == nil {
		return fmt.Errorf("persona directory configured but no capability factory supplied")
	}

	personas, err := pool.LoadPersonaDir(dir)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}
	for _, p := range personas {
		if err := o.registerPersona(p); err != nil {
			return err
		}
	}

	if watch {
		ctx, cancel := context.WithCancel(context.Background())
		o.watchCancel = cancel
		go func() {
			err := pool.WatchPersonas(ctx, dir, o.log, func(p pool.Persona) {
				if err := o.registerPersona(p); err != nil {
					o.log.Warnw("[orchestrator] persona rejected", "name", p.Name, "error", err)
				}
			})
			if err != nil && ctx.Err() == nil {
				o.log.Warnw("[orchestrator] persona watcher stopped", "error", err)
			}
		}()
	}
	return nil
}

func (o *Orchestrator) registerPersona(p pool.Persona) error {
	capability, err := o.capFactory(p)
	if err != nil {
		return fmt.Errorf("capability for persona %q: %w", p.Name, err)
	}
	worker := p.Worker()
	if existing := o.pool.Get(worker.ID); existing != nil {
		// Rewritten persona file; drop and re-add with fresh capability.
		o.pool.Remove(worker.ID)
	}
	return o.pool.Register(pool.Registration{Worker: worker, Capability: capability})
}

// RegisterWorker adds a worker with its chat capability.
func (o *Orchestrator) RegisterWorker(w *models.Worker, capability chat.Streamer) error {
	return o.pool.Register(pool.Registration{Worker: w, Capability: capability})
}

// RemoveWorker removes an idle worker from the pool.
func (o *Orchestrator) RemoveWorker(workerID string) {
	o.pool.Remove(workerID)
}

// Workers lists registered workers in registration order.
func (o *Orchestrator) Workers() []*models.Worker {
	return o.pool.List()
}

// SubmitTask validates the plan, materializes it into a task with
// sub-tasks, and hands it to the scheduler. Returns the new task ID.
func (o *Orchestrator) SubmitTask(plan *models.Plan) (string, error) {
	if err := plan.Validate(); err != nil {
		return "", fmt.Errorf("invalid plan: %w", err)
	}

	taskID := uuid.NewString()
	short := taskID[:8]

	// Plan step IDs are caller-scoped; sub-task IDs are globally unique.
	idFor := make(map[string]string, len(plan.Steps))
	for i, step := range plan.Steps {
		stepID := step.ID
		if stepID == "" {
			stepID = fmt.Sprintf("s%d", i+1)
		}
		idFor[stepID] = fmt.Sprintf("%s-%s", short, stepID)
	}

	now := time.Now()
	subtasks := make([]*models.SubTask, 0, len(plan.Steps))
	subIDs := make([]string, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		stepID := step.ID
		if stepID == "" {
			stepID = fmt.Sprintf("s%d", i+1)
		}
		priority := step.Priority
		if priority == "" {
			priority = models.PriorityMedium
		}
		deps := make([]string, 0, len(step.DependsOn))
		for _, d := range step.DependsOn {
			deps = append(deps, idFor[d])
		}
		sub := &models.SubTask{
			ID:                idFor[stepID],
			TaskID:            taskID,
			Title:             step.Title,
			Description:       step.Description,
			Priority:          priority,
			EstimatedDuration: step.EstimatedDuration,
			Dependencies:      deps,
			RequiredSkills:    step.RequiredSkills,
			Status:            models.SubTaskStatusPending,
		}
		subtasks = append(subtasks, sub)
		subIDs = append(subIDs, sub.ID)
	}

	task := &models.Task{
		ID:          taskID,
		Description: plan.Description,
		Status:      models.TaskStatusPending,
		SubTaskIDs:  subIDs,
		CreatedAt:   now,
	}

	if err := o.scheduler.Submit(task, subtasks); err != nil {
		return "", err
	}
	return taskID, nil
}

// Task returns the task and its sub-tasks, or nil for an unknown ID.
func (o *Orchestrator) Task(taskID string) (*models.Task, []*models.SubTask) {
	task := o.store.Task(taskID)
	if task == nil {
		return nil, nil
	}
	return task, o.store.SubTasks(taskID)
}

// Tasks lists all known tasks.
func (o *Orchestrator) Tasks() []*models.Task {
	return o.store.Tasks()
}

// PauseTask pauses dispatch for a task; running sub-tasks are aborted
// back to the queue with their assignments preserved.
func (o *Orchestrator) PauseTask(taskID, reason string) {
	o.handler.PauseTask(taskID, reason)
}

// ResumeTask resumes a paused task.
func (o *Orchestrator) ResumeTask(taskID string) error {
	return o.handler.ResumeTask(taskID)
}

// CancelTask cancels a task; queued and running sub-tasks fail and the
// task settles as failed.
func (o *Orchestrator) CancelTask(taskID string) {
	o.handler.CancelTask(taskID)
}

// RespondToException answers an open intervention ticket.
func (o *Orchestrator) RespondToException(exceptionID string, decision models.InterventionDecision, respondedBy, notes string) error {
	return o.handler.Respond(exceptionID, decision, respondedBy, notes)
}

// PendingExceptions lists unresolved exception records, most severe first.
func (o *Orchestrator) PendingExceptions() []*models.ExceptionRecord {
	return o.handler.Pending()
}

// AwaitingIntervention lists records with an open intervention ticket.
func (o *Orchestrator) AwaitingIntervention() []*models.ExceptionRecord {
	return o.handler.AwaitingHuman()
}

// ExceptionStats summarizes exception records by type, severity, and status.
func (o *Orchestrator) ExceptionStats() exceptions.Stats {
	return o.handler.Stats()
}

// SendMessage routes a collaboration message between two workers.
func (o *Orchestrator) SendMessage(req collab.SendRequest) (*models.CollaborationMessage, error) {
	return o.bus.Send(req)
}

// BroadcastMessage delivers the same message to several workers,
// returning one error per failed delivery.
func (o *Orchestrator) BroadcastMessage(from string, to []string, msgType models.MessageType, content, taskID string) []error {
	return o.bus.Broadcast(from, to, msgType, content, taskID)
}

// CollaborationOverview summarizes bus activity.
func (o *Orchestrator) CollaborationOverview() collab.Overview {
	return o.bus.GetOverview()
}

// ConversationHistory returns messages between two workers, oldest first.
func (o *Orchestrator) ConversationHistory(workerA, workerB string) []*models.CollaborationMessage {
	return o.bus.History(workerA, workerB)
}

// Report returns the aggregated result for a task, building it on
// demand when the terminal-state hook has not fired yet. The task must
// have reached a terminal state.
func (o *Orchestrator) Report(taskID string) (*models.AggregatedResult, error) {
	if result := o.aggregator.Result(taskID); result != nil {
		return result, nil
	}
	if err := o.requireTerminal(taskID); err != nil {
		return nil, err
	}
	return o.aggregator.Aggregate(taskID)
}

// ExportReport returns a rendered report in the given format, building
// the report on demand once the task is terminal.
func (o *Orchestrator) ExportReport(taskID string, format models.ReportFormat) (string, error) {
	if !format.Valid() {
		return "", fmt.Errorf("unknown report format %q", format)
	}
	if o.aggregator.Result(taskID) == nil {
		if err := o.requireTerminal(taskID); err != nil {
			return "", err
		}
		if _, err := o.aggregator.Aggregate(taskID); err != nil {
			return "", err
		}
	}
	out, ok := o.aggregator.Export(taskID, format)
	if !ok {
		return "", fmt.Errorf("no report for task %s", taskID)
	}
	return out, nil
}

func (o *Orchestrator) requireTerminal(taskID string) error {
	task := o.store.Task(taskID)
	if task == nil {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if !task.Status.Terminal() {
		return fmt.Errorf("task %s has not finished (%s)", taskID, task.Status)
	}
	return nil
}

// QueueStatus reports queued and running counts.
func (o *Orchestrator) QueueStatus() scheduler.QueueStatus {
	return o.scheduler.Status()
}

// Events returns the ordered event channel. The channel closes when
// the orchestrator shuts down.
func (o *Orchestrator) Events() <-chan events.Event {
	return o.emitter.Events()
}

// Close stops dispatch, closes open collaboration sessions, and closes
// the event channel. Running sub-tasks are aborted and left pending.
func (o *Orchestrator) Close() {
	if o.watchCancel != nil {
		o.watchCancel()
	}
	o.scheduler.Stop()
	o.bus.CloseAll()
	o.emitter.Close()
}
