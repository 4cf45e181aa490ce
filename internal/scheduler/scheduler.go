// Package scheduler maintains the ready queue, enforces the global
// concurrency bound, dispatches eligible sub-tasks to the executor,
// and cascades the fallout of failures, pauses, and cancellations.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/events"
	"github.com/hivecrew/hivecrew/internal/graph"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/internal/store"
	"github.com/hivecrew/hivecrew/pkg/models"
)

// Runner executes one sub-task on one worker. *executor.Executor
// satisfies this.
type Runner interface {
	Run(ctx context.Context, taskID, subTaskID, workerID string) (string, error)
}

// FailureSink receives failure reports. The scheduler never decides
// remediation itself; the sink is the single authority.
type FailureSink interface {
	Report(report models.FailureReport)
}

// QueueStatus is a point-in-time dispatch snapshot.
type QueueStatus struct {
	Queued         int `json:"queued"`
	Running        int `json:"running"`
	MaxConcurrency int `json:"max_concurrency"`
}

// abortReason distinguishes why a running entry's context was
// cancelled, so the failure path can route it correctly.
type abortReason int

const (
	abortNone abortReason = iota
	abortPause
	abortCancel
	abortTimeout
	abortShutdown
)

// runningEntry tracks one in-flight execution.
type runningEntry struct {
	taskID    string
	subTaskID string
	workerID  string
	startedAt time.Time
	cancel    context.CancelFunc
	watchdog  *time.Timer

	reason   abortReason
	abortMsg string
}

// Config holds dispatch settings.
type Config struct {
	// MaxConcurrency bounds running sub-tasks across all tasks.
	MaxConcurrency int
	// TaskTimeout is the watchdog bound per running entry.
	TaskTimeout time.Duration
	// PollInterval is the re-poll cadence when no trigger arrives,
	// covering the "no eligible worker" wait.
	PollInterval time.Duration
}

// Scheduler owns the ready queue and the running set. It is the only
// writer of sub-task status and worker assignment.
type Scheduler struct {
	store   *store.TaskStore
	pool    *pool.Pool
	runner  Runner
	graph   *graph.DependencyGraph
	emitter *events.Emitter
	log     *zap.SugaredLogger

	maxConcurrency int
	taskTimeout    time.Duration
	pollInterval   time.Duration

	mu          sync.Mutex
	queue       readyQueue
	running     map[string]*runningEntry
	paused      map[string]bool
	notified    map[string]bool
	dispatching bool
	closed      bool

	sink       FailureSink
	onTerminal func(taskID string, status models.TaskStatus)

	trigger  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler. Call SetFailureSink before Start so
// failures have somewhere to go, then Start to launch the dispatch loop.
func New(cfg Config, s *store.TaskStore, p *pool.Pool, r Runner, em *events.Emitter, log *zap.SugaredLogger) *Scheduler {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Scheduler{
		store:          s,
		pool:           p,
		runner:         r,
		graph:          graph.New(),
		emitter:        em,
		log:            log,
		maxConcurrency: cfg.MaxConcurrency,
		taskTimeout:    cfg.TaskTimeout,
		pollInterval:   cfg.PollInterval,
		running:        make(map[string]*runningEntry),
		paused:         make(map[string]bool),
		notified:       make(map[string]bool),
		trigger:        make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// SetFailureSink wires the remediation authority. Set once during
// assembly, before Start.
func (s *Scheduler) SetFailureSink(sink FailureSink) {
	s.sink = sink
}

// SetOnTaskTerminal registers a callback fired exactly once per task
// when it reaches a terminal state. Set before Start.
func (s *Scheduler) SetOnTaskTerminal(fn func(taskID string, status models.TaskStatus)) {
	s.onTerminal = fn
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.dispatchLoop()
}

// Stop halts dispatching, aborts running entries without reporting
// them as failures, and waits for in-flight executions to unwind.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, re := range s.running {
			re.reason = abortShutdown
			re.cancel()
		}
		s.mu.Unlock()
		close(s.done)
	})
	s.wg.Wait()
}

// Submit registers a task and enqueues all of its sub-tasks. It
// returns immediately; execution proceeds on the dispatch loop.
func (s *Scheduler) Submit(task *models.Task, subtasks []*models.SubTask) error {
	if err := s.graph.Build(subtasks); err != nil {
		return fmt.Errorf("building dependency graph for task %s: %w", task.ID, err)
	}
	if err := s.store.AddTask(task, subtasks); err != nil {
		return err
	}
	s.store.SetTaskStatus(task.ID, models.TaskStatusRunning)

	s.mu.Lock()
	for _, sub := range subtasks {
		entry := &queueEntry{
			taskID:     task.ID,
			subTaskID:  sub.ID,
			score:      s.scoreFor(sub, 0),
			enqueuedAt: time.Now(),
		}
		s.queue.push(entry)
		s.emit(events.Event{
			Family: events.FamilyScheduler, Type: events.TaskQueued,
			TaskID: task.ID, SubTaskID: sub.ID, Message: sub.Title,
		})
	}
	s.mu.Unlock()

	s.log.Debugf("[scheduler] submitted task %s with %d sub-tasks", task.ID, len(subtasks))
	s.emitQueueUpdated()
	s.kick()
	return nil
}

// scoreFor computes the queue score: base priority, +1 when the
// sub-task has unmet dependencies so immediately runnable work sorts
// first, plus any retry bump.
func (s *Scheduler) scoreFor(sub *models.SubTask, bump int) int {
	score := sub.Priority.Score() + bump
	if s.graph.UnmetDependencies(sub.ID) > 0 {
		score++
	}
	return score
}

// kick nudges the dispatch loop without blocking.
func (s *Scheduler) kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.trigger:
		case <-ticker.C:
		}
		s.dispatch()
	}
}

// dispatch starts as many eligible entries as capacity and worker
// availability allow. The dispatching guard makes overlapping calls
// harmless.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	if s.dispatching || s.closed {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	defer func() {
		s.mu.Lock()
		s.dispatching = false
		s.mu.Unlock()
	}()

	started := 0
	for _, entry := range s.queue.eligibleOrdered(s.eligible) {
		if len(s.running) >= s.maxConcurrency {
			break
		}
		workerID := s.claimWorker(entry)
		if workerID == "" {
			// No eligible worker is not fatal; the entry stays
			// queued until one frees up or is registered.
			continue
		}
		s.startEntry(entry, workerID)
		started++
	}
	s.mu.Unlock()

	if started > 0 {
		s.emitQueueUpdated()
	}
}

// eligible reports whether an entry may be dispatched right now.
// Caller holds mu.
func (s *Scheduler) eligible(e *queueEntry) bool {
	if s.paused[e.taskID] {
		return false
	}
	sub := s.store.SubTask(e.subTaskID)
	if sub == nil || sub.Status != models.SubTaskStatusPending {
		return false
	}
	return s.graph.Ready(e.subTaskID)
}

// claimWorker claims a worker for the entry, honoring a pre-assignment
// when present. Returns the claimed worker ID, or "" if none is
// available. Caller holds mu.
func (s *Scheduler) claimWorker(entry *queueEntry) string {
	if entry.assignedWorkerID != "" {
		if err := s.pool.Claim(entry.assignedWorkerID, entry.subTaskID); err != nil {
			// Pre-assigned worker is busy; keep waiting for it
			// rather than silently reassigning.
			return ""
		}
		return entry.assignedWorkerID
	}

	sub := s.store.SubTask(entry.subTaskID)
	worker := s.pool.Select(sub.RequiredSkills)
	if worker == nil {
		return ""
	}
	if err := s.pool.Claim(worker.ID, entry.subTaskID); err != nil {
		return ""
	}
	return worker.ID
}

// startEntry moves a queued entry into the running set and launches
// its execution goroutine. Caller holds mu.
func (s *Scheduler) startEntry(entry *queueEntry, workerID string) {
	s.queue.remove(entry)

	ctx, cancel := context.WithCancel(context.Background())
	re := &runningEntry{
		taskID:    entry.taskID,
		subTaskID: entry.subTaskID,
		workerID:  workerID,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	re.watchdog = time.AfterFunc(s.taskTimeout, func() {
		s.timeoutEntry(re)
	})
	s.running[entry.subTaskID] = re

	s.store.AssignWorker(entry.subTaskID, workerID)
	s.store.SetSubTaskStatus(entry.subTaskID, models.SubTaskStatusRunning)

	s.emit(events.Event{
		Family: events.FamilyScheduler, Type: events.TaskStarted,
		TaskID: entry.taskID, SubTaskID: entry.subTaskID, WorkerID: workerID,
	})
	s.log.Debugf("[scheduler] dispatching sub-task %s to worker %s (score=%d)", entry.subTaskID, workerID, entry.score)

	s.wg.Add(1)
	go s.runEntry(ctx, re)
}

// timeoutEntry is the watchdog callback for a running entry.
func (s *Scheduler) timeoutEntry(re *runningEntry) {
	s.mu.Lock()
	current, ok := s.running[re.subTaskID]
	if !ok || current != re {
		s.mu.Unlock()
		return
	}
	re.reason = abortTimeout
	s.mu.Unlock()

	s.log.Warnf("[scheduler] sub-task %s exceeded %v, aborting", re.subTaskID, s.taskTimeout)
	re.cancel()
}

// runEntry waits for one execution to resolve and routes the outcome.
// An aborted execution resolves through the same failure path as a
// natural error; the abort reason decides what happens next.
func (s *Scheduler) runEntry(ctx context.Context, re *runningEntry) {
	defer s.wg.Done()
	defer re.cancel()

	_, err := s.runner.Run(ctx, re.taskID, re.subTaskID, re.workerID)

	s.mu.Lock()
	re.watchdog.Stop()
	delete(s.running, re.subTaskID)
	reason := re.reason
	abortMsg := re.abortMsg
	s.mu.Unlock()

	if err == nil {
		s.completeEntry(re)
		return
	}

	s.pool.Release(re.workerID, false)

	switch reason {
	case abortPause:
		// Re-queue without losing the assignment; the entry will not
		// dispatch again until the task is resumed.
		s.store.SetSubTaskStatus(re.subTaskID, models.SubTaskStatusPending)
		s.requeue(re.taskID, re.subTaskID, re.workerID, 0)
		s.emitQueueUpdated()

	case abortShutdown:
		s.store.SetSubTaskStatus(re.subTaskID, models.SubTaskStatusPending)

	case abortCancel:
		if abortMsg == "" {
			abortMsg = "cancelled"
		}
		s.failSubTask(re.taskID, re.subTaskID, abortMsg)

	case abortTimeout:
		s.store.SetSubTaskStatus(re.subTaskID, models.SubTaskStatusPending)
		s.emit(events.Event{
			Family: events.FamilyScheduler, Type: events.TaskTimeout,
			TaskID: re.taskID, SubTaskID: re.subTaskID, WorkerID: re.workerID,
		})
		s.report(models.FailureReport{
			Type:      models.ExceptionTaskTimeout,
			Severity:  models.SeverityHigh,
			TaskID:    re.taskID,
			SubTaskID: re.subTaskID,
			WorkerID:  re.workerID,
			Message:   fmt.Sprintf("execution exceeded %v", s.taskTimeout),
		})

	default:
		s.store.SetSubTaskStatus(re.subTaskID, models.SubTaskStatusPending)
		s.report(models.FailureReport{
			Type:      models.ExceptionTaskFailure,
			Severity:  models.SeverityMedium,
			TaskID:    re.taskID,
			SubTaskID: re.subTaskID,
			WorkerID:  re.workerID,
			Message:   err.Error(),
		})
	}
}

// completeEntry handles a successful execution, possibly unblocking
// dependents.
func (s *Scheduler) completeEntry(re *runningEntry) {
	s.store.SetSubTaskStatus(re.subTaskID, models.SubTaskStatusCompleted)
	s.graph.MarkComplete(re.subTaskID)
	s.pool.Release(re.workerID, true)
	s.store.SetTaskProgress(re.taskID, s.store.Progress(re.taskID))

	s.emit(events.Event{
		Family: events.FamilyScheduler, Type: events.TaskCompleted,
		TaskID: re.taskID, SubTaskID: re.subTaskID, WorkerID: re.workerID,
	})
	s.emitQueueUpdated()
	s.log.Debugf("[scheduler] sub-task %s completed on worker %s", re.subTaskID, re.workerID)

	s.checkTerminal(re.taskID)
	s.kick()
}

// report hands a failure to the sink. Never called with mu held, since
// the sink may call back into the scheduler synchronously.
func (s *Scheduler) report(fr models.FailureReport) {
	if s.sink == nil {
		s.log.Warnf("[scheduler] no failure sink wired, dropping %s for sub-task %s", fr.Type, fr.SubTaskID)
		return
	}
	s.emit(events.Event{
		Family: events.FamilyScheduler, Type: events.TaskFailed,
		TaskID: fr.TaskID, SubTaskID: fr.SubTaskID, WorkerID: fr.WorkerID,
		Message: fr.Message,
	})
	s.sink.Report(fr)
}

// requeue pushes a sub-task back onto the queue. Safe to call without mu.
func (s *Scheduler) requeue(taskID, subTaskID, workerID string, bump int) {
	sub := s.store.SubTask(subTaskID)
	if sub == nil {
		return
	}
	s.mu.Lock()
	if !s.queue.has(subTaskID) {
		s.queue.push(&queueEntry{
			taskID:           taskID,
			subTaskID:        subTaskID,
			score:            s.scoreFor(sub, bump),
			assignedWorkerID: workerID,
			enqueuedAt:       time.Now(),
		})
	}
	s.mu.Unlock()
}

// Resubmit re-enqueues a failed sub-task, bumping its score by the
// retry count so repeated failures sort after fresh work. A non-empty
// workerID pre-assigns the entry.
func (s *Scheduler) Resubmit(taskID, subTaskID, workerID string) error {
	sub := s.store.SubTask(subTaskID)
	if sub == nil {
		return fmt.Errorf("unknown sub-task %s", subTaskID)
	}
	retries := s.store.IncrementRetry(subTaskID)
	s.store.SetSubTaskStatus(subTaskID, models.SubTaskStatusPending)
	if workerID != "" {
		s.store.AssignWorker(subTaskID, workerID)
	}
	s.requeue(taskID, subTaskID, workerID, retries)

	s.emit(events.Event{
		Family: events.FamilyScheduler, Type: events.TaskQueued,
		TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
		Message: fmt.Sprintf("resubmitted (retry %d)", retries),
	})
	s.emitQueueUpdated()
	s.kick()
	return nil
}

// Skip marks a sub-task permanently failed with a readable reason,
// letting siblings proceed. Dependents can never become ready, so they
// are failed fast through the same reporting path.
func (s *Scheduler) Skip(taskID, subTaskID, reason string) {
	s.mu.Lock()
	s.queue.removeSubTask(subTaskID)
	s.mu.Unlock()

	s.failSubTask(taskID, subTaskID, reason)
	s.kick()
}

// Abort aborts a sub-task whether running or queued, recording the
// reason as its result.
func (s *Scheduler) Abort(taskID, subTaskID, reason string) {
	s.mu.Lock()
	if re, ok := s.running[subTaskID]; ok {
		re.reason = abortCancel
		re.abortMsg = reason
		s.mu.Unlock()
		re.cancel()
		return
	}
	s.queue.removeSubTask(subTaskID)
	s.mu.Unlock()

	s.failSubTask(taskID, subTaskID, reason)
	s.kick()
}

// failSubTask records a permanent sub-task failure and cascades.
func (s *Scheduler) failSubTask(taskID, subTaskID, reason string) {
	s.store.FailSubTask(subTaskID, reason)
	s.store.SetTaskProgress(taskID, s.store.Progress(taskID))
	s.emit(events.Event{
		Family: events.FamilyScheduler, Type: events.TaskFailed,
		TaskID: taskID, SubTaskID: subTaskID, Message: reason,
	})
	s.failDependents(taskID, subTaskID)
	s.checkTerminal(taskID)
}

// failDependents reports a dependency_fail for every non-terminal
// dependent of a failed sub-task. Dependencies are satisfied only by
// completion, so a permanently failed upstream would otherwise leave
// dependents blocked forever.
func (s *Scheduler) failDependents(taskID, failedID string) {
	for _, depID := range s.graph.Dependents(failedID) {
		sub := s.store.SubTask(depID)
		if sub == nil || sub.Status.Terminal() || sub.Status == models.SubTaskStatusRunning {
			continue
		}
		s.report(models.FailureReport{
			Type:      models.ExceptionDependencyFail,
			Severity:  models.SeverityLow,
			TaskID:    taskID,
			SubTaskID: depID,
			Message:   fmt.Sprintf("dependency %s failed permanently", failedID),
		})
	}
}

// Pause stops dispatching new work for a task and aborts its running
// entries, re-queueing them with their assignment intact.
func (s *Scheduler) Pause(taskID, reason string) {
	s.mu.Lock()
	s.paused[taskID] = true
	var aborting []*runningEntry
	for _, re := range s.running {
		if re.taskID == taskID {
			re.reason = abortPause
			aborting = append(aborting, re)
		}
	}
	s.mu.Unlock()

	for _, re := range aborting {
		re.cancel()
	}
	s.log.Infof("[scheduler] task %s paused: %s", taskID, reason)
}

// Resume clears a task's pause and triggers a fresh dispatch pass.
func (s *Scheduler) Resume(taskID string) error {
	s.mu.Lock()
	wasPaused := s.paused[taskID]
	delete(s.paused, taskID)
	s.mu.Unlock()

	if !wasPaused {
		return fmt.Errorf("task %s is not paused", taskID)
	}
	s.log.Infof("[scheduler] task %s resumed", taskID)
	s.kick()
	return nil
}

// Paused reports whether dispatch is suspended for a task.
func (s *Scheduler) Paused(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[taskID]
}

// Cancel aborts every running and queued entry for a task and marks
// the task failed immediately. Completed work is preserved.
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	removed := s.queue.removeTask(taskID)
	var aborting []*runningEntry
	for _, re := range s.running {
		if re.taskID == taskID {
			re.reason = abortCancel
			re.abortMsg = "cancelled"
			aborting = append(aborting, re)
		}
	}
	s.mu.Unlock()

	for _, entry := range removed {
		s.store.FailSubTask(entry.subTaskID, "cancelled")
		s.emit(events.Event{
			Family: events.FamilyScheduler, Type: events.TaskFailed,
			TaskID: taskID, SubTaskID: entry.subTaskID, Message: "cancelled",
		})
	}
	// Sub-tasks parked between queue and running (awaiting a
	// remediation decision) fail too.
	for _, sub := range s.store.SubTasks(taskID) {
		if !sub.Status.Terminal() && sub.Status != models.SubTaskStatusRunning {
			s.store.FailSubTask(sub.ID, "cancelled")
		}
	}
	for _, re := range aborting {
		re.cancel()
	}

	s.setTaskTerminal(taskID, models.TaskStatusFailed)
	s.emitQueueUpdated()
	s.log.Infof("[scheduler] task %s cancelled (%d queued entries dropped, %d running aborted)", taskID, len(removed), len(aborting))
}

// checkTerminal fires the terminal transition once every sub-task of
// the task has settled.
func (s *Scheduler) checkTerminal(taskID string) {
	status, terminal := s.store.TerminalState(taskID)
	if !terminal {
		return
	}
	s.setTaskTerminal(taskID, status)
}

// setTaskTerminal applies a terminal task status and notifies the
// terminal callback exactly once per task.
func (s *Scheduler) setTaskTerminal(taskID string, status models.TaskStatus) {
	s.mu.Lock()
	if s.notified[taskID] {
		s.mu.Unlock()
		return
	}
	s.notified[taskID] = true
	delete(s.paused, taskID)
	s.mu.Unlock()

	s.store.SetTaskStatus(taskID, status)
	s.store.SetTaskProgress(taskID, 100)

	eventType := events.TaskCompleted
	if status == models.TaskStatusFailed {
		eventType = events.TaskFailed
	}
	s.emit(events.Event{
		Family: events.FamilyScheduler, Type: eventType,
		TaskID: taskID, Message: fmt.Sprintf("task %s", status),
	})
	s.log.Infof("[scheduler] task %s reached terminal state %s", taskID, status)

	if s.onTerminal != nil {
		s.onTerminal(taskID, status)
	}
}

// Status returns the current queue snapshot.
func (s *Scheduler) Status() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueStatus{
		Queued:         s.queue.len(),
		Running:        len(s.running),
		MaxConcurrency: s.maxConcurrency,
	}
}

func (s *Scheduler) emit(ev events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}

func (s *Scheduler) emitQueueUpdated() {
	s.mu.Lock()
	snapshot := events.Queue{
		Queued:         s.queue.len(),
		Running:        len(s.running),
		MaxConcurrency: s.maxConcurrency,
	}
	s.mu.Unlock()

	s.emit(events.Event{
		Family: events.FamilyScheduler, Type: events.QueueUpdated,
		Queue: &snapshot,
	})
}
