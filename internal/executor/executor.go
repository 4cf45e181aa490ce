// Package executor runs a single sub-task against one assigned worker,
// streaming partial output and producing a final result or error.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/internal/events"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/internal/store"
	"github.com/hivecrew/hivecrew/pkg/models"
)

// progressDivisor is the output length treated as "about done" by the
// streaming progress heuristic. True completion is unknowable
// mid-stream, so the estimate caps at 90 until the stream closes.
const progressDivisor = 2000

// Executor executes sub-tasks with bounded retry and throttled
// progress reporting. The executor is the only writer of sub-task
// results, errors, and timestamps.
type Executor struct {
	pool    *pool.Pool
	store   *store.TaskStore
	emitter *events.Emitter
	log     *zap.SugaredLogger

	backoff        Backoff
	streamInterval time.Duration
}

// Config holds executor settings.
type Config struct {
	// MaxRetries bounds attempts per Run call.
	MaxRetries int
	// RetryDelay is the backoff base delay.
	RetryDelay time.Duration
	// StreamUpdateInterval throttles progress and stream events.
	StreamUpdateInterval time.Duration
}

// New creates an Executor.
func New(cfg Config, p *pool.Pool, s *store.TaskStore, em *events.Emitter, log *zap.SugaredLogger) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.StreamUpdateInterval <= 0 {
		cfg.StreamUpdateInterval = 100 * time.Millisecond
	}
	return &Executor{
		pool:           p,
		store:          s,
		emitter:        em,
		log:            log,
		backoff:        Backoff{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryDelay},
		streamInterval: cfg.StreamUpdateInterval,
	}
}

// Run executes the sub-task on the given worker. It streams progress
// events at a bounded cadence and retries failed attempts with an
// escalating delay. The returned text is always the full concatenation
// of deltas regardless of how coarsely progress was reported.
//
// Context cancellation aborts immediately without further retries and
// resolves through the same failure path as a natural error.
func (e *Executor) Run(ctx context.Context, taskID, subTaskID, workerID string) (string, error) {
	sub := e.store.SubTask(subTaskID)
	if sub == nil {
		return "", fmt.Errorf("unknown sub-task %s", subTaskID)
	}
	capability, ok := e.pool.Capability(workerID)
	if !ok {
		return "", fmt.Errorf("worker %s has no capability", workerID)
	}

	prompt := buildPrompt(sub)
	e.emit(events.Event{
		Family: events.FamilyExecutor, Type: events.ExecStart,
		TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
		Message: sub.Title,
	})

	var lastErr error
	for attempt := 1; !e.backoff.Exhausted(attempt); attempt++ {
		if attempt > 1 {
			delay := e.backoff.DelayFor(attempt - 1)
			e.emit(events.Event{
				Family: events.FamilyExecutor, Type: events.ExecRetry,
				TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
				Message: lastErr.Error(),
				Retry:   &events.Retry{Attempt: attempt, Delay: delay},
			})
			e.log.Debugf("[executor] sub-task %s attempt %d after %v: %v", subTaskID, attempt, delay, lastErr)
			if !sleep(ctx, delay) {
				lastErr = ctx.Err()
				break
			}
		}

		e.store.MarkSubTaskStarted(subTaskID, time.Now())
		e.pool.SetStatus(workerID, models.WorkerStatusThinking)

		text, err := e.attempt(ctx, capability, prompt, taskID, subTaskID, workerID)
		if err == nil {
			e.store.SetSubTaskResult(subTaskID, text, time.Now())
			e.pool.SetStatus(workerID, models.WorkerStatusSuccess)
			e.emit(events.Event{
				Family: events.FamilyExecutor, Type: events.ExecProgress,
				TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
				Progress: &events.Progress{Percent: 100, Accumulated: len(text)},
			})
			e.emit(events.Event{
				Family: events.FamilyExecutor, Type: events.ExecComplete,
				TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
			})
			return text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			// Aborted from outside; do not burn retries on a dead context.
			break
		}
	}

	e.store.SetSubTaskError(subTaskID, lastErr.Error(), time.Now())
	e.pool.SetStatus(workerID, models.WorkerStatusError)
	e.emit(events.Event{
		Family: events.FamilyExecutor, Type: events.ExecFailed,
		TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
		Err: lastErr,
	})
	return "", fmt.Errorf("sub-task %s failed after %d attempts: %w", subTaskID, e.backoff.MaxAttempts, lastErr)
}

// attempt runs one streaming call, accumulating the full text and
// emitting throttled stream/progress events.
func (e *Executor) attempt(ctx context.Context, capability chat.Streamer, prompt []chat.Message, taskID, subTaskID, workerID string) (string, error) {
	deltas, err := capability.StreamChat(ctx, prompt)
	if err != nil {
		return "", err
	}

	var accumulated strings.Builder
	var pending strings.Builder
	var lastEmit time.Time
	typing := false

	for delta := range deltas {
		if delta.Err != nil {
			return "", delta.Err
		}
		if !typing {
			e.pool.SetStatus(workerID, models.WorkerStatusTyping)
			typing = true
		}
		accumulated.WriteString(delta.Text)
		pending.WriteString(delta.Text)

		if time.Since(lastEmit) >= e.streamInterval {
			e.emitStream(taskID, subTaskID, workerID, pending.String(), accumulated.Len())
			pending.Reset()
			lastEmit = time.Now()
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if pending.Len() > 0 {
		e.emitStream(taskID, subTaskID, workerID, pending.String(), accumulated.Len())
	}
	return accumulated.String(), nil
}

func (e *Executor) emitStream(taskID, subTaskID, workerID, delta string, accumulated int) {
	e.emit(events.Event{
		Family: events.FamilyExecutor, Type: events.ExecStream,
		TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
		Stream: &events.Stream{Delta: delta},
	})
	e.emit(events.Event{
		Family: events.FamilyExecutor, Type: events.ExecProgress,
		TaskID: taskID, SubTaskID: subTaskID, WorkerID: workerID,
		Progress: &events.Progress{Percent: progressEstimate(accumulated), Accumulated: accumulated},
	})
}

func (e *Executor) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// progressEstimate maps accumulated output length to a completion
// percentage, capped at 90 while the stream is still open.
func progressEstimate(accumulated int) int {
	pct := accumulated * 100 / progressDivisor
	if pct > 90 {
		return 90
	}
	return pct
}

// buildPrompt composes the worker-facing task prompt from the
// sub-task's title, description, priority, and duration hint.
func buildPrompt(sub *models.SubTask) []chat.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", sub.Title)
	if sub.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", sub.Description)
	}
	fmt.Fprintf(&b, "\nPriority: %s\n", sub.Priority)
	if sub.EstimatedDuration > 0 {
		fmt.Fprintf(&b, "Estimated duration: %s\n", sub.EstimatedDuration)
	}
	b.WriteString("\nComplete this task and report the result as plain text.")

	return []chat.Message{{Role: chat.RoleUser, Content: b.String()}}
}

// sleep waits for d, returning false if the context is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
