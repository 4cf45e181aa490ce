// Package aggregate compiles the outcomes of a terminal task into
// metrics, a summary, and parallel Markdown/HTML/JSON exports.
package aggregate

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/internal/store"
	"github.com/hivecrew/hivecrew/pkg/models"
)

// Aggregator builds aggregated results and caches them per task for
// repeated export. Aggregation is idempotent: without intervening
// state change, re-running yields byte-identical exports.
type Aggregator struct {
	store *store.TaskStore
	pool  *pool.Pool
	log   *zap.SugaredLogger

	mu     sync.Mutex
	cached map[string]*cachedResult
}

type cachedResult struct {
	result  *models.AggregatedResult
	exports map[models.ReportFormat]string
}

// New creates an Aggregator.
func New(s *store.TaskStore, p *pool.Pool, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		store:  s,
		pool:   p,
		log:    log,
		cached: make(map[string]*cachedResult),
	}
}

// Aggregate compiles the task's sub-task outcomes. Re-running
// regenerates and overwrites the cached result.
func (a *Aggregator) Aggregate(taskID string) (*models.AggregatedResult, error) {
	task := a.store.Task(taskID)
	if task == nil {
		return nil, fmt.Errorf("unknown task %s", taskID)
	}
	subs := a.store.SubTasks(taskID)
	if len(subs) == 0 {
		return nil, fmt.Errorf("task %s has no sub-tasks", taskID)
	}

	result := &models.AggregatedResult{
		TaskID:    taskID,
		Metrics:   computeMetrics(subs),
		Breakdown: a.buildBreakdown(subs),
		CreatedAt: task.CreatedAt,
	}
	// Timestamps come from the task itself, never the wall clock, so
	// repeated aggregation stays byte-identical.
	if task.CompletedAt != nil {
		result.CompletedAt = *task.CompletedAt
	} else {
		result.CompletedAt = task.CreatedAt
	}
	result.Status = classify(result.Metrics)
	result.Summary = summarize(task, result)

	exports, err := a.render(task, result)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cached[taskID] = &cachedResult{result: result, exports: exports}
	a.mu.Unlock()

	a.log.Debugf("[aggregate] task %s aggregated: %s (%d/%d completed)",
		taskID, result.Status, result.Metrics.CompletedSubTasks, result.Metrics.TotalSubTasks)
	return result, nil
}

// Result returns the cached aggregated result, or nil if Aggregate has
// not run for the task.
func (a *Aggregator) Result(taskID string) *models.AggregatedResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c := a.cached[taskID]; c != nil {
		return c.result
	}
	return nil
}

// Export returns a cached encoding of the aggregated result. The
// second return is false if aggregation has not run yet.
func (a *Aggregator) Export(taskID string, format models.ReportFormat) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.cached[taskID]
	if c == nil {
		return "", false
	}
	out, ok := c.exports[format]
	return out, ok
}

func (a *Aggregator) buildBreakdown(subs []*models.SubTask) []models.SubTaskResult {
	out := make([]models.SubTaskResult, 0, len(subs))
	for _, sub := range subs {
		item := models.SubTaskResult{
			SubTaskID:  sub.ID,
			Title:      sub.Title,
			Status:     sub.Status,
			Result:     sub.Result,
			Error:      sub.Error,
			Duration:   sub.Duration(),
			RetryCount: sub.RetryCount,
		}
		if sub.AssignedWorkerID != "" {
			if w := a.pool.Get(sub.AssignedWorkerID); w != nil {
				item.WorkerName = w.Name
			} else {
				item.WorkerName = sub.AssignedWorkerID
			}
		}
		out = append(out, item)
	}
	return out
}

func computeMetrics(subs []*models.SubTask) models.Metrics {
	m := models.Metrics{TotalSubTasks: len(subs)}
	withDuration := 0
	for _, sub := range subs {
		switch sub.Status {
		case models.SubTaskStatusCompleted:
			m.CompletedSubTasks++
		case models.SubTaskStatusFailed:
			m.FailedSubTasks++
		}
		if d := sub.Duration(); d > 0 {
			m.TotalDuration += d
			withDuration++
		}
	}
	if m.TotalSubTasks > 0 {
		m.SuccessRate = (m.CompletedSubTasks*100 + m.TotalSubTasks/2) / m.TotalSubTasks
	}
	if withDuration > 0 {
		m.AvgDuration = m.TotalDuration / time.Duration(withDuration)
	}
	return m
}

func classify(m models.Metrics) models.OverallStatus {
	switch {
	case m.CompletedSubTasks == m.TotalSubTasks:
		return models.OverallCompleted
	case m.FailedSubTasks == m.TotalSubTasks:
		return models.OverallFailed
	default:
		return models.OverallPartial
	}
}

// summarize produces the short natural-language outcome description.
func summarize(task *models.Task, r *models.AggregatedResult) string {
	m := r.Metrics
	switch r.Status {
	case models.OverallCompleted:
		return fmt.Sprintf("All %d sub-tasks of %q completed successfully in %s.",
			m.TotalSubTasks, task.Description, m.TotalDuration.Round(roundUnit))
	case models.OverallFailed:
		return fmt.Sprintf("All %d sub-tasks of %q failed.", m.TotalSubTasks, task.Description)
	default:
		return fmt.Sprintf("%d of %d sub-tasks of %q completed (%d%% success rate), %d failed.",
			m.CompletedSubTasks, m.TotalSubTasks, task.Description, m.SuccessRate, m.FailedSubTasks)
	}
}

// render builds the three parallel exports so callers can request any
// format without recomputation.
func (a *Aggregator) render(task *models.Task, result *models.AggregatedResult) (map[models.ReportFormat]string, error) {
	md := renderMarkdown(task, result)
	html := renderHTML(task, result)

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result for task %s: %w", task.ID, err)
	}

	return map[models.ReportFormat]string{
		models.FormatMarkdown: md,
		models.FormatHTML:     html,
		models.FormatJSON:     string(raw),
	}, nil
}
