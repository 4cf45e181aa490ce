package aggregate

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/internal/store"
	"github.com/hivecrew/hivecrew/pkg/models"
)

func ts(offset time.Duration) *time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return &base
}

func newFixture(t *testing.T, subs []*models.SubTask) (*Aggregator, *store.TaskStore) {
	t.Helper()

	log := zap.NewNop().Sugar()
	p := pool.New(log)
	if err := p.Register(pool.Registration{
		Worker:     &models.Worker{ID: "w1", Name: "Ada"},
		Capability: &chat.Scripted{},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	s := store.New()
	task := &models.Task{
		ID:          "t1",
		Description: "index the corpus",
		Status:      models.TaskStatusCompleted,
		CreatedAt:   *ts(0),
		CompletedAt: ts(10 * time.Minute),
	}
	for _, sub := range subs {
		sub.TaskID = "t1"
		task.SubTaskIDs = append(task.SubTaskIDs, sub.ID)
	}
	if err := s.AddTask(task, subs); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	return New(s, p, log), s
}

func completedSub(id, title string, dur time.Duration) *models.SubTask {
	started := ts(0)
	ended := ts(dur)
	return &models.SubTask{
		ID: id, Title: title, Priority: models.PriorityMedium,
		Status: models.SubTaskStatusCompleted, AssignedWorkerID: "w1",
		Result: "output of " + title, StartedAt: started, CompletedAt: ended,
	}
}

func failedSub(id, title string) *models.SubTask {
	started := ts(0)
	ended := ts(time.Minute)
	return &models.SubTask{
		ID: id, Title: title, Priority: models.PriorityMedium,
		Status: models.SubTaskStatusFailed, AssignedWorkerID: "w1",
		Result: "skipped: boom", Error: "boom",
		StartedAt: started, CompletedAt: ended,
	}
}

func TestAggregateMetricsAndStatus(t *testing.T) {
	tests := []struct {
		name       string
		subs       []*models.SubTask
		wantStatus models.OverallStatus
		wantRate   int
	}{
		{
			name:       "all completed",
			subs:       []*models.SubTask{completedSub("s1", "a", time.Minute), completedSub("s2", "b", 2*time.Minute)},
			wantStatus: models.OverallCompleted,
			wantRate:   100,
		},
		{
			name:       "all failed",
			subs:       []*models.SubTask{failedSub("s1", "a"), failedSub("s2", "b")},
			wantStatus: models.OverallFailed,
			wantRate:   0,
		},
		{
			name:       "mixed",
			subs:       []*models.SubTask{completedSub("s1", "a", time.Minute), completedSub("s2", "b", time.Minute), failedSub("s3", "c")},
			wantStatus: models.OverallPartial,
			wantRate:   67,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, _ := newFixture(t, tt.subs)
			result, err := agg.Aggregate("t1")
			if err != nil {
				t.Fatalf("Aggregate() error = %v", err)
			}
			if result.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", result.Status, tt.wantStatus)
			}
			if result.Metrics.SuccessRate != tt.wantRate {
				t.Errorf("SuccessRate = %d, want %d", result.Metrics.SuccessRate, tt.wantRate)
			}
			m := result.Metrics
			if m.CompletedSubTasks+m.FailedSubTasks != m.TotalSubTasks {
				t.Errorf("completed(%d) + failed(%d) != total(%d)", m.CompletedSubTasks, m.FailedSubTasks, m.TotalSubTasks)
			}
		})
	}
}

func TestAggregateDurations(t *testing.T) {
	agg, _ := newFixture(t, []*models.SubTask{
		completedSub("s1", "a", time.Minute),
		completedSub("s2", "b", 3*time.Minute),
	})

	result, err := agg.Aggregate("t1")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if got := result.Metrics.TotalDuration; got != 4*time.Minute {
		t.Errorf("TotalDuration = %s, want 4m", got)
	}
	if got := result.Metrics.AvgDuration; got != 2*time.Minute {
		t.Errorf("AvgDuration = %s, want 2m", got)
	}
	if got := result.Breakdown[0].WorkerName; got != "Ada" {
		t.Errorf("WorkerName = %q, want Ada", got)
	}
}

func TestExportsAreIdempotent(t *testing.T) {
	agg, _ := newFixture(t, []*models.SubTask{
		completedSub("s1", "a", time.Minute),
		failedSub("s2", "b"),
	})

	if _, err := agg.Aggregate("t1"); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	first := map[models.ReportFormat]string{}
	for _, f := range []models.ReportFormat{models.FormatMarkdown, models.FormatHTML, models.FormatJSON} {
		out, ok := agg.Export("t1", f)
		if !ok {
			t.Fatalf("Export(%s) not available", f)
		}
		first[f] = out
	}

	if _, err := agg.Aggregate("t1"); err != nil {
		t.Fatalf("second Aggregate() error = %v", err)
	}
	for f, want := range first {
		got, _ := agg.Export("t1", f)
		if got != want {
			t.Errorf("export %s changed between runs", f)
		}
	}
}

func TestExportBeforeAggregate(t *testing.T) {
	agg, _ := newFixture(t, []*models.SubTask{completedSub("s1", "a", time.Minute)})
	if _, ok := agg.Export("t1", models.FormatMarkdown); ok {
		t.Error("Export() before Aggregate() reported availability")
	}
	if agg.Result("t1") != nil {
		t.Error("Result() before Aggregate() returned a value")
	}
}

func TestMarkdownReportContent(t *testing.T) {
	agg, _ := newFixture(t, []*models.SubTask{
		completedSub("s1", "collect pages", time.Minute),
		failedSub("s2", "parse pages"),
	})
	if _, err := agg.Aggregate("t1"); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	md, _ := agg.Export("t1", models.FormatMarkdown)
	for _, want := range []string{
		"# Task Report: index the corpus",
		"## Summary",
		"## Metrics",
		"| Success rate | 50% |",
		"### 1. collect pages",
		"### 2. parse pages",
		"Error: boom",
		"## Conclusion",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	// 50% falls in the partial bucket.
	if !strings.Contains(md, "partially completed") {
		t.Error("markdown conclusion not in the 50%% bucket")
	}

	htmlOut, _ := agg.Export("t1", models.FormatHTML)
	if !strings.Contains(htmlOut, "<h1>Task Report: index the corpus</h1>") {
		t.Error("html missing title")
	}

	jsonOut, _ := agg.Export("t1", models.FormatJSON)
	var decoded models.AggregatedResult
	if err := json.Unmarshal([]byte(jsonOut), &decoded); err != nil {
		t.Fatalf("json export does not decode: %v", err)
	}
	if decoded.TaskID != "t1" || len(decoded.Breakdown) != 2 {
		t.Errorf("json export decoded to %+v", decoded)
	}
}

func TestConclusionBuckets(t *testing.T) {
	tests := []struct {
		rate int
		want string
	}{
		{100, "fully done"},
		{85, "minor issues"},
		{50, "partially completed"},
		{20, "largely failed"},
	}
	for _, tt := range tests {
		got := conclusion(models.Metrics{SuccessRate: tt.rate})
		if !strings.Contains(got, tt.want) {
			t.Errorf("conclusion(%d) = %q, want it to mention %q", tt.rate, got, tt.want)
		}
	}
}

func TestAggregateUnknownTask(t *testing.T) {
	agg, _ := newFixture(t, []*models.SubTask{completedSub("s1", "a", time.Minute)})
	if _, err := agg.Aggregate("ghost"); err == nil {
		t.Error("Aggregate() of unknown task expected an error")
	}
}
