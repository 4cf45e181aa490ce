package aggregate

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/hivecrew/hivecrew/pkg/models"
)

// roundUnit is the display precision for durations in reports.
const roundUnit = time.Millisecond

// conclusion picks the closing wording by success-rate bucket.
func conclusion(m models.Metrics) string {
	switch {
	case m.SuccessRate == 100:
		return "Every sub-task completed successfully. The task is fully done."
	case m.SuccessRate >= 80:
		return "The task completed with minor issues. Review the failed sub-tasks below."
	case m.SuccessRate >= 50:
		return "The task partially completed. A significant share of sub-tasks failed and may need another pass."
	default:
		return "The task largely failed. Most sub-tasks did not produce a usable result."
	}
}

// renderMarkdown builds the structured report: metadata, summary,
// metrics table, per-sub-task detail, and a bucketed conclusion.
func renderMarkdown(task *models.Task, r *models.AggregatedResult) string {
	var b strings.Builder
	m := r.Metrics

	fmt.Fprintf(&b, "# Task Report: %s\n\n", task.Description)
	fmt.Fprintf(&b, "- Task ID: %s\n", r.TaskID)
	fmt.Fprintf(&b, "- Status: %s\n", r.Status)
	fmt.Fprintf(&b, "- Created: %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Completed: %s\n\n", r.CompletedAt.Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	b.WriteString(r.Summary)
	b.WriteString("\n\n## Metrics\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Sub-tasks | %d |\n", m.TotalSubTasks)
	fmt.Fprintf(&b, "| Completed | %d |\n", m.CompletedSubTasks)
	fmt.Fprintf(&b, "| Failed | %d |\n", m.FailedSubTasks)
	fmt.Fprintf(&b, "| Success rate | %d%% |\n", m.SuccessRate)
	fmt.Fprintf(&b, "| Total duration | %s |\n", m.TotalDuration.Round(roundUnit))
	fmt.Fprintf(&b, "| Average duration | %s |\n", m.AvgDuration.Round(roundUnit))

	b.WriteString("\n## Sub-tasks\n")
	for i, item := range r.Breakdown {
		fmt.Fprintf(&b, "\n### %d. %s\n\n", i+1, item.Title)
		fmt.Fprintf(&b, "- Status: %s\n", item.Status)
		if item.WorkerName != "" {
			fmt.Fprintf(&b, "- Worker: %s\n", item.WorkerName)
		}
		if item.Duration > 0 {
			fmt.Fprintf(&b, "- Duration: %s\n", item.Duration.Round(roundUnit))
		}
		if item.RetryCount > 0 {
			fmt.Fprintf(&b, "- Retries: %d\n", item.RetryCount)
		}
		if item.Error != "" {
			fmt.Fprintf(&b, "\nError: %s\n", item.Error)
		}
		if item.Result != "" {
			fmt.Fprintf(&b, "\n%s\n", item.Result)
		}
	}

	b.WriteString("\n## Conclusion\n\n")
	b.WriteString(conclusion(m))
	b.WriteString("\n")
	return b.String()
}

// renderHTML builds the HTML export from the same data as the
// Markdown report.
func renderHTML(task *models.Task, r *models.AggregatedResult) string {
	var b strings.Builder
	m := r.Metrics
	esc := html.EscapeString

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&b, "<title>Task Report: %s</title>\n", esc(task.Description))
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "<h1>Task Report: %s</h1>\n", esc(task.Description))
	b.WriteString("<ul>\n")
	fmt.Fprintf(&b, "<li>Task ID: %s</li>\n", esc(r.TaskID))
	fmt.Fprintf(&b, "<li>Status: %s</li>\n", r.Status)
	fmt.Fprintf(&b, "<li>Created: %s</li>\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "<li>Completed: %s</li>\n", r.CompletedAt.Format(time.RFC3339))
	b.WriteString("</ul>\n")

	fmt.Fprintf(&b, "<h2>Summary</h2>\n<p>%s</p>\n", esc(r.Summary))

	b.WriteString("<h2>Metrics</h2>\n<table>\n")
	fmt.Fprintf(&b, "<tr><td>Sub-tasks</td><td>%d</td></tr>\n", m.TotalSubTasks)
	fmt.Fprintf(&b, "<tr><td>Completed</td><td>%d</td></tr>\n", m.CompletedSubTasks)
	fmt.Fprintf(&b, "<tr><td>Failed</td><td>%d</td></tr>\n", m.FailedSubTasks)
	fmt.Fprintf(&b, "<tr><td>Success rate</td><td>%d%%</td></tr>\n", m.SuccessRate)
	fmt.Fprintf(&b, "<tr><td>Total duration</td><td>%s</td></tr>\n", m.TotalDuration.Round(roundUnit))
	fmt.Fprintf(&b, "<tr><td>Average duration</td><td>%s</td></tr>\n", m.AvgDuration.Round(roundUnit))
	b.WriteString("</table>\n")

	b.WriteString("<h2>Sub-tasks</h2>\n")
	for i, item := range r.Breakdown {
		fmt.Fprintf(&b, "<h3>%d. %s</h3>\n<ul>\n", i+1, esc(item.Title))
		fmt.Fprintf(&b, "<li>Status: %s</li>\n", item.Status)
		if item.WorkerName != "" {
			fmt.Fprintf(&b, "<li>Worker: %s</li>\n", esc(item.WorkerName))
		}
		if item.Duration > 0 {
			fmt.Fprintf(&b, "<li>Duration: %s</li>\n", item.Duration.Round(roundUnit))
		}
		if item.RetryCount > 0 {
			fmt.Fprintf(&b, "<li>Retries: %d</li>\n", item.RetryCount)
		}
		b.WriteString("</ul>\n")
		if item.Error != "" {
			fmt.Fprintf(&b, "<p>Error: %s</p>\n", esc(item.Error))
		}
		if item.Result != "" {
			fmt.Fprintf(&b, "<pre>%s</pre>\n", esc(item.Result))
		}
	}

	fmt.Fprintf(&b, "<h2>Conclusion</h2>\n<p>%s</p>\n", esc(conclusion(m)))
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
