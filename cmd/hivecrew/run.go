package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/internal/config"
	"github.com/hivecrew/hivecrew/internal/events"
	"github.com/hivecrew/hivecrew/internal/llm"
	"github.com/hivecrew/hivecrew/internal/logging"
	"github.com/hivecrew/hivecrew/internal/orchestrator"
	"github.com/hivecrew/hivecrew/internal/pool"
	"github.com/hivecrew/hivecrew/internal/state"
	"github.com/hivecrew/hivecrew/pkg/models"
)

var (
	runDryRun bool
	runFormat string
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a task plan across the worker pool",
	Long: `Run a decomposed task plan.

The plan file lists sub-tasks with optional priorities, dependencies,
and required skills:

  description: Ship the release
  subtasks:
    - id: build
      title: Build artifacts
      priority: high
    - id: test
      title: Run the test suite
      depends_on: [build]
      estimated_duration: 10m

Workers come from persona files in the configured persona directory.
Without one, three built-in generalist workers are used.

With --dry-run, workers replay canned responses instead of calling the
Claude API; scheduling, retries, and reports behave exactly as in a
real run.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Use scripted workers instead of the Claude API")
	runCmd.Flags().StringVar(&runFormat, "format", "markdown", "Report format: markdown, html, or json")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Write the report to a file instead of stdout")
}

// planFile mirrors models.Plan for YAML decoding; durations are
// human-readable strings like "10m".
type planFile struct {
	Description string `yaml:"description"`
	Steps       []struct {
		ID                string   `yaml:"id"`
		Title             string   `yaml:"title"`
		Description       string   `yaml:"description"`
		Priority          string   `yaml:"priority"`
		EstimatedDuration string   `yaml:"estimated_duration"`
		DependsOn         []string `yaml:"depends_on"`
		RequiredSkills    []string `yaml:"required_skills"`
	} `yaml:"subtasks"`
}

func loadPlan(path string) (*models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	plan := &models.Plan{Description: pf.Description}
	for _, s := range pf.Steps {
		step := models.PlanStep{
			ID:             s.ID,
			Title:          s.Title,
			Description:    s.Description,
			Priority:       models.Priority(s.Priority),
			DependsOn:      s.DependsOn,
			RequiredSkills: s.RequiredSkills,
		}
		if s.EstimatedDuration != "" {
			d, err := time.ParseDuration(s.EstimatedDuration)
			if err != nil {
				return nil, fmt.Errorf("subtask %q: bad estimated_duration %q: %w", s.Title, s.EstimatedDuration, err)
			}
			step.EstimatedDuration = d
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// capabilityFactory builds per-persona chat capabilities. Dry runs get
// scripted responders; real runs get Claude clients, honoring persona
// model overrides.
func capabilityFactory(cfg *config.Config, dryRun bool) orchestrator.CapabilityFactory {
	return func(p pool.Persona) (chat.Streamer, error) {
		if dryRun {
			return &chat.Scripted{
				Response:  fmt.Sprintf("[dry-run] %s finished the assigned work.", p.Name),
				ChunkSize: 16,
				Delay:     5 * time.Millisecond,
			}, nil
		}

		model := p.Model
		if model == "" {
			model = cfg.Anthropic.Model
		}
		system := fmt.Sprintf("You are %s.", p.Name)
		if p.Role != "" {
			system = fmt.Sprintf("You are %s, a %s. Complete the assigned sub-task and reply with the result.", p.Name, p.Role)
		}
		return llm.New(llm.Config{
			Model:        model,
			APIKey:       cfg.Anthropic.APIKey,
			SystemPrompt: system,
			UseBedrock:   cfg.Anthropic.UseBedrock,
			AWSRegion:    cfg.Anthropic.AWSRegion,
			AWSProfile:   cfg.Anthropic.AWSProfile,
		})
	}
}

// defaultPersonas back a run when no persona directory is configured.
func defaultPersonas() []pool.Persona {
	return []pool.Persona{
		{ID: "worker-1", Name: "Scout", Role: "researcher"},
		{ID: "worker-2", Name: "Mason", Role: "builder"},
		{ID: "worker-3", Name: "Sage", Role: "reviewer"},
	}
}

func runPlan(cmd *cobra.Command, args []string) error {
	format := models.ReportFormat(runFormat)
	if !format.Valid() {
		return fmt.Errorf("unknown report format %q", runFormat)
	}

	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if flagVerbose {
		level = "debug"
	}
	log, err := logging.New(logging.Options{Level: level, Encoding: cfg.Logging.Encoding})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	opts := []orchestrator.Option{
		orchestrator.WithCapabilityFactory(capabilityFactory(cfg, runDryRun)),
	}
	archive, err := state.Open(state.DefaultPath(cwd))
	if err != nil {
		log.Warnw("[run] archive unavailable, continuing without audit trail", "error", err)
	} else {
		defer archive.Close()
		opts = append(opts, orchestrator.WithArchiver(archive))
	}

	orch, err := orchestrator.New(cfg, log, opts...)
	if err != nil {
		return err
	}
	defer orch.Close()

	if len(orch.Workers()) == 0 {
		factory := capabilityFactory(cfg, runDryRun)
		for _, p := range defaultPersonas() {
			capability, err := factory(p)
			if err != nil {
				return err
			}
			if err := orch.RegisterWorker(p.Worker(), capability); err != nil {
				return err
			}
		}
	}

	taskID, err := orch.SubmitTask(plan)
	if err != nil {
		return err
	}
	fmt.Printf("%s task %s: %s (%d subtasks, %d workers)\n",
		color.CyanString("▶"), taskID[:8], plan.Description, len(plan.Steps), len(orch.Workers()))

	// First interrupt cancels the task so it settles and reports;
	// a second one gives up waiting.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, color.YellowString("interrupt: cancelling task"))
		orch.CancelTask(taskID)
		<-sigCh
		os.Exit(1)
	}()

	watchEvents(orch, taskID)

	task, _ := orch.Task(taskID)
	switch task.Status {
	case models.TaskStatusCompleted:
		fmt.Printf("%s task %s completed\n", color.GreenString("✓"), taskID[:8])
	default:
		fmt.Printf("%s task %s %s\n", color.RedString("✗"), taskID[:8], task.Status)
	}

	report, err := orch.ExportReport(taskID, format)
	if err != nil {
		return fmt.Errorf("export report: %w", err)
	}
	if runOutput != "" {
		if err := os.WriteFile(runOutput, []byte(report), 0644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("report written to %s\n", runOutput)
		return nil
	}
	fmt.Println()
	fmt.Println(report)
	return nil
}

// watchEvents renders the event stream until the task settles. Open
// intervention tickets are answered interactively from stdin.
func watchEvents(orch *orchestrator.Orchestrator, taskID string) {
	stdin := bufio.NewScanner(os.Stdin)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-orch.Events():
			if !ok {
				return
			}
			renderEvent(ev)
			if ev.Family == events.FamilyException && ev.Type == events.InterventionRequired {
				promptIntervention(orch, stdin, ev)
			}
		case <-ticker.C:
			task, _ := orch.Task(taskID)
			if task != nil && (task.Status == models.TaskStatusCompleted || task.Status == models.TaskStatusFailed) {
				// Drain whatever the engine emitted before the status flip.
				drainEvents(orch)
				return
			}
		}
	}
}

func drainEvents(orch *orchestrator.Orchestrator) {
	for {
		select {
		case ev, ok := <-orch.Events():
			if !ok {
				return
			}
			renderEvent(ev)
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func renderEvent(ev events.Event) {
	stamp := color.New(color.Faint).Sprint(ev.Timestamp.Format("15:04:05"))

	switch ev.Family {
	case events.FamilyScheduler:
		switch ev.Type {
		case events.TaskStarted:
			fmt.Printf("%s %s %s → %s\n", stamp, color.CyanString("start"), ev.SubTaskID, ev.WorkerID)
		case events.TaskCompleted:
			fmt.Printf("%s %s %s\n", stamp, color.GreenString("done "), firstNonEmpty(ev.SubTaskID, ev.TaskID))
		case events.TaskFailed:
			fmt.Printf("%s %s %s: %s\n", stamp, color.RedString("fail "), firstNonEmpty(ev.SubTaskID, ev.TaskID), ev.Message)
		case events.TaskTimeout:
			fmt.Printf("%s %s %s\n", stamp, color.RedString("timeout"), ev.SubTaskID)
		case events.TaskQueued:
			if flagVerbose {
				fmt.Printf("%s queued %s %s\n", stamp, ev.SubTaskID, ev.Message)
			}
		}
	case events.FamilyExecutor:
		switch ev.Type {
		case events.ExecRetry:
			if ev.Retry != nil {
				fmt.Printf("%s %s %s attempt %d in %s\n", stamp, color.YellowString("retry"), ev.SubTaskID, ev.Retry.Attempt, ev.Retry.Delay)
			}
		case events.ExecProgress:
			if flagVerbose && ev.Progress != nil {
				fmt.Printf("%s %s %s %d%%\n", stamp, color.New(color.Faint).Sprint("progr"), ev.SubTaskID, ev.Progress.Percent)
			}
		}
	case events.FamilyCollaboration:
		switch ev.Type {
		case events.MessageSent:
			fmt.Printf("%s %s %s\n", stamp, color.MagentaString("collab"), ev.Message)
		case events.SessionClosed:
			if flagVerbose {
				fmt.Printf("%s session %s closed\n", stamp, ev.SessionID)
			}
		}
	case events.FamilyException:
		switch ev.Type {
		case events.ExceptionOccurred:
			severity := ""
			if ev.Intervention != nil {
				severity = ev.Intervention.Severity
			}
			fmt.Printf("%s %s [%s] %s\n", stamp, color.YellowString("except"), severity, ev.Message)
		case events.ExceptionResolved:
			fmt.Printf("%s %s %s\n", stamp, color.GreenString("resolved"), ev.Message)
		case events.InterventionRequired:
			fmt.Printf("%s %s %s\n", stamp, color.New(color.FgRed, color.Bold).Sprint("INTERVENTION"), ev.Message)
		}
	}
}

func promptIntervention(orch *orchestrator.Orchestrator, stdin *bufio.Scanner, ev events.Event) {
	for {
		fmt.Printf("%s decision for %s [retry/skip/abort/reassign]: ",
			color.New(color.Bold).Sprint("?"), ev.ExceptionID)
		if !stdin.Scan() {
			return
		}
		decision := models.InterventionDecision(strings.TrimSpace(strings.ToLower(stdin.Text())))
		if err := orch.RespondToException(ev.ExceptionID, decision, "operator", ""); err != nil {
			fmt.Println(color.RedString(err.Error()))
			continue
		}
		return
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
