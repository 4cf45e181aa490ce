package models

import (
	"fmt"
	"time"
)

// PlanStep is one sub-task of a decomposed plan. The text-to-plan
// decomposition itself happens outside this system; callers hand in
// the structured result.
type PlanStep struct {
	// ID is an optional caller-chosen identifier, referenced by DependsOn.
	// When empty an ID is generated at submission.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Title is the short description of the step.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed instructions for the worker.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority defaults to medium when empty.
	Priority Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	// EstimatedDuration is a planning hint.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	// DependsOn lists step IDs that must complete first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// RequiredSkills lists skill tags for worker matching.
	RequiredSkills []string `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
}

// Plan is a decomposed task as produced by an external planning step.
type Plan struct {
	// Description is the original high-level request.
	Description string `json:"description" yaml:"description"`
	// Steps lists the sub-tasks in submission order.
	Steps []PlanStep `json:"subtasks" yaml:"subtasks"`
}

// Validate checks structural plan invariants: at least one step,
// unique step IDs, known priorities, and dependencies that reference
// declared steps. Cycle detection happens at graph build time.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no subtasks")
	}

	ids := make(map[string]bool, len(p.Steps))
	for i, step := range p.Steps {
		if step.Title == "" {
			return fmt.Errorf("subtask %d has no title", i)
		}
		if step.Priority != "" && !step.Priority.Valid() {
			return fmt.Errorf("subtask %q has unknown priority %q", step.Title, step.Priority)
		}
		if step.ID != "" {
			if ids[step.ID] {
				return fmt.Errorf("duplicate subtask id %q", step.ID)
			}
			ids[step.ID] = true
		}
	}

	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("subtask %q depends on unknown subtask %q", step.Title, dep)
			}
		}
	}

	return nil
}
