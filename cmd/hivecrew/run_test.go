package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hivecrew/hivecrew/pkg/models"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func TestLoadPlan(t *testing.T) {
	path := writePlan(t, `
description: Ship the release
subtasks:
  - id: build
    title: Build artifacts
    priority: high
    estimated_duration: 10m
  - id: test
    title: Run the test suite
    depends_on: [build]
    required_skills: [testing]
`)

	plan, err := loadPlan(path)
	if err != nil {
		t.Fatalf("loadPlan failed: %v", err)
	}
	if plan.Description != "Ship the release" {
		t.Errorf("Description = %q", plan.Description)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[0].Priority != models.PriorityHigh {
		t.Errorf("Priority = %q, want high", plan.Steps[0].Priority)
	}
	if plan.Steps[0].EstimatedDuration != 10*time.Minute {
		t.Errorf("EstimatedDuration = %v, want 10m", plan.Steps[0].EstimatedDuration)
	}
	if len(plan.Steps[1].DependsOn) != 1 || plan.Steps[1].DependsOn[0] != "build" {
		t.Errorf("DependsOn = %v, want [build]", plan.Steps[1].DependsOn)
	}

	if err := plan.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadPlanBadDuration(t *testing.T) {
	path := writePlan(t, `
description: bad
subtasks:
  - title: step
    estimated_duration: soonish
`)
	if _, err := loadPlan(path); err == nil {
		t.Error("loadPlan should reject a malformed duration")
	}
}

func TestLoadPlanMissingFile(t *testing.T) {
	if _, err := loadPlan(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("loadPlan should fail for a missing file")
	}
}
