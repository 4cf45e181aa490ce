// Package graph provides a dependency graph for sub-task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hivecrew/hivecrew/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in the sub-task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed acyclic graph of sub-task dependencies.
// Sub-tasks are nodes, edges represent "blocked by" relationships.
// A dependency is satisfied only by a completed upstream sub-task;
// a failed upstream never unblocks dependents.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps sub-task ID to the sub-task itself.
	nodes map[string]*models.SubTask
	// edges maps sub-task ID to the IDs it depends on.
	edges map[string][]string
	// completed tracks which sub-tasks have been marked complete.
	completed map[string]bool
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.SubTask),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build adds a slice of sub-tasks to the graph. Returns an error if a
// cycle is detected or a dependency references an unknown sub-task.
func (g *DependencyGraph) Build(subtasks []*models.SubTask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, sub := range subtasks {
		g.nodes[sub.ID] = sub
		g.edges[sub.ID] = nil
	}

	for _, sub := range subtasks {
		for _, depID := range sub.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("sub-task %s depends on unknown sub-task %s", sub.ID, depID)
			}
			g.edges[sub.ID] = append(g.edges[sub.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked runs a depth-first search with coloring to detect
// back edges. Caller must hold the lock.
func (g *DependencyGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Ready reports whether every dependency of the given sub-task has
// been marked complete. Unknown sub-tasks are never ready.
func (g *DependencyGraph) Ready(subTaskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, exists := g.nodes[subTaskID]; !exists {
		return false
	}
	for _, depID := range g.edges[subTaskID] {
		if !g.completed[depID] {
			return false
		}
	}
	return true
}

// UnmetDependencies returns how many dependencies of the sub-task are
// not yet complete.
func (g *DependencyGraph) UnmetDependencies(subTaskID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	unmet := 0
	for _, depID := range g.edges[subTaskID] {
		if !g.completed[depID] {
			unmet++
		}
	}
	return unmet
}

// MarkComplete marks a sub-task as completed, affecting subsequent
// readiness checks.
func (g *DependencyGraph) MarkComplete(subTaskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[subTaskID] = true
}

// Dependents returns the IDs of sub-tasks that directly depend on the
// given sub-task.
func (g *DependencyGraph) Dependents(subTaskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == subTaskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// Dependencies returns the IDs the given sub-task depends on.
func (g *DependencyGraph) Dependencies(subTaskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[subTaskID]
}

// Size returns the number of sub-tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
