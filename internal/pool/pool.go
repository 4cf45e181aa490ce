// Package pool maintains the registry of logical workers: identity,
// skill tags, availability state, and the capability used to execute
// sub-tasks against each worker.
package pool

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hivecrew/hivecrew/internal/chat"
	"github.com/hivecrew/hivecrew/pkg/models"
)

// Registration pairs a worker's identity with its capability.
type Registration struct {
	Worker     *models.Worker
	Capability chat.Streamer
}

// Pool is the thread-safe worker registry. Claim uses compare-and-set
// semantics on worker status so two dispatch iterations can never
// claim the same worker.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]*models.Worker
	caps    map[string]chat.Streamer
	order   []string // registration order, for stable listings
	log     *zap.SugaredLogger
}

// New creates an empty Pool.
func New(log *zap.SugaredLogger) *Pool {
	return &Pool{
		workers: make(map[string]*models.Worker),
		caps:    make(map[string]chat.Streamer),
		log:     log,
	}
}

// Register adds a worker to the pool. Re-registering an existing ID
// replaces its capability but keeps its counters.
func (p *Pool) Register(reg Registration) error {
	if reg.Worker == nil || reg.Worker.ID == "" {
		return fmt.Errorf("worker registration requires an ID")
	}
	if reg.Capability == nil {
		return fmt.Errorf("worker %s registered without a capability", reg.Worker.ID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.workers[reg.Worker.ID]; ok {
		p.caps[reg.Worker.ID] = reg.Capability
		p.log.Debugf("[pool] worker %s re-registered (completed=%d)", existing.ID, existing.CompletedTasks)
		return nil
	}

	if reg.Worker.Status == "" {
		reg.Worker.Status = models.WorkerStatusIdle
	}
	p.workers[reg.Worker.ID] = reg.Worker
	p.caps[reg.Worker.ID] = reg.Capability
	p.order = append(p.order, reg.Worker.ID)
	p.log.Debugf("[pool] registered worker %s (%s) skills=%v", reg.Worker.ID, reg.Worker.Name, reg.Worker.Skills)
	return nil
}

// Remove deletes a worker from the pool.
func (p *Pool) Remove(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.workers, workerID)
	delete(p.caps, workerID)
	for i, id := range p.order {
		if id == workerID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Get returns the worker for an ID, or nil if unknown.
func (p *Pool) Get(workerID string) *models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers[workerID]
}

// Capability returns the capability for a worker ID.
func (p *Pool) Capability(workerID string) (chat.Streamer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cap, ok := p.caps[workerID]
	return cap, ok
}

// List returns all workers in registration order.
func (p *Pool) List() []*models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Worker, 0, len(p.order))
	for _, id := range p.order {
		if w := p.workers[id]; w != nil {
			out = append(out, w)
		}
	}
	return out
}

// Claim atomically transitions a worker from idle to thinking and
// records its current sub-task. Returns an error if the worker is
// unknown or not idle.
func (p *Pool) Claim(workerID, subTaskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.workers[workerID]
	if w == nil {
		return fmt.Errorf("unknown worker %s", workerID)
	}
	if w.Status != models.WorkerStatusIdle {
		return fmt.Errorf("worker %s is %s, not idle", workerID, w.Status)
	}
	w.Status = models.WorkerStatusThinking
	w.CurrentSubTaskID = subTaskID
	return nil
}

// Release returns a worker to idle at an execution boundary. On
// success the completed counter is incremented.
func (p *Pool) Release(workerID string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.workers[workerID]
	if w == nil {
		return
	}
	if success {
		w.CompletedTasks++
	}
	w.Status = models.WorkerStatusIdle
	w.CurrentSubTaskID = ""
}

// SetStatus updates a worker's status mid-execution (thinking, typing,
// error, success). The executor owns these transitions.
func (p *Pool) SetStatus(workerID string, status models.WorkerStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w := p.workers[workerID]; w != nil {
		w.Status = status
	}
}

// Select picks an idle worker for the given required skills.
// Preference order:
//  1. An idle worker whose skills or role match any required skill
//     (case-insensitive substring match).
//  2. Any idle worker, choosing the one with the most completed tasks
//     so idle specialists stay free for better matches.
//
// Returns nil when no idle worker exists.
func (p *Pool) Select(requiredSkills []string) *models.Worker {
	return p.SelectExcluding(requiredSkills, "")
}

// SelectExcluding works like Select but never returns the excluded
// worker. Used for reassignment away from a failed worker.
func (p *Pool) SelectExcluding(requiredSkills []string, excludeID string) *models.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var idle []*models.Worker
	for _, id := range p.order {
		w := p.workers[id]
		if w == nil || w.ID == excludeID || w.Status != models.WorkerStatusIdle {
			continue
		}
		idle = append(idle, w)
	}
	if len(idle) == 0 {
		return nil
	}

	for _, w := range idle {
		if matchesSkills(w, requiredSkills) {
			return w
		}
	}

	// No skill match: load-balance toward the busiest generalist.
	sort.SliceStable(idle, func(i, j int) bool {
		return idle[i].CompletedTasks > idle[j].CompletedTasks
	})
	return idle[0]
}

// IdleCount returns how many workers are currently idle.
func (p *Pool) IdleCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, w := range p.workers {
		if w.Status == models.WorkerStatusIdle {
			n++
		}
	}
	return n
}

// matchesSkills reports whether any required skill matches the
// worker's skill tags or role label, case-insensitively.
func matchesSkills(w *models.Worker, required []string) bool {
	if len(required) == 0 {
		return false
	}
	role := strings.ToLower(w.Role)
	for _, req := range required {
		needle := strings.ToLower(req)
		if needle == "" {
			continue
		}
		if role != "" && strings.Contains(role, needle) {
			return true
		}
		for _, skill := range w.Skills {
			tag := strings.ToLower(skill)
			if strings.Contains(tag, needle) || strings.Contains(needle, tag) {
				return true
			}
		}
	}
	return false
}
