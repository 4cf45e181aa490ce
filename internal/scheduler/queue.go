package scheduler

import (
	"sort"
	"time"
)

// queueEntry is one queued sub-task. Entries are ephemeral and never
// outlive the process.
type queueEntry struct {
	taskID           string
	subTaskID        string
	score            int
	assignedWorkerID string
	enqueuedAt       time.Time
}

// readyQueue is a stable priority queue. Lower scores are served first;
// equal scores keep enqueue order.
type readyQueue struct {
	entries []*queueEntry
}

func (q *readyQueue) push(e *queueEntry) {
	q.entries = append(q.entries, e)
}

func (q *readyQueue) len() int {
	return len(q.entries)
}

// eligibleOrdered returns entries passing the predicate, lowest score
// first. The sort is stable so ties keep enqueue order.
func (q *readyQueue) eligibleOrdered(eligible func(*queueEntry) bool) []*queueEntry {
	var out []*queueEntry
	for _, e := range q.entries {
		if eligible(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score < out[j].score
	})
	return out
}

// remove deletes the given entry, keeping order for the rest.
func (q *readyQueue) remove(target *queueEntry) {
	for i, e := range q.entries {
		if e == target {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// removeSubTask deletes the entry for a sub-task, returning it if found.
func (q *readyQueue) removeSubTask(subTaskID string) *queueEntry {
	for i, e := range q.entries {
		if e.subTaskID == subTaskID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e
		}
	}
	return nil
}

// removeTask deletes every entry belonging to a task, returning them.
func (q *readyQueue) removeTask(taskID string) []*queueEntry {
	var removed []*queueEntry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.taskID == taskID {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return removed
}

// has reports whether a sub-task is currently queued.
func (q *readyQueue) has(subTaskID string) bool {
	for _, e := range q.entries {
		if e.subTaskID == subTaskID {
			return true
		}
	}
	return false
}
