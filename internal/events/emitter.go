package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Emitter is the single ordered channel all components publish to.
// A slow consumer cannot block producers indefinitely: when the buffer
// stays full past a short grace period the event is dropped and counted.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	log          *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int, log *zap.SugaredLogger) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		events: make(chan Event, bufferSize),
		log:    log,
	}
}

// Emit publishes an event, stamping the timestamp if unset.
// If the channel is full it retries briefly before dropping.
// Emits after Close are dropped silently, so stray timers that fire
// during shutdown are harmless.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			e.log.Warnf("event channel full, dropped event (total dropped: %d): family=%s type=%s",
				count, event.Family, event.Type)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only subscriber channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Later Emit calls become no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.events)
}
