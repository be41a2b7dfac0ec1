package engine

import (
	"sync"

	"github.com/roach88/remsync/internal/remote"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventJobObserved carries a job snapshot seen in traffic.
	EventJobObserved EventType = iota + 1
	// EventFieldChanged carries a saved triggering-field value.
	EventFieldChanged
	// EventNavigated marks a job as the one on screen.
	EventNavigated
	// EventLeft marks navigation away from a job.
	EventLeft

	eventDebounceElapsed
	eventFetchDue
	eventCheckDone
	eventCycleDone
	eventBarrier
)

func (t EventType) String() string {
	switch t {
	case EventJobObserved:
		return "job_observed"
	case EventFieldChanged:
		return "field_changed"
	case EventNavigated:
		return "navigated"
	case EventLeft:
		return "left"
	case eventDebounceElapsed:
		return "debounce_elapsed"
	case eventFetchDue:
		return "fetch_due"
	case eventCheckDone:
		return "check_done"
	case eventCycleDone:
		return "cycle_done"
	case eventBarrier:
		return "barrier"
	}
	return "unknown"
}

// Event is one input to the Run loop.
type Event struct {
	Type  EventType
	JobID string
	Job   *remote.Job
	Value string

	seq    uint64
	gen    uint64
	epoch  uint64
	report *Report
	done   chan struct{}
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so timer callbacks and finished remote calls
// never block on a busy loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Clear the slot so the backing array does not pin the payload.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
