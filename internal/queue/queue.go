// Package queue implements the session-local internal/external event
// queues and the Raiser (spec.md §4.4): internal events are fully drained
// before any external event is considered, and within one priority class
// delivery is FIFO.
package queue

import (
	"sync"

	scxml "github.com/scxml-go/runtime"
)

// Queue holds the internal and external FIFOs for one session. It is safe
// for concurrent Push from multiple goroutines (external events, timer
// callbacks); Pop is intended to be called only from the owning
// interpreter's single thread.
type Queue struct {
	mu       sync.Mutex
	internal []*scxml.Event
	external []*scxml.Event
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// PushInternal appends to the internal FIFO.
func (q *Queue) PushInternal(e *scxml.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.internal = append(q.internal, e)
}

// PushExternal appends to the external FIFO.
func (q *Queue) PushExternal(e *scxml.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.external = append(q.external, e)
}

// Pop returns the next event to process: internal events take priority
// over external ones (spec.md §4.4), or (nil, false) if both are empty.
func (q *Queue) Pop() (*scxml.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.internal) > 0 {
		e := q.internal[0]
		q.internal = q.internal[1:]
		return e, true
	}
	if len(q.external) > 0 {
		e := q.external[0]
		q.external = q.external[1:]
		return e, true
	}
	return nil, false
}

// PopInternal returns the next internal event only, or (nil, false) if
// none is pending; used while draining to quiescence, when external
// events must wait untouched (spec.md §4.4).
func (q *Queue) PopInternal() (*scxml.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.internal) > 0 {
		e := q.internal[0]
		q.internal = q.internal[1:]
		return e, true
	}
	return nil, false
}

// HasInternal reports whether any internal event is pending.
func (q *Queue) HasInternal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.internal) > 0
}

// Len reports the total number of pending events of both kinds.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.internal) + len(q.external)
}
