// Package scheduler implements timed delivery of delayed <send> events
// (spec.md §4.5): one timer goroutine computes the next deadline and a
// small pool of callback workers executes deliveries off the scheduler's
// lock, so a callback that re-enters Schedule/Cancel can never deadlock
// (spec.md §5, §9 "callbacks are invoked from dedicated worker tasks off
// the scheduler's lock").
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	scxml "github.com/scxml-go/runtime"
)

// Target delivers one scheduled event; implemented by the Targets that
// dispatch.Dispatcher.Resolve returns.
type Target interface {
	Deliver(ctx context.Context, event *scxml.Event) error
}

const defaultWorkers = 4

type scheduled struct {
	sendID    string
	sessionID string
	event     *scxml.Event
	target    Target
	at        time.Time
	seq       uint64 // tiebreak for equal deadlines: FIFO by scheduling order
	cancelled bool
	index     int // heap index
}

// readyHeap orders by (at, seq) so that events due at the same instant
// execute FIFO by scheduling order (spec.md §4.5, §8 property).
type readyHeap []*scheduled

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *readyHeap) Push(x any) {
	s := x.(*scheduled)
	s.index = len(*h)
	*h = append(*h, s)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}

// Scheduler owns a heap of pending ScheduledEvent records (spec.md §3) plus
// a lookup index by send ID for O(log n) cancellation.
type Scheduler struct {
	mu      sync.Mutex
	heap    readyHeap
	bySend  map[string]*scheduled
	nextSeq uint64
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	workers chan func()
	log     *slog.Logger
	nowFn   func() time.Time
}

// New starts the timer goroutine and a pool of workers workers-deep executing callbacks.
func New(log *slog.Logger, workers int) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	s := &Scheduler{
		bySend:  map[string]*scheduled{},
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		workers: make(chan func(), workers*4),
		log:     log,
		nowFn:   time.Now,
	}
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	go s.timerLoop()
	return s
}

func (s *Scheduler) worker() {
	for fn := range s.workers {
		fn()
	}
}

// Schedule registers event for delivery via target after delay. A
// collision on sendID cancels the prior registration first (spec.md §4.5).
// Passing sendID == "" generates one with google/uuid.
func (s *Scheduler) Schedule(ctx context.Context, event *scxml.Event, delay time.Duration, target Target, sendID, sessionID string) (string, error) {
	if sendID == "" {
		sendID = uuid.NewString()
	}
	s.mu.Lock()
	if existing, ok := s.bySend[sendID]; ok {
		existing.cancelled = true
		heap.Remove(&s.heap, existing.index)
		delete(s.bySend, sendID)
	}
	s.nextSeq++
	item := &scheduled{
		sendID:    sendID,
		sessionID: sessionID,
		event:     event,
		target:    target,
		at:        s.nowFn().Add(delay),
		seq:       s.nextSeq,
	}
	heap.Push(&s.heap, item)
	s.bySend[sendID] = item
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return sendID, nil
}

// Cancel removes a pending event by send ID. Returns false if it was never
// pending (already fired or unknown); it never affects an already-
// dispatched event (spec.md §5).
func (s *Scheduler) Cancel(sendID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.bySend[sendID]
	if !ok {
		return false
	}
	item.cancelled = true
	heap.Remove(&s.heap, item.index)
	delete(s.bySend, sendID)
	return true
}

// CancelForSession cancels every pending event bearing sessionID, used on
// session destruction (spec.md §4.5).
func (s *Scheduler) CancelForSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, item := range s.bySend {
		if item.sessionID == sessionID {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		item := s.bySend[id]
		item.cancelled = true
		heap.Remove(&s.heap, item.index)
		delete(s.bySend, id)
	}
	return len(removed)
}

// IsPending reports whether sendID is still scheduled (used by
// is_event_pending in tests, spec.md S5).
func (s *Scheduler) IsPending(sendID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bySend[sendID]
	return ok
}

func (s *Scheduler) timerLoop() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.heap) == 0 {
			wait = time.Hour
		} else {
			wait = s.heap[0].at.Sub(s.nowFn())
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.quit:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.nowFn()
	var due []*scheduled
	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].at.After(now) {
		item := heap.Pop(&s.heap).(*scheduled)
		delete(s.bySend, item.sendID)
		due = append(due, item)
	}
	s.mu.Unlock()

	for _, item := range due {
		item := item
		select {
		case s.workers <- func() { s.deliver(item) }:
		default:
			go s.deliver(item)
		}
	}
}

func (s *Scheduler) deliver(item *scheduled) {
	if item.cancelled {
		return
	}
	ctx := context.Background()
	if err := item.target.Deliver(ctx, item.event); err != nil {
		s.log.Warn("scheduler: delivery failed", "sendid", item.sendID, "event", item.event.Name, "error", err)
	}
}

// Shutdown cancels every pending event and stops the timer/worker goroutines
// (spec.md §4.5 "on shutdown all pending events are cancelled").
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.heap = nil
	s.bySend = map[string]*scheduled{}
	s.mu.Unlock()
	close(s.quit)
	<-s.done
	close(s.workers)
}
