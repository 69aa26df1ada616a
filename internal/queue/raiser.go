package queue

import (
	"log/slog"

	scxml "github.com/scxml-go/runtime"
)

// Mode selects how Raiser.Raise delivers an event (spec.md §4.4).
type Mode int

const (
	// Queued appends to the internal queue and returns immediately; used
	// for asynchronous sources (scheduler callbacks, invoke completions).
	Queued Mode = iota
	// Immediate invokes the interpreter's callback synchronously so
	// ordering follows document order; used while executing content.
	Immediate
)

// Callback is the interpreter's "process one more internal event right
// now" hook, used only in Immediate mode.
type Callback func(e *scxml.Event)

// Raiser is fire-and-forget: callers never learn whether a handler further
// down the line failed (spec.md §4.4); failures are logged, not propagated.
type Raiser struct {
	q        *Queue
	mode     Mode
	callback Callback
	log      *slog.Logger
}

// NewRaiser builds a Raiser over q. callback may be nil in Queued mode.
func NewRaiser(q *Queue, mode Mode, callback Callback, log *slog.Logger) *Raiser {
	if log == nil {
		log = slog.Default()
	}
	return &Raiser{q: q, mode: mode, callback: callback, log: log}
}

// Raise delivers e per the configured mode.
func (r *Raiser) Raise(e *scxml.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("raiser: recovered from panic in callback", "event", e.Name, "panic", rec)
		}
	}()
	switch r.mode {
	case Immediate:
		if r.callback != nil {
			r.callback(e)
			return
		}
		r.q.PushInternal(e)
	default:
		r.q.PushInternal(e)
	}
}
