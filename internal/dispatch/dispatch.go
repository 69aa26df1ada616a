// Package dispatch implements the event dispatcher and its built-in
// targets (spec.md §4.5): resolving an event descriptor's target URI to a
// concrete delivery mechanism through an open-closed target factory.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	scxml "github.com/scxml-go/runtime"
)

// Target delivers one event. It satisfies scheduler.Target as well, so a
// delayed send and an immediate send share the same delivery code path.
type Target interface {
	Deliver(ctx context.Context, event *scxml.Event) error
}

// Origin is the subset of Interpreter a Target needs to raise completion
// events (http.success/http.error) or deliver to another session's queue.
type Origin interface {
	SessionID() string
	Raise(ctx context.Context, event *scxml.Event)
}

// SessionLookup resolves a session or invoke ID to its running
// Interpreter, used for #_scxml_<sid> and #_<invokeid> targets.
type SessionLookup func(id string) (scxml.Interpreter, bool)

// Factory builds a Target for a resolved URI scheme. Registering
// additional schemes is how the dispatcher stays open-closed (spec.md §4.5).
type Factory func(ctx context.Context, rawTarget string, origin Origin) (Target, error)

// Dispatcher resolves a <send> target URI to a Target. It is stateless and
// safe to call from any goroutine (spec.md §5).
type Dispatcher struct {
	schemes map[string]Factory
	lookup  SessionLookup
	log     *slog.Logger
}

// New builds a Dispatcher with the built-in schemes registered: empty/
// #_internal, #_scxml_<sid>/#_<invokeid>, http:/https:.
func New(lookup SessionLookup, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{schemes: map[string]Factory{}, lookup: lookup, log: log}
	d.Register("", internalFactory)
	d.Register("#_internal", internalFactory)
	d.Register("#_scxml_", d.sessionFactory)
	d.Register("#_", d.sessionFactory)
	d.Register("http://", httpFactory(log))
	d.Register("https://", httpFactory(log))
	return d
}

// Register adds or replaces the factory for a scheme prefix.
func (d *Dispatcher) Register(prefix string, f Factory) { d.schemes[prefix] = f }

// Resolve picks the best-matching registered prefix for rawTarget (the
// longest one it starts with; the "" prefix matches only an empty target)
// and builds a Target bound to origin.
func (d *Dispatcher) Resolve(ctx context.Context, rawTarget string, origin Origin) (Target, error) {
	trimmed := strings.TrimSpace(rawTarget)
	var best Factory
	bestLen := -1
	for prefix, f := range d.schemes {
		if prefix == "" && trimmed != "" {
			continue
		}
		if strings.HasPrefix(trimmed, prefix) && len(prefix) > bestLen {
			best, bestLen = f, len(prefix)
		}
	}
	if best != nil {
		return best(ctx, trimmed, origin)
	}
	return nil, &scxml.PlatformError{
		EventName: "error.communication",
		Message:   fmt.Sprintf("dispatch: no target registered for %q", rawTarget),
	}
}

// internalFactory raises the event back onto the origin session's own
// internal queue (empty target / #_internal, spec.md §4.5 table).
func internalFactory(ctx context.Context, _ string, origin Origin) (Target, error) {
	return targetFunc(func(ctx context.Context, e *scxml.Event) error {
		origin.Raise(ctx, e)
		return nil
	}), nil
}

// sessionFactory delivers to another session's external queue, resolved
// via the dispatcher's SessionLookup (#_scxml_<sid> or #_<invokeid>).
func (d *Dispatcher) sessionFactory(ctx context.Context, rawTarget string, origin Origin) (Target, error) {
	id := strings.TrimPrefix(rawTarget, "#_scxml_")
	id = strings.TrimPrefix(id, "#_")
	if d.lookup == nil {
		return nil, &scxml.PlatformError{EventName: "error.communication", Message: "dispatch: no session lookup configured"}
	}
	target, ok := d.lookup(id)
	if !ok {
		return nil, &scxml.PlatformError{EventName: "error.communication", Message: fmt.Sprintf("dispatch: unknown session target %q", rawTarget)}
	}
	return targetFunc(func(ctx context.Context, e *scxml.Event) error {
		ev := *e
		ev.Origin = origin.SessionID()
		ev.OriginType = scxml.NamespaceURI
		ev.Type = scxml.EventTypeExternal
		return target.Handle(ctx, &ev)
	}), nil
}

type targetFunc func(ctx context.Context, e *scxml.Event) error

func (f targetFunc) Deliver(ctx context.Context, e *scxml.Event) error { return f(ctx, e) }
