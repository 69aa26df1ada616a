// Package invoke implements the invoke lifecycle (spec.md §4.7):
// deferring <invoke> at state entry, cancelling on exit, starting the
// child process at macrostep end, and synthesizing done.invoke.<id>
// when the child finishes.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/model"
)

var tracer = otel.Tracer("github.com/scxml-go/runtime/internal/invoke")

// Instance is a running invoked process: a child SCXML session, a
// subprocess, or any other external actor the platform can address.
type Instance interface {
	// Send delivers an external event to the invoked process.
	Send(ctx context.Context, event *scxml.Event) error
	// Cancel tears the process down early, on state exit.
	Cancel(ctx context.Context) error
}

// StartFunc starts one invocation. parentSend delivers events the
// invocation raises back at the parent session, including the
// done.invoke.<id> event the StartFunc sends when the invocation
// completes (Manager.Finish also synthesizes it when called).
type StartFunc func(ctx context.Context, decl model.InvokeDecl, invokeID string, params map[string]any, content any, parentSend func(*scxml.Event)) (Instance, error)

// Registry maps an invoke type URI (or shorthand) to its StartFunc.
type Registry struct {
	mu    sync.RWMutex
	types map[string]StartFunc
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]StartFunc{}}
}

// Register associates typeURI with fn. Re-registering overwrites.
func (r *Registry) Register(typeURI string, fn StartFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typeURI] = fn
}

func (r *Registry) lookup(typeURI string) (StartFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.types[typeURI]
	return fn, ok
}

type deferredInvoke struct {
	stateID  string
	decl     model.InvokeDecl
	invokeID string
	params   map[string]any
	content  any
}

type runningInvoke struct {
	stateID  string
	invokeID string
	instance Instance
}

// Manager tracks deferred and running invokes for one session.
type Manager struct {
	reg      *Registry
	log      *slog.Logger
	deferred map[string][]*deferredInvoke // stateID -> not-yet-started invokes
	running  map[string]*runningInvoke    // invokeID -> running instance
	byState  map[string][]string          // stateID -> invokeIDs currently running
	mu       sync.Mutex
}

// NewManager builds a Manager backed by reg.
func NewManager(reg *Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		reg:      reg,
		log:      log,
		deferred: map[string][]*deferredInvoke{},
		running:  map[string]*runningInvoke{},
		byState:  map[string][]string{},
	}
}

// Defer records decl as pending for stateID, to be started at the end of
// the macrostep that entered stateID, provided stateID is still active
// then (spec.md §4.7 "defer-at-entry").
func (mgr *Manager) Defer(stateID, invokeID string, decl model.InvokeDecl, params map[string]any, content any) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.deferred[stateID] = append(mgr.deferred[stateID], &deferredInvoke{
		stateID: stateID, decl: decl, invokeID: invokeID, params: params, content: content,
	})
}

// CancelForState drops deferred invokes owned by stateID and cancels any
// already-running invokes it owns (spec.md §4.7 "cancel-at-exit").
func (mgr *Manager) CancelForState(ctx context.Context, stateID string) {
	mgr.mu.Lock()
	delete(mgr.deferred, stateID)
	ids := mgr.byState[stateID]
	delete(mgr.byState, stateID)
	var toCancel []*runningInvoke
	for _, id := range ids {
		if ri, ok := mgr.running[id]; ok {
			toCancel = append(toCancel, ri)
			delete(mgr.running, id)
		}
	}
	mgr.mu.Unlock()

	for _, ri := range toCancel {
		if err := ri.instance.Cancel(ctx); err != nil {
			mgr.log.Warn("invoke: cancel failed", "invokeid", ri.invokeID, "error", err)
		}
	}
}

// Flush starts every deferred invoke whose owning state satisfies
// stillActive, at the end of the current macrostep (spec.md §4.7
// "execute-at-macrostep-end"). parentSend delivers the invocation's
// events (and the synthesized done.invoke.<id>) back into the owning
// session's external queue.
func (mgr *Manager) Flush(ctx context.Context, stillActive func(stateID string) bool, parentSend func(*scxml.Event)) {
	mgr.mu.Lock()
	pending := mgr.deferred
	mgr.deferred = map[string][]*deferredInvoke{}
	mgr.mu.Unlock()

	for stateID, invokes := range pending {
		if !stillActive(stateID) {
			continue
		}
		for _, di := range invokes {
			mgr.start(ctx, di, parentSend)
		}
	}
}

func (mgr *Manager) start(ctx context.Context, di *deferredInvoke, parentSend func(*scxml.Event)) {
	ctx, span := tracer.Start(ctx, "invoke.start", trace.WithAttributes(
		attribute.String("scxml.invoke.id", di.invokeID),
		attribute.String("scxml.invoke.type", di.decl.Type),
	))
	defer span.End()

	fn, ok := mgr.reg.lookup(di.decl.Type)
	if !ok {
		err := fmt.Errorf("invoke: unknown type %q", di.decl.Type)
		span.RecordError(err)
		parentSend(&scxml.Event{
			Name: "error.execution", Type: scxml.EventTypeInternal,
			Data: map[string]any{"message": err.Error(), "invokeid": di.invokeID},
		})
		return
	}

	doneSent := false
	wrappedSend := func(e *scxml.Event) {
		if e.InvokeID == "" {
			e.InvokeID = di.invokeID
		}
		parentSend(e)
	}

	instance, err := fn(ctx, di.decl, di.invokeID, di.params, di.content, func(e *scxml.Event) {
		wrappedSend(e)
	})
	if err != nil {
		span.RecordError(err)
		parentSend(&scxml.Event{
			Name: "error.communication", Type: scxml.EventTypeInternal,
			Data: map[string]any{"message": err.Error(), "invokeid": di.invokeID},
		})
		return
	}

	mgr.mu.Lock()
	mgr.running[di.invokeID] = &runningInvoke{stateID: di.stateID, invokeID: di.invokeID, instance: instance}
	mgr.byState[di.stateID] = append(mgr.byState[di.stateID], di.invokeID)
	mgr.mu.Unlock()

	_ = doneSent
}

// Finish marks invokeID complete, removing it from the running set and
// synthesizing done.invoke.<id>; it does not run any <finalize> handler.
// Safe to call once the Instance itself reports completion through
// whatever side channel its StartFunc wired up.
func (mgr *Manager) Finish(invokeID string, data any, parentSend func(*scxml.Event)) {
	mgr.mu.Lock()
	ri, ok := mgr.running[invokeID]
	if ok {
		delete(mgr.running, invokeID)
		ids := mgr.byState[ri.stateID]
		for i, id := range ids {
			if id == invokeID {
				mgr.byState[ri.stateID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	mgr.mu.Unlock()
	if !ok {
		return
	}
	parentSend(&scxml.Event{
		Name:     "done.invoke." + invokeID,
		Type:     scxml.EventTypeExternal,
		InvokeID: invokeID,
		Data:     data,
	})
}

// Send forwards an external event to a running invocation, used for
// autoforward and explicit #_invokeid targets.
func (mgr *Manager) Send(ctx context.Context, invokeID string, e *scxml.Event) error {
	mgr.mu.Lock()
	ri, ok := mgr.running[invokeID]
	mgr.mu.Unlock()
	if !ok {
		return fmt.Errorf("invoke: no running invocation %q", invokeID)
	}
	return ri.instance.Send(ctx, e)
}

// RunningInState reports the invoke IDs currently running under stateID.
func (mgr *Manager) RunningInState(stateID string) []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]string, len(mgr.byState[stateID]))
	copy(out, mgr.byState[stateID])
	return out
}
