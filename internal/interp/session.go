// Package interp implements the interpreter core (spec.md §4.1): the
// microstep/macrostep loop, transition selection and conflict
// resolution, entry/exit set computation, and the concrete Interpreter
// this package exposes to callers.
package interp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/agentflare-ai/go-xmldom"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/dispatch"
	"github.com/scxml-go/runtime/internal/history"
	"github.com/scxml-go/runtime/internal/invoke"
	"github.com/scxml-go/runtime/internal/model"
	"github.com/scxml-go/runtime/internal/parallel"
	"github.com/scxml-go/runtime/internal/queue"
	"github.com/scxml-go/runtime/internal/scheduler"
)

var tracer = otel.Tracer("github.com/scxml-go/runtime/internal/interp")

// Audit is the optional sink a Session reports lifecycle events to
// (spec.md §4.9). A nil Audit disables recording entirely.
type Audit interface {
	Record(ctx context.Context, sessionID string, kind, name string, data any)
}

// DataModelFactory builds the embedded data model for one session.
type DataModelFactory func(ctx context.Context, sessionID, parentID string, configuration func() []string) (scxml.DataModel, error)

// Options configures a new Session.
type Options struct {
	Log          *slog.Logger
	Clock        scxml.Clock
	Audit        Audit
	DataModel    DataModelFactory
	InvokeTypes  *invoke.Registry
	SessionLookup func(id string) (scxml.Interpreter, bool)
	ParentID     string
}

// Session is the concrete, single-goroutine-owned SCXML interpreter for
// one loaded Machine. All mutation happens on the goroutine that calls
// Start/Send/Raise's delivery path; external callers only enqueue.
type Session struct {
	mu sync.Mutex

	m   *model.Machine
	id  string
	log *slog.Logger

	dm      scxml.DataModel
	q       *queue.Queue
	sched   *scheduler.Scheduler
	disp    *dispatch.Dispatcher
	hist    *history.Manager
	par     *parallel.Orchestrator
	invokes *invoke.Manager
	audit   Audit

	configuration map[string]bool
	dataInit      map[string]bool   // per-state late-bound <data> already initialized
	finalizers    map[string][]model.Action // invokeID -> <finalize> body
	docOrder      []string

	invokedSessions map[string]scxml.Interpreter

	running bool
	final   bool
	doneData any
	doneCh  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wake chan struct{}
}

// New builds a Session over m but does not start it; call Start to run
// the initial macrostep.
func New(ctx context.Context, m *model.Machine, opts Options) (*Session, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	id := uuid.NewString()
	sctx, cancel := context.WithCancel(ctx)

	s := &Session{
		m:               m,
		id:              id,
		log:             opts.Log,
		q:               queue.New(),
		hist:            history.New(m),
		par:             parallel.New(m),
		configuration:   map[string]bool{},
		dataInit:        map[string]bool{},
		finalizers:      map[string][]model.Action{},
		invokedSessions: map[string]scxml.Interpreter{},
		audit:           opts.Audit,
		ctx:             sctx,
		cancel:          cancel,
		wake:            make(chan struct{}, 1),
		doneCh:          make(chan struct{}),
	}
	s.docOrder = documentOrder(m)
	s.sched = scheduler.New(opts.Log, 4)

	lookup := opts.SessionLookup
	if lookup == nil {
		lookup = func(string) (scxml.Interpreter, bool) { return nil, false }
	}
	s.disp = dispatch.New(func(sid string) (scxml.Interpreter, bool) {
		if sid == s.id {
			return s, true
		}
		if inv, ok := s.invokedSessions[sid]; ok {
			return inv, true
		}
		return lookup(sid)
	}, opts.Log)

	invReg := opts.InvokeTypes
	if invReg == nil {
		invReg = invoke.NewRegistry()
	}
	s.invokes = invoke.NewManager(invReg, opts.Log)

	if opts.DataModel != nil {
		dm, err := opts.DataModel(sctx, id, opts.ParentID, s.Configuration)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("interp: build data model: %w", err)
		}
		s.dm = dm
	}

	return s, nil
}

// documentOrder flattens m into a pre-order (document-order) slice
// starting at the root, used for transition-selection priority and
// entry/exit ordering (spec.md §4.1).
func documentOrder(m *model.Machine) []string {
	var out []string
	var walk func(id string)
	walk = func(id string) {
		out = append(out, id)
		s, ok := m.States[id]
		if !ok {
			return
		}
		for _, c := range s.Children {
			walk(c)
		}
	}
	walk(m.Root)
	return out
}

func (s *Session) SessionID() string { return s.id }

func (s *Session) Configuration() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.configuration))
	for id := range s.configuration {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Session) In(ctx context.Context, stateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configuration[stateID]
}

func (s *Session) Context() context.Context { return s.ctx }
func (s *Session) DataModel() scxml.DataModel { return s.dm }
func (s *Session) Tracer() scxml.Tracer       { return nil }
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
func (s *Session) IsFinal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}
func (s *Session) DoneData() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneData, s.final
}
// Done returns a channel closed once the session reaches a top-level
// final state; used by hosts (and nested <invoke type="scxml">) to wait
// for completion without polling IsFinal.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) InvokedSessions() map[string]scxml.Interpreter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]scxml.Interpreter, len(s.invokedSessions))
	for k, v := range s.invokedSessions {
		out[k] = v
	}
	return out
}

// Raise enqueues an internal event (spec.md §4.4 "raise").
func (s *Session) Raise(ctx context.Context, e *scxml.Event) {
	if e.Type == "" {
		e.Type = scxml.EventTypeInternal
	}
	s.q.PushInternal(e)
	s.wakeLoop()
}

// Handle implements scxml.IOProcessor: an external event arrives.
func (s *Session) Handle(ctx context.Context, e *scxml.Event) error {
	if e.Type == "" {
		e.Type = scxml.EventTypeExternal
	}
	s.q.PushExternal(e)
	s.wakeLoop()
	return nil
}

func (s *Session) Location(ctx context.Context) (string, error) {
	return "#_scxml_" + s.id, nil
}
func (s *Session) Type() string { return "scxml" }
func (s *Session) Shutdown(ctx context.Context) error {
	s.cancel()
	s.sched.Shutdown()
	return nil
}

func (s *Session) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Session) recordAudit(ctx context.Context, kind, name string, data any) {
	if s.audit != nil {
		s.audit.Record(ctx, s.id, kind, name, data)
	}
}

func (s *Session) ExecuteElement(ctx context.Context, element xmldom.Element) error {
	return fmt.Errorf("interp: executing raw foreign elements is not supported outside namespace extensions")
}

func (s *Session) Snapshot(ctx context.Context, maybeConfig ...scxml.SnapshotConfig) (xmldom.Document, error) {
	return nil, fmt.Errorf("interp: snapshot rendering is not implemented")
}

var _ scxml.Interpreter = (*Session)(nil)
