package interp

import (
	"context"
	"fmt"
	"time"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/model"
)

func parseDelay(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("interp: invalid delay %q: %w", raw, err)
	}
	return d, nil
}

// Start computes the initial configuration (entering the root's default
// descendant chain), runs onentry handlers, then drains to quiescence
// before spawning the event loop goroutine (spec.md §4.1 "initial
// macrostep").
func (s *Session) Start(ctx context.Context) error {
	ctx, span := s.span(ctx, "interp.start")
	defer span.End()

	if s.dm == nil {
		return fmt.Errorf("interp: session has no data model; pass Options.DataModel to New")
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	for _, body := range s.m.Script {
		if err := s.dm.ExecuteScript(ctx, body); err != nil {
			s.log.Warn("interp: document script failed", "error", err)
		}
	}
	if err := s.dm.Initialize(ctx, convertData(s.m.Data)); err != nil {
		return fmt.Errorf("interp: initialize top-level data: %w", err)
	}

	toEnter := map[string]bool{}
	s.addDescendantStatesToEnter(s.m.Root, toEnter)
	s.enterStates(ctx, s.orderByDocOrder(toEnter, false))

	s.stabilize(ctx)
	s.invokes.Flush(ctx, func(id string) bool { return s.configuration[id] }, func(e *scxml.Event) {
		s.relayInvokeEvent(ctx, e)
	})

	s.recordAudit(ctx, "start", s.m.Name, s.Configuration())
	go s.loop(ctx)
	return nil
}

func convertData(items []model.DataItem) []scxml.Data {
	out := make([]scxml.Data, len(items))
	for i, d := range items {
		out[i] = scxml.Data{ID: d.ID, Expr: d.Expr, Src: d.Src, Content: d.Content}
	}
	return out
}

// enterStates adds each id to the configuration, runs its onentry
// content, defers its invokes, and raises done.state/session completion
// for final states, in the given (already document-ordered) order.
func (s *Session) enterStates(ctx context.Context, ordered []string) {
	for _, id := range ordered {
		st := s.m.States[id]
		s.mu.Lock()
		s.configuration[id] = true
		s.mu.Unlock()

		if st.IsParallel() {
			s.par.OnEntry(id)
		}
		s.initDataForState(ctx, st)

		for _, block := range st.OnEntry {
			s.runActions(ctx, block)
		}
		for i, inv := range st.Invokes {
			s.deferInvoke(ctx, id, inv, i)
		}
		if st.IsFinal() {
			s.handleFinalEntered(ctx, id)
		}
	}
}

// exitStates records history for any state about to lose its children,
// runs onexit content, cancels owned invokes, and removes each id from
// the configuration, in the given (already reverse-document-ordered)
// order.
func (s *Session) exitStates(ctx context.Context, ordered []string) {
	for _, id := range ordered {
		if len(s.hist.RegisteredFor(id)) > 0 {
			s.hist.Record(id, s.configurationSnapshot())
		}
	}
	for _, id := range ordered {
		st := s.m.States[id]
		for _, block := range st.OnExit {
			s.runActions(ctx, block)
		}
		s.invokes.CancelForState(ctx, id)
		if st.IsParallel() {
			s.par.OnExit(id)
		}
		s.mu.Lock()
		delete(s.configuration, id)
		s.mu.Unlock()
	}
}

func (s *Session) configurationSnapshot() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.configuration))
	for id := range s.configuration {
		out[id] = true
	}
	return out
}

func (s *Session) initDataForState(ctx context.Context, st *model.State) {
	if len(st.Data) == 0 || s.dataInit[st.ID] {
		return
	}
	s.dataInit[st.ID] = true
	if err := s.dm.Initialize(ctx, convertData(st.Data)); err != nil {
		s.raiseError(ctx, "error.execution", err)
	}
}

func (s *Session) handleFinalEntered(ctx context.Context, id string) {
	st := s.m.States[id]
	parentID := st.Parent
	data, err := s.evalDoneData(ctx, st.Done)
	if err != nil {
		s.raiseError(ctx, "error.execution", err)
	}

	if s.isTopLevelFinal(id) {
		s.mu.Lock()
		alreadyDone := s.final
		s.final = true
		s.doneData = data
		s.mu.Unlock()
		if !alreadyDone {
			close(s.doneCh)
		}
		s.recordAudit(ctx, "done", s.m.Name, data)
		return
	}

	parent := s.m.States[parentID]
	if parent.IsParallel() {
		if s.par.NotifyFinalEntered(parentID, id) {
			s.q.PushInternal(&scxml.Event{Name: "done.state." + parentID, Type: scxml.EventTypeInternal, Data: data})
		}
		return
	}
	s.q.PushInternal(&scxml.Event{Name: "done.state." + parentID, Type: scxml.EventTypeInternal, Data: data})
	if grand, ok := s.m.States[parent.Parent]; ok && grand.IsParallel() {
		if s.par.NotifyFinalEntered(grand.ID, id) {
			s.q.PushInternal(&scxml.Event{Name: "done.state." + grand.ID, Type: scxml.EventTypeInternal})
		}
	}
}

// isTopLevelFinal reports whether id is a direct child of the root (a
// single top-level final completes the whole session, spec.md §4.1).
func (s *Session) isTopLevelFinal(id string) bool {
	return s.m.States[id].Parent == s.m.Root
}

func (s *Session) evalDoneData(ctx context.Context, dd *model.DoneData) (any, error) {
	if dd == nil {
		return nil, nil
	}
	if dd.ContentExpr != "" {
		return s.dm.EvaluateValue(ctx, dd.ContentExpr)
	}
	if dd.ContentText != "" {
		return dd.ContentText, nil
	}
	if len(dd.Params) == 0 {
		return nil, nil
	}
	out := map[string]any{}
	for _, p := range dd.Params {
		if p.Location != "" {
			v, err := s.dm.EvaluateLocation(ctx, p.Location)
			if err != nil {
				return nil, err
			}
			out[p.Name] = v
		} else if p.Expr != "" {
			v, err := s.dm.EvaluateValue(ctx, p.Expr)
			if err != nil {
				return nil, err
			}
			out[p.Name] = v
		}
	}
	return out, nil
}

func (s *Session) deferInvoke(ctx context.Context, stateID string, inv model.InvokeDecl, index int) {
	invID := inv.ID
	if invID == "" && inv.IDLocation != "" {
		invID = fmt.Sprintf("%s.%s.%d", stateID, s.id, index)
		if err := s.dm.Assign(ctx, inv.IDLocation, invID); err != nil {
			s.raiseError(ctx, "error.execution", err)
		}
	}
	if invID == "" {
		invID = fmt.Sprintf("%s.%s.%d", stateID, s.id, index)
	}

	params := map[string]any{}
	for _, p := range inv.Params {
		if p.Location != "" {
			v, err := s.dm.EvaluateLocation(ctx, p.Location)
			if err == nil {
				params[p.Name] = v
			}
		} else if p.Expr != "" {
			v, err := s.dm.EvaluateValue(ctx, p.Expr)
			if err == nil {
				params[p.Name] = v
			}
		}
	}

	if len(inv.Finalize) > 0 {
		s.finalizers[invID] = inv.Finalize
	}
	s.invokes.Defer(stateID, invID, inv, params, inv.Content)
}

// relayInvokeEvent runs the owning invoke's <finalize> content (spec.md
// §4.7: finalize runs on every event the invocation sends back, before
// it is added to the external queue) then enqueues e for processing.
func (s *Session) relayInvokeEvent(ctx context.Context, e *scxml.Event) {
	if e.InvokeID != "" {
		if actions, ok := s.finalizers[e.InvokeID]; ok {
			s.dm.SetCurrentEvent(ctx, e)
			s.runActions(ctx, actions)
		}
	}
	s.q.PushExternal(e)
	s.wakeLoop()
}

// microstep executes one selected-transition batch: record history,
// exit states, run transition actions, enter states (spec.md §4.1 steps
// 3-6).
func (s *Session) microstep(ctx context.Context, selectedTs []selected) bool {
	if len(selectedTs) == 0 {
		return false
	}
	exitSet := s.computeExitSet(selectedTs)
	s.exitStates(ctx, s.orderByDocOrder(exitSet, true))

	for _, sel := range selectedTs {
		s.runActions(ctx, sel.t.Actions)
	}

	entrySet := s.computeEntrySet(selectedTs)
	s.enterStates(ctx, s.orderByDocOrder(entrySet, false))
	return true
}

// stabilize drains eventless transitions and internally-raised events
// until neither is available, per spec.md §4.1 "macrostep completion"
// (grounded on EventProcessingAlgorithms::processMacrostep).
func (s *Session) stabilize(ctx context.Context) {
	const maxIterations = 10000
	for i := 0; i < maxIterations; i++ {
		if ev, ok := s.q.PopInternal(); ok {
			selectedTs := s.selectTransitionsFor(ev, func(expr string) bool {
				s.dm.SetCurrentEvent(ctx, ev)
				return s.evalCond(ctx, expr)
			})
			s.dm.SetCurrentEvent(ctx, ev)
			s.microstep(ctx, selectedTs)
			continue
		}
		selectedTs := s.selectTransitionsFor(nil, func(expr string) bool { return s.evalCond(ctx, expr) })
		if len(selectedTs) == 0 {
			return
		}
		s.microstep(ctx, selectedTs)
	}
	s.log.Error("interp: eventless transition loop exceeded iteration budget", "session", s.id)
}

func (s *Session) flushPendingInvokes(ctx context.Context) {
	s.invokes.Flush(ctx, func(id string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.configuration[id]
	}, func(e *scxml.Event) {
		s.relayInvokeEvent(ctx, e)
	})
}

// loop is the session's single owning goroutine: pop the next external
// event once internal/eventless activity has quiesced, process it as a
// macrostep, then stabilize again (spec.md §4.1).
func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			// stabilize already drains every internal event and eventless
			// transition to quiescence, so only external events remain here.
			ev, ok := s.q.Pop()
			if !ok {
				break
			}
			s.processExternal(ctx, ev)
			s.stabilize(ctx)
			s.flushPendingInvokes(ctx)
			if s.IsFinal() {
				return
			}
		}
	}
}

func (s *Session) processExternal(ctx context.Context, ev *scxml.Event) {
	s.dm.SetCurrentEvent(ctx, ev)
	s.recordAudit(ctx, "event", ev.Name, ev.Data)
	selectedTs := s.selectTransitionsFor(ev, func(expr string) bool { return s.evalCond(ctx, expr) })
	s.microstep(ctx, selectedTs)
}
