package interp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/datamodel"
	"github.com/scxml-go/runtime/internal/invoke"
	"github.com/scxml-go/runtime/internal/model"
)

func newTestOptions() Options {
	engine := datamodel.NewEngine()
	return Options{DataModel: ECMAScriptDataModel(engine)}
}

func buildBasicMachine(t *testing.T) *model.Machine {
	t.Helper()
	b := model.NewBuilder("basic", "root")
	b.AddState(&model.State{ID: "root", Kind: model.Compound, Initial: "a"})
	b.AddState(&model.State{
		ID: "a", Kind: model.Atomic, Parent: "root",
		Trans: []model.Transition{{Events: []string{"go"}, Targets: []string{"b"}}},
	})
	b.AddState(&model.State{ID: "b", Kind: model.Final, Parent: "root"})
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestBasicTransitionReachesFinal(t *testing.T) {
	m := buildBasicMachine(t)
	s, err := New(context.Background(), m, newTestOptions())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Contains(t, s.Configuration(), "a")
	require.False(t, s.IsFinal())

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "go"}))
	require.Eventually(t, func() bool { return s.IsFinal() }, time.Second, 5*time.Millisecond)
}

func buildGuardMachine(t *testing.T) *model.Machine {
	t.Helper()
	b := model.NewBuilder("guard", "root")
	b.AddState(&model.State{ID: "root", Kind: model.Compound, Initial: "a"})
	b.AddState(&model.State{
		ID: "a", Kind: model.Atomic, Parent: "root",
		Trans: []model.Transition{{Events: []string{"go"}, Cond: "x.y", Targets: []string{"b"}}},
	})
	b.AddState(&model.State{ID: "b", Kind: model.Final, Parent: "root"})
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestGuardFailureLeavesStateUnchanged(t *testing.T) {
	m := buildGuardMachine(t)
	s, err := New(context.Background(), m, newTestOptions())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "go"}))
	time.Sleep(50 * time.Millisecond)
	require.Contains(t, s.Configuration(), "a")
	require.False(t, s.IsFinal())
}

func TestParallelCompletionSynthesizesDoneState(t *testing.T) {
	b := model.NewBuilder("par", "root")
	b.AddState(&model.State{
		ID: "root", Kind: model.Compound, Initial: "p",
		Trans: []model.Transition{{Events: []string{"done.state.p"}, Targets: []string{"done"}}},
	})
	b.AddState(&model.State{ID: "p", Kind: model.Parallel, Parent: "root"})
	b.AddState(&model.State{ID: "r1", Kind: model.Compound, Parent: "p", Initial: "r1a"})
	b.AddState(&model.State{
		ID: "r1a", Kind: model.Atomic, Parent: "r1",
		Trans: []model.Transition{{Events: []string{"done1"}, Targets: []string{"r1f"}}},
	})
	b.AddState(&model.State{ID: "r1f", Kind: model.Final, Parent: "r1"})
	b.AddState(&model.State{ID: "r2", Kind: model.Compound, Parent: "p", Initial: "r2a"})
	b.AddState(&model.State{
		ID: "r2a", Kind: model.Atomic, Parent: "r2",
		Trans: []model.Transition{{Events: []string{"done2"}, Targets: []string{"r2f"}}},
	})
	b.AddState(&model.State{ID: "r2f", Kind: model.Final, Parent: "r2"})
	b.AddState(&model.State{ID: "done", Kind: model.Final, Parent: "root"})
	m, err := b.Build()
	require.NoError(t, err)

	s, err := New(context.Background(), m, newTestOptions())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "done1"}))
	require.Eventually(t, func() bool { return s.In(context.Background(), "r1f") }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "done2"}))
	require.Eventually(t, func() bool { return s.IsFinal() }, time.Second, 5*time.Millisecond)
}

// TestDeepHistoryRestoresLastActiveChild exercises spec.md's S4 seed
// scenario: leaving a compound state and returning to its history
// pseudo-state re-enters the last active child, not the default initial.
func TestDeepHistoryRestoresLastActiveChild(t *testing.T) {
	b := model.NewBuilder("hist", "root")
	b.AddState(&model.State{ID: "root", Kind: model.Compound, Initial: "outer"})
	b.AddState(&model.State{ID: "outer", Kind: model.Compound, Parent: "root", Initial: "s1"})
	b.AddState(&model.State{
		ID: "h", Kind: model.History, Parent: "outer", HistoryDepth: model.Deep,
		HistoryDefault: &model.Transition{Targets: []string{"s1"}},
	})
	b.AddState(&model.State{
		ID: "s1", Kind: model.Atomic, Parent: "outer",
		Trans: []model.Transition{{Events: []string{"next"}, Targets: []string{"s2"}}},
	})
	b.AddState(&model.State{
		ID: "s2", Kind: model.Atomic, Parent: "outer",
		Trans: []model.Transition{{Events: []string{"leave"}, Targets: []string{"away"}}},
	})
	b.AddState(&model.State{
		ID: "away", Kind: model.Atomic, Parent: "root",
		Trans: []model.Transition{{Events: []string{"back"}, Targets: []string{"h"}}},
	})
	m, err := b.Build()
	require.NoError(t, err)

	s, err := New(context.Background(), m, newTestOptions())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.Contains(t, s.Configuration(), "s1")

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "next"}))
	require.Eventually(t, func() bool { return s.In(context.Background(), "s2") }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "leave"}))
	require.Eventually(t, func() bool { return s.In(context.Background(), "away") }, time.Second, 5*time.Millisecond)
	require.False(t, s.In(context.Background(), "s2"))

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "back"}))
	require.Eventually(t, func() bool { return s.In(context.Background(), "s2") }, time.Second, 5*time.Millisecond)
	require.False(t, s.In(context.Background(), "s1"))
}

// TestDelayedSendCancelledBeforeDeadlineNeverDelivers exercises spec.md's
// S5 seed scenario and §8 boundary behavior: cancel(s) before the
// deadline means no callback with that sendid ever fires.
func TestDelayedSendCancelledBeforeDeadlineNeverDelivers(t *testing.T) {
	b := model.NewBuilder("delayed", "root")
	b.AddState(&model.State{ID: "root", Kind: model.Compound, Initial: "a"})
	b.AddState(&model.State{
		ID: "a", Kind: model.Atomic, Parent: "root",
		OnEntry: [][]model.Action{{
			{Kind: model.ActionSend, Event: "timeout", Target: "#_internal", Delay: "200ms", SendID: "timer1"},
		}},
		Trans: []model.Transition{
			{Events: []string{"cancel-timer"}, Actions: []model.Action{{Kind: model.ActionCancel, SendID: "timer1"}}},
			{Events: []string{"timeout"}, Targets: []string{"timedout"}},
		},
	})
	b.AddState(&model.State{ID: "timedout", Kind: model.Final, Parent: "root"})
	m, err := b.Build()
	require.NoError(t, err)

	s, err := New(context.Background(), m, newTestOptions())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "cancel-timer"}))
	time.Sleep(400 * time.Millisecond)
	require.False(t, s.IsFinal())
}

// TestInvokeDeferredThenCancelledOnExitNeverRuns exercises spec.md's S6
// seed scenario: an <invoke> declared on a state that is exited by an
// eventless transition before the macrostep ends never gets a chance to
// start (invokes only start once stabilize has quiesced, spec.md §4.7).
func TestInvokeDeferredThenCancelledOnExitNeverRuns(t *testing.T) {
	var started bool
	reg := invoke.NewRegistry()
	reg.Register("probe", func(ctx context.Context, decl model.InvokeDecl, invokeID string, params map[string]any, content any, parentSend func(*scxml.Event)) (invoke.Instance, error) {
		started = true
		return fakeProbeInstance{}, nil
	})

	b := model.NewBuilder("invokecancel", "root")
	b.AddState(&model.State{ID: "root", Kind: model.Compound, Initial: "working"})
	b.AddState(&model.State{
		ID: "working", Kind: model.Atomic, Parent: "root",
		Invokes: []model.InvokeDecl{{ID: "probe", Type: "probe"}},
		Trans:   []model.Transition{{Targets: []string{"aborted"}}}, // eventless
	})
	b.AddState(&model.State{ID: "aborted", Kind: model.Final, Parent: "root"})
	m, err := b.Build()
	require.NoError(t, err)

	opts := newTestOptions()
	opts.InvokeTypes = reg
	s, err := New(context.Background(), m, opts)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.True(t, s.IsFinal())
	require.False(t, started)
}

// TestConfigurationInvariantsHoldAcrossParallelTransition exercises
// spec.md's §8 universal invariants 1, 2 and 7 directly: exactly one
// active child per compound state and all regions of an active parallel
// state, every active state's ancestor chain active, and In(id) true
// for an active state when evaluated from that state's own action.
func TestConfigurationInvariantsHoldAcrossParallelTransition(t *testing.T) {
	b := model.NewBuilder("invariants", "root")
	b.AddState(&model.State{ID: "root", Kind: model.Compound, Initial: "p"})
	b.AddState(&model.State{
		ID: "p", Kind: model.Parallel, Parent: "root",
		Trans: []model.Transition{{
			Events: []string{"check"}, Cond: "In('p')",
			Targets: []string{"verified"},
		}},
	})
	b.AddState(&model.State{ID: "r1", Kind: model.Compound, Parent: "p", Initial: "r1a"})
	b.AddState(&model.State{ID: "r1a", Kind: model.Atomic, Parent: "r1"})
	b.AddState(&model.State{ID: "r2", Kind: model.Compound, Parent: "p", Initial: "r2a"})
	b.AddState(&model.State{ID: "r2a", Kind: model.Atomic, Parent: "r2"})
	b.AddState(&model.State{ID: "verified", Kind: model.Final, Parent: "root"})
	m, err := b.Build()
	require.NoError(t, err)

	s, err := New(context.Background(), m, newTestOptions())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	cfg := map[string]bool{}
	for _, id := range s.Configuration() {
		cfg[id] = true
	}
	// invariant 1: exactly one active child of compound r1 and r2, and
	// all regions (r1, r2) of parallel p active.
	require.True(t, cfg["r1"])
	require.True(t, cfg["r2"])
	require.True(t, cfg["r1a"])
	require.True(t, cfg["r2a"])
	// invariant 2: ancestor chain up to root active for every leaf.
	require.True(t, cfg["p"])
	require.True(t, cfg["root"])

	// invariant 7: In('p') evaluated from the guard of a transition on
	// active state p must observe p as active and fire the transition.
	require.NoError(t, s.Handle(context.Background(), &scxml.Event{Name: "check"}))
	require.Eventually(t, func() bool { return s.IsFinal() }, time.Second, 5*time.Millisecond)
}

type fakeProbeInstance struct{}

func (fakeProbeInstance) Send(ctx context.Context, e *scxml.Event) error { return nil }
func (fakeProbeInstance) Cancel(ctx context.Context) error               { return nil }
