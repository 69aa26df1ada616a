package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func simpleMachine(t *testing.T) *Machine {
	t.Helper()
	b := NewBuilder("m", "root")
	b.AddState(&State{ID: "root", Kind: Compound, Initial: "a"})
	b.AddState(&State{ID: "a", Kind: Atomic, Parent: "root"})
	b.AddState(&State{ID: "b", Kind: Atomic, Parent: "root"})
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestLCCA(t *testing.T) {
	m := simpleMachine(t)
	require.Equal(t, "root", m.LCCA("a", "b"))
	require.Equal(t, "root", m.LCCA("a", "a"))
}

func TestAncestors(t *testing.T) {
	m := simpleMachine(t)
	require.Equal(t, []string{"a", "root"}, m.Ancestors("a"))
}

func TestValidateDetectsUnresolvedTarget(t *testing.T) {
	b := NewBuilder("m", "root")
	b.AddState(&State{ID: "root", Kind: Compound, Initial: "a"})
	b.AddState(&State{ID: "a", Kind: Atomic, Parent: "root", Trans: []Transition{
		{Events: []string{"go"}, Targets: []string{"ghost"}},
	}})
	_, err := b.Build()
	require.Error(t, err)
}

func TestValidateRejectsMixedDoneData(t *testing.T) {
	b := NewBuilder("m", "root")
	b.AddState(&State{ID: "root", Kind: Compound, Initial: "f"})
	b.AddState(&State{ID: "f", Kind: Final, Parent: "root", Done: &DoneData{
		ContentExpr: "x", Params: []DoneDataParam{{Name: "y", Expr: "1"}},
	}})
	_, err := b.Build()
	require.Error(t, err)
}

func TestHistoryMustParentCompoundOrParallel(t *testing.T) {
	b := NewBuilder("m", "root")
	b.AddState(&State{ID: "root", Kind: Compound, Initial: "a"})
	b.AddState(&State{ID: "a", Kind: Atomic, Parent: "root"})
	b.AddState(&State{ID: "h", Kind: History, Parent: "a", HistoryDepth: Shallow})
	_, err := b.Build()
	require.Error(t, err)
}
