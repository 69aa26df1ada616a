package history

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scxml-go/runtime/internal/model"
)

func buildOuterMidMachine(t *testing.T) *model.Machine {
	t.Helper()
	b := model.NewBuilder("m", "outer")
	b.AddState(&model.State{ID: "outer", Kind: model.Compound, Initial: "mid"})
	b.AddState(&model.State{ID: "mid", Kind: model.Compound, Parent: "outer", Initial: "leaf1"})
	b.AddState(&model.State{ID: "leaf1", Kind: model.Atomic, Parent: "mid"})
	b.AddState(&model.State{ID: "leaf2", Kind: model.Atomic, Parent: "mid"})
	b.AddState(&model.State{ID: "h", Kind: model.History, Parent: "outer", HistoryDepth: model.Deep})
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestDeepHistoryRecordAndRestore(t *testing.T) {
	m := buildOuterMidMachine(t)
	mgr := New(m)
	config := map[string]bool{"outer": true, "mid": true, "leaf2": true}

	mgr.Record("outer", config)
	restored, ok := mgr.Restore("h")
	require.True(t, ok)
	require.Equal(t, map[string]bool{"leaf2": true}, restored)
}

func TestShallowHistoryKeepsOnlyDirectChildren(t *testing.T) {
	b := model.NewBuilder("m", "outer")
	b.AddState(&model.State{ID: "outer", Kind: model.Compound, Initial: "mid"})
	b.AddState(&model.State{ID: "mid", Kind: model.Compound, Parent: "outer", Initial: "leaf1"})
	b.AddState(&model.State{ID: "leaf1", Kind: model.Atomic, Parent: "mid"})
	b.AddState(&model.State{ID: "h", Kind: model.History, Parent: "outer", HistoryDepth: model.Shallow})
	m, err := b.Build()
	require.NoError(t, err)

	mgr := New(m)
	mgr.Record("outer", map[string]bool{"outer": true, "mid": true, "leaf1": true})
	restored, ok := mgr.Restore("h")
	require.True(t, ok)
	require.Equal(t, map[string]bool{"mid": true}, restored)
}

func TestRestoreWithoutRecordingReturnsFalse(t *testing.T) {
	m := buildOuterMidMachine(t)
	mgr := New(m)
	_, ok := mgr.Restore("h")
	require.False(t, ok)
}
