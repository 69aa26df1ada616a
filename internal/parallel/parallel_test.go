package parallel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scxml-go/runtime/internal/model"
)

func buildTwoRegionMachine(t *testing.T) *model.Machine {
	t.Helper()
	b := model.NewBuilder("m", "p")
	b.AddState(&model.State{ID: "p", Kind: model.Parallel})
	b.AddState(&model.State{ID: "r1", Kind: model.Compound, Parent: "p", Initial: "r1a"})
	b.AddState(&model.State{ID: "r1a", Kind: model.Atomic, Parent: "r1"})
	b.AddState(&model.State{ID: "r1f", Kind: model.Final, Parent: "r1"})
	b.AddState(&model.State{ID: "r2", Kind: model.Compound, Parent: "p", Initial: "r2a"})
	b.AddState(&model.State{ID: "r2a", Kind: model.Atomic, Parent: "r2"})
	b.AddState(&model.State{ID: "r2f", Kind: model.Final, Parent: "r2"})
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestDoneStateFiresOnceAllRegionsComplete(t *testing.T) {
	m := buildTwoRegionMachine(t)
	o := New(m)
	o.OnEntry("p")

	require.False(t, o.NotifyFinalEntered("p", "r1f"))
	require.False(t, o.IsComplete("p"))
	require.True(t, o.NotifyFinalEntered("p", "r2f"))
	require.True(t, o.IsComplete("p"))
}

func TestDoneStateDoesNotRefireWithoutReentry(t *testing.T) {
	m := buildTwoRegionMachine(t)
	o := New(m)
	o.OnEntry("p")
	o.NotifyFinalEntered("p", "r1f")
	require.True(t, o.NotifyFinalEntered("p", "r2f"))

	require.False(t, o.NotifyFinalEntered("p", "r2f"))
}

func TestOnEntryResetsCompletionForReentry(t *testing.T) {
	m := buildTwoRegionMachine(t)
	o := New(m)
	o.OnEntry("p")
	o.NotifyFinalEntered("p", "r1f")
	o.NotifyFinalEntered("p", "r2f")

	o.OnExit("p")
	o.OnEntry("p")
	require.False(t, o.IsComplete("p"))
	require.False(t, o.NotifyFinalEntered("p", "r1f"))
	require.True(t, o.NotifyFinalEntered("p", "r2f"))
}
