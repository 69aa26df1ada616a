package datamodel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	scxml "github.com/scxml-go/runtime"
)

func newTestSession(t *testing.T, configured func() []string) (*Engine, *Session) {
	t.Helper()
	e := NewEngine()
	t.Cleanup(func() { e.Close() })
	if configured == nil {
		configured = func() []string { return nil }
	}
	s, err := New(context.Background(), e, "sess1", "", configured)
	require.NoError(t, err)
	return e, s
}

func TestAssignEmptyLocationRaisesExecutionError(t *testing.T) {
	_, s := newTestSession(t, nil)
	err := s.Assign(context.Background(), "", 1)
	require.Error(t, err)
	var perr *scxml.PlatformError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "error.execution", perr.EventName)
	require.Equal(t, "Assignment location cannot be empty", perr.Message)
}

func TestEvaluateConditionThrows(t *testing.T) {
	_, s := newTestSession(t, nil)
	ok, err := s.EvaluateCondition(context.Background(), "x.y")
	require.Error(t, err)
	require.False(t, ok)
}

func TestForeachOverEmptyArrayNoIterations(t *testing.T) {
	_, s := newTestSession(t, nil)
	ctx := context.Background()
	require.NoError(t, s.ExecuteScript(ctx, "var arr = [];"))
	calls := 0
	err := s.Foreach(ctx, "arr", "item", "", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}

func TestForeachBindsItemAndIndex(t *testing.T) {
	_, s := newTestSession(t, nil)
	ctx := context.Background()
	require.NoError(t, s.ExecuteScript(ctx, "var arr = [10,20,30];"))
	var sum, idxSum int
	err := s.Foreach(ctx, "arr", "item", "idx", func(ctx context.Context) error {
		v, err := s.GetVariable(ctx, "item")
		require.NoError(t, err)
		sum += int(v.(int64))
		idx, err := s.GetVariable(ctx, "idx")
		require.NoError(t, err)
		idxSum += int(idx.(int64))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 60, sum)
	require.Equal(t, 3, idxSum)
}

func TestInBuiltinReflectsConfiguration(t *testing.T) {
	active := map[string]bool{"a": true}
	_, s := newTestSession(t, func() []string {
		var out []string
		for k := range active {
			out = append(out, k)
		}
		return out
	})
	ctx := context.Background()
	ok, err := s.EvaluateCondition(ctx, "In('a')")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.EvaluateCondition(ctx, "In('b')")
	require.NoError(t, err)
	require.False(t, ok)
}
