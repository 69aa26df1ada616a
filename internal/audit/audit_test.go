package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBufferEvictsOldestBeyondCapacity(t *testing.T) {
	l := New(2)
	l.Record(context.Background(), "s1", "event", "a", nil)
	l.Record(context.Background(), "s1", "event", "b", nil)
	l.Record(context.Background(), "s1", "event", "c", nil)

	recent := l.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "b", recent[0].Name)
	require.Equal(t, "c", recent[1].Name)
}

func TestRecentCapsAtRequestedCount(t *testing.T) {
	l := New(10)
	for _, name := range []string{"a", "b", "c"} {
		l.Record(context.Background(), "s1", "event", name, nil)
	}
	require.Len(t, l.Recent(2), 2)
}
