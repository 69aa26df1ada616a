package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	scxml "github.com/scxml-go/runtime"
)

func TestInternalDrainsBeforeExternal(t *testing.T) {
	q := New()
	q.PushExternal(&scxml.Event{Name: "ext1"})
	q.PushInternal(&scxml.Event{Name: "int1"})
	q.PushExternal(&scxml.Event{Name: "ext2"})
	q.PushInternal(&scxml.Event{Name: "int2"})

	var order []string
	for {
		e, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, e.Name)
	}
	require.Equal(t, []string{"int1", "int2", "ext1", "ext2"}, order)
}

func TestRaiserImmediateInvokesCallbackSynchronously(t *testing.T) {
	q := New()
	var seen []string
	r := NewRaiser(q, Immediate, func(e *scxml.Event) { seen = append(seen, e.Name) }, nil)
	r.Raise(&scxml.Event{Name: "a"})
	require.Equal(t, []string{"a"}, seen)
	require.Equal(t, 0, q.Len())
}

func TestRaiserQueuedAppendsToInternal(t *testing.T) {
	q := New()
	r := NewRaiser(q, Queued, nil, nil)
	r.Raise(&scxml.Event{Name: "a"})
	e, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", e.Name)
}
