package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scxml "github.com/scxml-go/runtime"
)

type recordingTarget struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingTarget) Deliver(ctx context.Context, e *scxml.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e.Name)
	return nil
}

func (r *recordingTarget) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestScheduleDeliversAfterDelay(t *testing.T) {
	s := New(nil, 2)
	defer s.Shutdown()
	tgt := &recordingTarget{}
	_, err := s.Schedule(context.Background(), &scxml.Event{Name: "ping"}, 20*time.Millisecond, tgt, "", "sess")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tgt.names()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"ping"}, tgt.names())
}

func TestCancelPreventsDelivery(t *testing.T) {
	s := New(nil, 2)
	defer s.Shutdown()
	tgt := &recordingTarget{}
	id, err := s.Schedule(context.Background(), &scxml.Event{Name: "ping"}, 50*time.Millisecond, tgt, "s1", "sess")
	require.NoError(t, err)
	require.True(t, s.IsPending(id))

	ok := s.Cancel(id)
	require.True(t, ok)
	require.False(t, s.IsPending(id))

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, tgt.names())
}

func TestScheduleSameSendIDCancelsPrior(t *testing.T) {
	s := New(nil, 2)
	defer s.Shutdown()
	tgt := &recordingTarget{}
	_, err := s.Schedule(context.Background(), &scxml.Event{Name: "first"}, 200*time.Millisecond, tgt, "dup", "sess")
	require.NoError(t, err)
	_, err = s.Schedule(context.Background(), &scxml.Event{Name: "second"}, 20*time.Millisecond, tgt, "dup", "sess")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tgt.names()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"second"}, tgt.names())
}

func TestCancelForSession(t *testing.T) {
	s := New(nil, 2)
	defer s.Shutdown()
	tgt := &recordingTarget{}
	id1, _ := s.Schedule(context.Background(), &scxml.Event{Name: "a"}, 100*time.Millisecond, tgt, "", "sess1")
	id2, _ := s.Schedule(context.Background(), &scxml.Event{Name: "b"}, 100*time.Millisecond, tgt, "", "sess1")
	id3, _ := s.Schedule(context.Background(), &scxml.Event{Name: "c"}, 100*time.Millisecond, tgt, "", "sess2")

	n := s.CancelForSession("sess1")
	require.Equal(t, 2, n)
	require.False(t, s.IsPending(id1))
	require.False(t, s.IsPending(id2))
	require.True(t, s.IsPending(id3))
}
