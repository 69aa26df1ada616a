package invoke

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/model"
)

type fakeInstance struct {
	sent     []*scxml.Event
	canceled bool
	mu       sync.Mutex
}

func (f *fakeInstance) Send(ctx context.Context, e *scxml.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeInstance) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = true
	return nil
}

func TestFlushStartsOnlyInvokesOwnedByStillActiveStates(t *testing.T) {
	reg := NewRegistry()
	var started []string
	reg.Register("test", func(ctx context.Context, decl model.InvokeDecl, invokeID string, params map[string]any, content any, parentSend func(*scxml.Event)) (Instance, error) {
		started = append(started, invokeID)
		return &fakeInstance{}, nil
	})

	mgr := NewManager(reg, nil)
	mgr.Defer("s1", "inv1", model.InvokeDecl{Type: "test"}, nil, nil)
	mgr.Defer("s2", "inv2", model.InvokeDecl{Type: "test"}, nil, nil)

	var raised []*scxml.Event
	mgr.Flush(context.Background(), func(stateID string) bool { return stateID == "s1" }, func(e *scxml.Event) {
		raised = append(raised, e)
	})

	require.Equal(t, []string{"inv1"}, started)
	require.Equal(t, []string{"inv1"}, mgr.RunningInState("s1"))
}

func TestCancelForStateCancelsRunningInvoke(t *testing.T) {
	reg := NewRegistry()
	inst := &fakeInstance{}
	reg.Register("test", func(ctx context.Context, decl model.InvokeDecl, invokeID string, params map[string]any, content any, parentSend func(*scxml.Event)) (Instance, error) {
		return inst, nil
	})

	mgr := NewManager(reg, nil)
	mgr.Defer("s1", "inv1", model.InvokeDecl{Type: "test"}, nil, nil)
	mgr.Flush(context.Background(), func(string) bool { return true }, func(*scxml.Event) {})

	mgr.CancelForState(context.Background(), "s1")
	require.True(t, inst.canceled)
	require.Empty(t, mgr.RunningInState("s1"))
}

func TestFinishSynthesizesDoneInvokeEvent(t *testing.T) {
	reg := NewRegistry()
	inst := &fakeInstance{}
	reg.Register("test", func(ctx context.Context, decl model.InvokeDecl, invokeID string, params map[string]any, content any, parentSend func(*scxml.Event)) (Instance, error) {
		return inst, nil
	})

	mgr := NewManager(reg, nil)
	mgr.Defer("s1", "inv1", model.InvokeDecl{Type: "test"}, nil, nil)
	mgr.Flush(context.Background(), func(string) bool { return true }, func(*scxml.Event) {})

	var raised *scxml.Event
	mgr.Finish("inv1", map[string]any{"result": 42}, func(e *scxml.Event) { raised = e })

	require.NotNil(t, raised)
	require.Equal(t, "done.invoke.inv1", raised.Name)
	require.Empty(t, mgr.RunningInState("s1"))
}

func TestUnknownInvokeTypeRaisesExecutionError(t *testing.T) {
	reg := NewRegistry()
	mgr := NewManager(reg, nil)
	mgr.Defer("s1", "inv1", model.InvokeDecl{Type: "does-not-exist"}, nil, nil)

	var raised *scxml.Event
	mgr.Flush(context.Background(), func(string) bool { return true }, func(e *scxml.Event) { raised = e })

	require.NotNil(t, raised)
	require.Equal(t, "error.execution", raised.Name)
}

func TestSendToUnknownInvokeErrors(t *testing.T) {
	mgr := NewManager(NewRegistry(), nil)
	err := mgr.Send(context.Background(), "ghost", &scxml.Event{Name: "x"})
	require.Error(t, err)
}
