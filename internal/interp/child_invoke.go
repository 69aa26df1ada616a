package interp

import (
	"context"
	"fmt"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/invoke"
	"github.com/scxml-go/runtime/internal/model"
)

// MachineLoader resolves an <invoke src="..."> (or srcexpr result) into a
// loaded Machine, without this package needing to depend on the XML
// loader directly.
type MachineLoader func(ctx context.Context, src string) (*model.Machine, error)

type childInstance struct {
	child  *Session
	cancel context.CancelFunc
}

func (c *childInstance) Send(ctx context.Context, e *scxml.Event) error {
	return c.child.Handle(ctx, e)
}

func (c *childInstance) Cancel(ctx context.Context) error {
	return c.child.Shutdown(ctx)
}

// ChildSessionStartFunc builds the invoke.StartFunc for the "scxml" /
// "http://www.w3.org/TR/scxml/" invoke type: the target machine runs as
// a nested Session, its done.invoke completion relayed back to the
// parent's external queue via parentSend.
func ChildSessionStartFunc(load MachineLoader, dmFactory DataModelFactory, invokeTypes *invoke.Registry, base Options) invoke.StartFunc {
	return func(ctx context.Context, decl model.InvokeDecl, invokeID string, params map[string]any, content any, parentSend func(*scxml.Event)) (invoke.Instance, error) {
		src := decl.Src
		if src == "" {
			if text, ok := content.(string); ok && text != "" {
				src = text
			}
		}
		if src == "" {
			return nil, fmt.Errorf("interp: invoke has neither src nor inline content")
		}
		m, err := load(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("interp: load invoked machine: %w", err)
		}

		opts := base
		opts.DataModel = dmFactory
		opts.InvokeTypes = invokeTypes
		opts.ParentID = invokeID

		child, err := New(ctx, m, opts)
		if err != nil {
			return nil, fmt.Errorf("interp: build invoked session: %w", err)
		}

		childCtx, cancel := context.WithCancel(ctx)

		go func() {
			if err := child.Start(ctx); err != nil {
				parentSend(&scxml.Event{
					Name: "error.communication", Type: scxml.EventTypeInternal,
					Data: map[string]any{"message": err.Error(), "invokeid": invokeID},
				})
				return
			}
			select {
			case <-child.doneCh:
			case <-childCtx.Done():
				return
			}
			data, _ := child.DoneData()
			parentSend(&scxml.Event{
				Name:     "done.invoke." + invokeID,
				Type:     scxml.EventTypeExternal,
				InvokeID: invokeID,
				Data:     data,
			})
		}()

		return &childInstance{child: child, cancel: cancel}, nil
	}
}
