package datamodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	scxml "github.com/scxml-go/runtime"
)

// Session is one session's isolated ECMAScript context. All methods funnel
// through the owning Engine's worker goroutine; Session itself holds no
// lock because only that goroutine ever touches vm.
type Session struct {
	engine   *Engine
	vm       *goja.Runtime
	id       string
	parentID string
	eventSet bool // _event is not bound until the first event, per spec.md §4.6
}

// New creates an isolated context for sessionID, optionally nested under
// parentID (invoked children inherit nothing automatically; the invoke
// machinery copies namelist/param values in explicitly).
func New(ctx context.Context, engine *Engine, sessionID, parentID string, configuration func() []string) (*Session, error) {
	s := &Session{engine: engine, id: sessionID, parentID: parentID}
	_, err := engine.submit(ctx, func() (any, error) {
		s.vm = newRuntime()
		if err := s.vm.Set("In", func(id string) bool {
			for _, active := range configuration() {
				if active == id {
					return true
				}
			}
			return false
		}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetupSystemVariables installs _sessionid, _name, _ioprocessors and an
// empty placeholder _x (spec.md §4.6, SUPPLEMENTED FEATURES #1 in
// SPEC_FULL.md).
func (s *Session) SetupSystemVariables(ctx context.Context, name string, ioprocessors map[string]string) error {
	_, err := s.engine.submit(ctx, func() (any, error) {
		if err := s.vm.Set(scxml.SessionIDSystemVariable, s.id); err != nil {
			return nil, err
		}
		if err := s.vm.Set(scxml.NameSystemVariable, name); err != nil {
			return nil, err
		}
		procs := map[string]any{}
		for k, v := range ioprocessors {
			procs[k] = map[string]any{"location": v}
		}
		if err := s.vm.Set(scxml.IOProcessorsSystemVariable, procs); err != nil {
			return nil, err
		}
		return nil, s.vm.Set(scxml.XSystemVariable, map[string]any{})
	})
	return err
}

func (s *Session) Initialize(ctx context.Context, items []scxml.Data) error {
	_, err := s.engine.submit(ctx, func() (any, error) {
		for _, d := range items {
			if err := s.declare(d.ID, d.Expr, d.Content); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// declare runs on the worker goroutine: bind id to the evaluated expr, the
// inline content, or undefined if neither is present.
func (s *Session) declare(id, expr string, content any) error {
	if expr != "" {
		v, err := s.vm.RunString(expr)
		if err != nil {
			return fmt.Errorf("datamodel: evaluating initial expr for %q: %w", id, err)
		}
		return s.vm.Set(id, v)
	}
	if content != nil {
		return s.vm.Set(id, content)
	}
	_, err := s.vm.RunString(fmt.Sprintf("var %s;", jsIdent(id)))
	return err
}

func (s *Session) EvaluateValue(ctx context.Context, expression string) (any, error) {
	v, err := s.engine.submit(ctx, func() (any, error) {
		val, err := s.vm.RunString(expression)
		if err != nil {
			return nil, err
		}
		return val.Export(), nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// EvaluateCondition coerces the result to boolean per JS truthiness; a
// thrown error yields false *and* the error (spec.md §4.6 guard contract).
func (s *Session) EvaluateCondition(ctx context.Context, expression string) (bool, error) {
	v, err := s.engine.submit(ctx, func() (any, error) {
		val, err := s.vm.RunString(expression)
		if err != nil {
			return false, err
		}
		return val.ToBoolean(), nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Session) EvaluateLocation(ctx context.Context, location string) (any, error) {
	return s.EvaluateValue(ctx, location)
}

// Assign implements <assign location=... expr=...>. An empty location
// raises error.execution with the exact message spec.md §4.6 specifies.
func (s *Session) Assign(ctx context.Context, location string, value any) error {
	if strings.TrimSpace(location) == "" {
		return &scxml.PlatformError{
			EventName: "error.execution",
			Message:   "Assignment location cannot be empty",
		}
	}
	_, err := s.engine.submit(ctx, func() (any, error) {
		return nil, s.vm.Set(location, value)
	})
	return err
}

func (s *Session) GetVariable(ctx context.Context, id string) (any, error) {
	v, err := s.engine.submit(ctx, func() (any, error) {
		val := s.vm.Get(id)
		if val == nil {
			return nil, fmt.Errorf("datamodel: variable %q is not defined", id)
		}
		return val.Export(), nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Session) SetVariable(ctx context.Context, id string, value any) error {
	_, err := s.engine.submit(ctx, func() (any, error) {
		return nil, s.vm.Set(id, value)
	})
	return err
}

func (s *Session) GetSystemVariable(ctx context.Context, name string) (any, error) {
	return s.GetVariable(ctx, name)
}

func (s *Session) SetSystemVariable(ctx context.Context, name string, value any) error {
	if name == scxml.SessionIDSystemVariable || name == scxml.NameSystemVariable {
		return fmt.Errorf("datamodel: system variable %q is read-only", name)
	}
	return s.SetVariable(ctx, name, value)
}

// SetCurrentEvent binds _event with its W3C properties. Per spec.md §4.6,
// _event is not bound until the first event delivered to the session.
func (s *Session) SetCurrentEvent(ctx context.Context, event *scxml.Event) error {
	_, err := s.engine.submit(ctx, func() (any, error) {
		s.eventSet = true
		obj := map[string]any{
			"name":       event.Name,
			"type":       string(event.Type),
			"sendid":     event.SendID,
			"origin":     event.Origin,
			"origintype": event.OriginType,
			"invokeid":   event.InvokeID,
			"data":       event.Data,
		}
		return nil, s.vm.Set(scxml.EventSystemVariable, obj)
	})
	return err
}

func (s *Session) HasBoundEvent() bool { return s.eventSet }

func (s *Session) ExecuteScript(ctx context.Context, script string) error {
	_, err := s.engine.submit(ctx, func() (any, error) {
		_, err := s.vm.RunString(script)
		return nil, err
	})
	return err
}

// Clone creates an independent context for use by one parallel region,
// sharing system variables but not data elements (spec.md §4.6).
func (s *Session) Clone(ctx context.Context) (scxml.DataModel, error) {
	v, err := s.engine.submit(ctx, func() (any, error) {
		clone := &Session{engine: s.engine, vm: newRuntime(), id: s.id, parentID: s.parentID}
		for _, name := range []string{scxml.SessionIDSystemVariable, scxml.NameSystemVariable, scxml.IOProcessorsSystemVariable, scxml.XSystemVariable} {
			val := s.vm.Get(name)
			if val != nil {
				if err := clone.vm.Set(name, val.Export()); err != nil {
					return nil, err
				}
			}
		}
		return clone, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *Session) ValidateExpression(ctx context.Context, expression string, exprType scxml.ExpressionType) error {
	if strings.TrimSpace(expression) == "" {
		if exprType == scxml.LocationExpression {
			return fmt.Errorf("datamodel: empty location expression")
		}
		return nil
	}
	_, err := goja.Compile("<validate>", expression, false)
	return err
}

func (s *Session) Close(ctx context.Context) error { return nil }

func jsIdent(id string) string { return id }

var _ scxml.DataModel = (*Session)(nil)
