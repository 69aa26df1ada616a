package interp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/datamodel"
	"github.com/scxml-go/runtime/internal/model"
)

// foreacher is satisfied by *datamodel.Session; kept as a narrow
// interface so interp depends only on the method it needs.
type foreacher interface {
	Foreach(ctx context.Context, array, item, index string, body datamodel.ForeachBody) error
}

func (s *Session) evalCond(ctx context.Context, expr string) bool {
	if expr == "" {
		return true
	}
	ok, err := s.dm.EvaluateCondition(ctx, expr)
	if err != nil {
		s.raiseError(ctx, "error.execution", err)
		return false
	}
	return ok
}

func (s *Session) raiseError(ctx context.Context, name string, err error) {
	s.log.Warn("interp: raising error event", "event", name, "error", err)
	s.q.PushInternal(&scxml.Event{
		Name: name, Type: scxml.EventTypeInternal,
		Data: map[string]any{"message": err.Error()},
	})
}

// runActions executes one ordered block of executable content (spec.md
// §4.5/§4.6). A failing action raises error.execution and, per W3C
// semantics, stops the remainder of that same block.
func (s *Session) runActions(ctx context.Context, actions []model.Action) {
	for _, a := range actions {
		if err := s.runAction(ctx, a); err != nil {
			s.raiseError(ctx, "error.execution", err)
			return
		}
	}
}

func (s *Session) runAction(ctx context.Context, a model.Action) error {
	switch a.Kind {
	case model.ActionRaise:
		name := a.Event
		if name == "" && a.EventExpr != "" {
			v, err := s.dm.EvaluateValue(ctx, a.EventExpr)
			if err != nil {
				return err
			}
			name = fmt.Sprintf("%v", v)
		}
		s.Raise(ctx, &scxml.Event{Name: name, Type: scxml.EventTypeInternal})
		return nil

	case model.ActionAssign:
		v, err := s.dm.EvaluateValue(ctx, a.Expr)
		if err != nil {
			return err
		}
		return s.dm.Assign(ctx, a.Location, v)

	case model.ActionScript:
		return s.dm.ExecuteScript(ctx, a.ScriptBody)

	case model.ActionLog:
		var rendered any
		if a.Expr != "" {
			v, err := s.dm.EvaluateValue(ctx, a.Expr)
			if err != nil {
				return err
			}
			rendered = v
		}
		s.log.Info("scxml log", "label", a.Label, "value", rendered, "session", s.id)
		s.recordAudit(ctx, "log", a.Label, rendered)
		return nil

	case model.ActionSend:
		return s.runSend(ctx, a)

	case model.ActionCancel:
		id := a.SendID
		if id == "" && a.SendIDExpr != "" {
			v, err := s.dm.EvaluateValue(ctx, a.SendIDExpr)
			if err != nil {
				return err
			}
			id = fmt.Sprintf("%v", v)
		}
		s.sched.Cancel(id)
		return nil

	case model.ActionForeach:
		fe, ok := s.dm.(foreacher)
		if !ok {
			return fmt.Errorf("interp: data model does not support foreach")
		}
		return fe.Foreach(ctx, a.Array, a.Item, a.Index, func(ctx context.Context) error {
			for _, b := range a.Body {
				if err := s.runAction(ctx, b); err != nil {
					return err
				}
			}
			return nil
		})

	case model.ActionIf:
		for _, branch := range a.Branches {
			if branch.Cond == "" || s.evalCond(ctx, branch.Cond) {
				s.runActions(ctx, branch.Body)
				return nil
			}
		}
		return nil

	case model.ActionExternal:
		s.log.Warn("interp: unhandled namespace extension action", "namespace", a.NamespaceURI, "local", a.LocalName)
		return nil

	default:
		return fmt.Errorf("interp: unknown action kind %q", a.Kind)
	}
}

func (s *Session) resolveExprOr(ctx context.Context, literal, expr string) (string, error) {
	if literal != "" {
		return literal, nil
	}
	if expr == "" {
		return "", nil
	}
	v, err := s.dm.EvaluateValue(ctx, expr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", v), nil
}

func (s *Session) runSend(ctx context.Context, a model.Action) error {
	target, err := s.resolveExprOr(ctx, a.Target, a.TargetExpr)
	if err != nil {
		return err
	}
	sendType, err := s.resolveExprOr(ctx, a.Type, a.TypeExpr)
	if err != nil {
		return err
	}
	sendID, err := s.resolveExprOr(ctx, a.SendID, a.SendIDExpr)
	if err != nil {
		return err
	}
	if sendID == "" {
		sendID = uuid.NewString()
	}
	if a.IDLocation != "" {
		if err := s.dm.Assign(ctx, a.IDLocation, sendID); err != nil {
			return err
		}
	}
	delay, err := s.resolveExprOr(ctx, a.Delay, a.DelayExpr)
	if err != nil {
		return err
	}
	dur, err := parseDelay(delay)
	if err != nil {
		return err
	}

	data, err := s.evalSendData(ctx, a)
	if err != nil {
		return err
	}

	eventName := a.Event
	if eventName == "" && a.EventExpr != "" {
		v, err := s.dm.EvaluateValue(ctx, a.EventExpr)
		if err != nil {
			return err
		}
		eventName = fmt.Sprintf("%v", v)
	}

	event := &scxml.Event{
		Name:   eventName,
		Type:   scxml.EventTypeExternal,
		Data:   data,
		SendID: sendID,
		Origin: "#_scxml_" + s.id,
	}
	_ = sendType

	tgt, err := s.disp.Resolve(ctx, target, sessionOrigin{s})
	if err != nil {
		s.raiseError(ctx, "error.communication", err)
		return nil
	}

	if dur <= 0 {
		return tgt.Deliver(ctx, event)
	}
	_, err = s.sched.Schedule(ctx, event, dur, tgt, sendID, s.id)
	return err
}

func (s *Session) evalSendData(ctx context.Context, a model.Action) (any, error) {
	if a.ContentExpr != "" {
		return s.dm.EvaluateValue(ctx, a.ContentExpr)
	}
	if a.ContentText != "" {
		return a.ContentText, nil
	}
	if len(a.Params) == 0 && len(a.NameList) == 0 {
		return nil, nil
	}
	out := map[string]any{}
	for _, p := range a.Params {
		if p.Location != "" {
			v, err := s.dm.EvaluateLocation(ctx, p.Location)
			if err != nil {
				return nil, err
			}
			out[p.Name] = v
		} else if p.Expr != "" {
			v, err := s.dm.EvaluateValue(ctx, p.Expr)
			if err != nil {
				return nil, err
			}
			out[p.Name] = v
		}
	}
	for _, name := range a.NameList {
		v, err := s.dm.GetVariable(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// sessionOrigin adapts *Session to dispatch.Origin.
type sessionOrigin struct{ s *Session }

func (o sessionOrigin) SessionID() string { return o.s.id }
func (o sessionOrigin) Raise(ctx context.Context, e *scxml.Event) {
	o.s.q.PushInternal(e)
	o.s.wakeLoop()
}
