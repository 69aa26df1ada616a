// Package env is a namespace extension exposing host environment
// variables to executable content (<env:get>/<env:set>), in the style
// of the teacher's env extension but wired through this runtime's own
// Namespace/DataModel contracts.
package env

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agentflare-ai/go-xmldom"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	scxml "github.com/scxml-go/runtime"
)

const NamespaceURI = "github.com/scxml-go/runtime/ext/env"

var tracer = otel.Tracer("ext/env")

type Namespace struct {
	itp scxml.Interpreter
}

// Loader returns a NamespaceLoader for the env namespace. The interpreter
// does not call it when a document declares xmlns:env; a host calls it
// and drives the returned Namespace directly.
func Loader() scxml.NamespaceLoader {
	return func(ctx context.Context, itp scxml.Interpreter, doc xmldom.Document) (scxml.Namespace, error) {
		return &Namespace{itp: itp}, nil
	}
}

func (n *Namespace) URI() string { return NamespaceURI }

func (n *Namespace) Unload(ctx context.Context) error { return nil }

func (n *Namespace) Handle(ctx context.Context, el xmldom.Element) (bool, error) {
	if el == nil {
		return false, fmt.Errorf("env: element cannot be nil")
	}
	switch strings.ToLower(string(el.LocalName())) {
	case "get":
		return true, n.execGet(ctx, el)
	case "set":
		return true, n.execSet(ctx, el)
	default:
		return false, nil
	}
}

func (n *Namespace) execGet(ctx context.Context, el xmldom.Element) error {
	ctx, span := tracer.Start(ctx, "env.get")
	defer span.End()

	dm := n.itp.DataModel()
	if dm == nil {
		return &scxml.PlatformError{EventName: "error.execution", Message: "no data model available for env:get", Cause: fmt.Errorf("nil datamodel")}
	}

	name := strings.TrimSpace(string(el.GetAttribute("name")))
	if name == "" {
		if nameExpr := strings.TrimSpace(string(el.GetAttribute("nameexpr"))); nameExpr != "" {
			val, err := dm.EvaluateValue(ctx, nameExpr)
			if err != nil {
				return &scxml.PlatformError{EventName: "error.execution", Message: "failed to evaluate env:get nameexpr", Data: map[string]any{"nameexpr": nameExpr}, Cause: err}
			}
			if s, ok := val.(string); ok {
				name = s
			}
		}
	}
	if name == "" {
		return &scxml.PlatformError{EventName: "error.execution", Message: "env:get requires name or nameexpr"}
	}
	span.SetAttributes(attribute.String("env.name", name))

	loc := strings.TrimSpace(string(el.GetAttribute("location")))
	if loc == "" {
		return &scxml.PlatformError{EventName: "error.execution", Message: "env:get requires location", Data: map[string]any{"name": name}}
	}

	value, exists := os.LookupEnv(name)
	if !exists {
		if def := string(el.GetAttribute("default")); def != "" {
			value = def
			span.SetAttributes(attribute.Bool("env.used_default", true))
		}
	}
	span.SetAttributes(attribute.Bool("env.exists", exists))

	if err := dm.SetVariable(ctx, loc, value); err != nil {
		return &scxml.PlatformError{EventName: "error.execution", Message: "failed to store env:get result", Data: map[string]any{"name": name, "location": loc}, Cause: err}
	}
	return nil
}

func (n *Namespace) execSet(ctx context.Context, el xmldom.Element) error {
	ctx, span := tracer.Start(ctx, "env.set")
	defer span.End()

	dm := n.itp.DataModel()
	if dm == nil {
		return &scxml.PlatformError{EventName: "error.execution", Message: "no data model available for env:set", Cause: fmt.Errorf("nil datamodel")}
	}

	name := strings.TrimSpace(string(el.GetAttribute("name")))
	if name == "" {
		if nameExpr := strings.TrimSpace(string(el.GetAttribute("nameexpr"))); nameExpr != "" {
			val, err := dm.EvaluateValue(ctx, nameExpr)
			if err != nil {
				return &scxml.PlatformError{EventName: "error.execution", Message: "failed to evaluate env:set nameexpr", Data: map[string]any{"nameexpr": nameExpr}, Cause: err}
			}
			if s, ok := val.(string); ok {
				name = s
			}
		}
	}
	if name == "" {
		return &scxml.PlatformError{EventName: "error.execution", Message: "env:set requires name or nameexpr"}
	}
	span.SetAttributes(attribute.String("env.name", name))

	valueAttr := string(el.GetAttribute("value"))
	exprAttr := string(el.GetAttribute("expr"))
	if valueAttr != "" && exprAttr != "" {
		return &scxml.PlatformError{EventName: "error.execution", Message: "env:set cannot have both value and expr", Data: map[string]any{"name": name}}
	}

	var value string
	switch {
	case exprAttr != "":
		val, err := dm.EvaluateValue(ctx, exprAttr)
		if err != nil {
			return &scxml.PlatformError{EventName: "error.execution", Message: "failed to evaluate env:set expr", Data: map[string]any{"name": name, "expr": exprAttr}, Cause: err}
		}
		value = fmt.Sprintf("%v", val)
	case valueAttr != "":
		value = valueAttr
	default:
		return &scxml.PlatformError{EventName: "error.execution", Message: "env:set requires value or expr", Data: map[string]any{"name": name}}
	}

	if err := os.Setenv(name, value); err != nil {
		return &scxml.PlatformError{EventName: "error.execution", Message: "failed to set environment variable", Data: map[string]any{"name": name, "value": value}, Cause: err}
	}
	span.SetAttributes(attribute.String("env.value", value))
	return nil
}

var _ scxml.Namespace = (*Namespace)(nil)
