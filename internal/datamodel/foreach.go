package datamodel

import (
	"context"
	"fmt"
	"reflect"

	scxml "github.com/scxml-go/runtime"
)

// ForeachBody runs once per iteration with item/index already bound; it
// returns an error to stop the loop (spec.md §4.6 foreach contract).
type ForeachBody func(ctx context.Context) error

// Foreach evaluates array, then for each element declares/assigns item
// (and index, if named), running body between bindings. An empty body
// (body == nil) still establishes the loop variable, matching "declaration-
// only foreach" in spec.md §4.6. A body error stops the loop immediately
// and is propagated to the caller, per spec.md §4.1's foreach failure rule.
func (s *Session) Foreach(ctx context.Context, array, item, index string, body ForeachBody) error {
	val, err := s.EvaluateValue(ctx, array)
	if err != nil {
		return &scxml.PlatformError{EventName: "error.execution", Message: "foreach: array expression failed", Cause: err}
	}
	elems, ok := toSlice(val)
	if !ok {
		return &scxml.PlatformError{EventName: "error.execution", Message: fmt.Sprintf("foreach: %q is not iterable", array)}
	}
	for i, el := range elems {
		if err := s.SetVariable(ctx, item, el); err != nil {
			return &scxml.PlatformError{EventName: "error.execution", Message: "foreach: binding item failed", Cause: err}
		}
		if index != "" {
			if err := s.SetVariable(ctx, index, i); err != nil {
				return &scxml.PlatformError{EventName: "error.execution", Message: "foreach: binding index failed", Cause: err}
			}
		}
		if body == nil {
			continue
		}
		if err := body(ctx); err != nil {
			return err
		}
	}
	return nil
}

// toSlice accepts Go slices/arrays exported from goja ([]interface{} for
// JS arrays) as well as a nil/empty result, which iterates zero times.
func toSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, true
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	default:
		return nil, false
	}
}
