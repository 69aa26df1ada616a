package interp

import (
	"context"

	scxml "github.com/scxml-go/runtime"
	"github.com/scxml-go/runtime/internal/datamodel"
)

// ECMAScriptDataModel builds a DataModelFactory backed by the goja-hosted
// per-session Engine (spec.md §4.6). The same engine can be shared across
// sibling sessions spawned from one interpreter instance, each getting
// its own goja.Runtime but routed through the same worker goroutine.
func ECMAScriptDataModel(engine *datamodel.Engine) DataModelFactory {
	return func(ctx context.Context, sessionID, parentID string, configuration func() []string) (scxml.DataModel, error) {
		sess, err := datamodel.New(ctx, engine, sessionID, parentID, configuration)
		if err != nil {
			return nil, err
		}
		ioprocessors := map[string]string{
			"http://www.w3.org/TR/scxml/#SCXMLEventProcessor": "#_scxml_" + sessionID,
		}
		if err := sess.SetupSystemVariables(ctx, sessionID, ioprocessors); err != nil {
			return nil, err
		}
		return sess, nil
	}
}
