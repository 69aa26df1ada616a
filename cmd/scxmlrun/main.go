// Command scxmlrun loads an SCXML document, runs it to completion (or
// until interrupted), and reports its outcome on stdout (grounded on the
// teacher's validator/cmd/validate CLI shape: read file, run, report,
// exit 0/non-zero).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scxml-go/runtime/internal/audit"
	"github.com/scxml-go/runtime/internal/datamodel"
	"github.com/scxml-go/runtime/internal/interp"
	"github.com/scxml-go/runtime/internal/invoke"
	"github.com/scxml-go/runtime/loader"
)

func main() {
	os.Exit(run())
}

func run() int {
	auditDSN := flag.String("audit-db", "", "sqlite3 DSN to record session lifecycle events to (optional)")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: scxmlrun [-audit-db path] <scxml-file>")
		return 2
	}
	path := flag.Arg(0)

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := loader.LoadFile(ctx, path)
	if err != nil {
		log.Error("scxmlrun: failed to load document", "path", path, "error", err)
		return 1
	}

	var auditLog *audit.Log
	if *auditDSN != "" {
		auditLog, err = audit.Open(ctx, *auditDSN, 1000)
		if err != nil {
			log.Error("scxmlrun: failed to open audit log", "dsn", *auditDSN, "error", err)
			return 1
		}
		defer auditLog.Close()
	}

	engine := datamodel.NewEngine()
	invokeTypes := invoke.NewRegistry()

	opts := interp.Options{
		Log:         log,
		Audit:       auditAdapter{auditLog},
		DataModel:   interp.ECMAScriptDataModel(engine),
		InvokeTypes: invokeTypes,
	}

	registerInvokeTypes(invokeTypes, opts, engine)

	sess, err := interp.New(ctx, m, opts)
	if err != nil {
		log.Error("scxmlrun: failed to build session", "error", err)
		return 1
	}
	if err := sess.Start(ctx); err != nil {
		log.Error("scxmlrun: failed to start session", "error", err)
		return 1
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		log.Warn("scxmlrun: interrupted before session completion")
		return 1
	}

	data, final := sess.DoneData()
	result := map[string]any{
		"final":         final,
		"configuration": sess.Configuration(),
		"donedata":      data,
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !final {
		return 1
	}
	return 0
}

// registerInvokeTypes wires the "scxml" (nested-session) and "process"
// invoke targets; see internal/interp/child_invoke.go and
// internal/invoke/process.go.
func registerInvokeTypes(reg *invoke.Registry, base interp.Options, engine *datamodel.Engine) {
	reg.Register("scxml", interp.ChildSessionStartFunc(loader.LoadFile, interp.ECMAScriptDataModel(engine), reg, base))
	reg.Register("http://www.w3.org/TR/scxml/", interp.ChildSessionStartFunc(loader.LoadFile, interp.ECMAScriptDataModel(engine), reg, base))
	reg.Register("process", invoke.ProcessStartFunc())
}

type auditAdapter struct{ log *audit.Log }

func (a auditAdapter) Record(ctx context.Context, sessionID, kind, name string, data any) {
	if a.log == nil {
		return
	}
	a.log.Record(ctx, sessionID, kind, name, data)
}
