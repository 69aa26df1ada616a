// Package datamodel implements the scripting session of spec.md §4.6: one
// process-wide ECMAScript runtime pool, each session getting its own
// isolated goja.Runtime, all routed through a single worker goroutine
// because goja.Runtime is not safe for concurrent use (spec.md §5
// "Scripting session runs one worker task that services all sessions").
package datamodel

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// job is one unit of work handed to the engine's worker goroutine. fn runs
// with exclusive access to the Runtime it was scheduled against; result is
// delivered back through done, which acts as the "future" callers await.
type job struct {
	fn   func() (any, error)
	done chan result
}

type result struct {
	val any
	err error
}

// Engine is the single-threaded JS worker shared by every session created
// from it. It must be started with NewEngine and stopped with Close.
type Engine struct {
	jobs   chan job
	quit   chan struct{}
	closed chan struct{}
}

// NewEngine starts the worker goroutine and returns a ready Engine.
func NewEngine() *Engine {
	e := &Engine{
		jobs:   make(chan job, 64),
		quit:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.closed)
	for {
		select {
		case j := <-e.jobs:
			val, err := j.fn()
			j.done <- result{val: val, err: err}
		case <-e.quit:
			return
		}
	}
}

// submit enqueues fn on the worker goroutine and blocks until it runs (or
// ctx is cancelled / the engine is closed), matching the
// enqueue-and-await-future contract of spec.md §4.6.
func (e *Engine) submit(ctx context.Context, fn func() (any, error)) (any, error) {
	select {
	case <-e.quit:
		return nil, fmt.Errorf("datamodel: engine is shut down")
	default:
	}
	j := job{fn: fn, done: make(chan result, 1)}
	select {
	case e.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.quit:
		return nil, fmt.Errorf("datamodel: engine is shut down")
	}
	select {
	case r := <-j.done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.closed:
		select {
		case r := <-j.done:
			return r.val, r.err
		default:
			return nil, fmt.Errorf("datamodel: engine is shut down")
		}
	}
}

// Close stops the worker goroutine. A job already running still
// completes; jobs still queued and newly submitted jobs fail with a
// shut-down error.
func (e *Engine) Close() error {
	close(e.quit)
	<-e.closed
	return nil
}

// newRuntime builds a fresh goja.Runtime with no session state installed;
// callers (Session.bootstrap) populate system variables afterward.
func newRuntime() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	return vm
}
