// Package worker runs at most one background worker context beside the
// guest. Messages cross between the two as structured copies.
package worker

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/reglet-dev/minihost/dynamic"
)

// Sink receives what a running worker produces.
type Sink struct {
	// Message is called with every value the worker posts.
	Message func(dynamic.Value)
	// Error is called with uncaught worker failures.
	Error func(error)
}

// Runner executes one worker script in its own runtime.
type Runner interface {
	// Start loads and evaluates the script. It returns once the script's
	// top level has run.
	Start(ctx context.Context, name string, src []byte, sink Sink) error
	// Deliver hands a message to the worker's onMessage handler.
	Deliver(msg dynamic.Value)
	// Close stops the runtime and discards pending messages.
	Close(ctx context.Context) error
}

// RunnerFor picks a WASM runner for .wasm scripts and a JS runner
// otherwise.
func RunnerFor(path string, opts Options) Runner {
	if strings.EqualFold(filepath.Ext(path), ".wasm") {
		return NewWASMRunner(opts)
	}
	return NewJSRunner(opts)
}
