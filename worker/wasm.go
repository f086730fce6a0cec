package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	t_wazero "github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/wazero"
)

// WASMRunner runs a WebAssembly worker. The guest exports allocate and
// on_message and imports post_message and log_message from "env"; all
// payloads are JSON addressed by a packed pointer and length.
type WASMRunner struct {
	runtime t_wazero.Runtime
	module  api.Module
	ctx     context.Context
	cancel  context.CancelFunc
	cache   t_wazero.CompilationCache
	logger  *slog.Logger
	serial  *loop.Serial
	sink    Sink
	mu      sync.Mutex
	closed  bool
}

// NewWASMRunner creates a WASM runner.
func NewWASMRunner(opts Options) *WASMRunner {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WASMRunner{logger: logger, cache: opts.cache}
}

func (r *WASMRunner) Start(ctx context.Context, name string, src []byte, sink Sink) error {
	r.sink = sink
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	cfg := t_wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if r.cache != nil {
		cfg = cfg.WithCompilationCache(r.cache)
	}
	rt := t_wazero.NewRuntimeWithConfig(r.ctx, cfg)
	r.runtime = rt
	wasi_snapshot_preview1.MustInstantiate(r.ctx, rt)

	if err := r.registerHostFunctions(r.ctx); err != nil {
		_ = r.Close(ctx)
		return hosterr.Wrap(hosterr.CodeInternal, err, "failed to register host functions: %v", err)
	}

	mod, err := rt.InstantiateWithConfig(r.ctx, src, t_wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = r.Close(ctx)
		return hosterr.Wrap(hosterr.CodeInternal, err, "failed to instantiate worker %s: %v", name, err)
	}
	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(r.ctx); err != nil {
			_ = r.Close(ctx)
			return hosterr.Wrap(hosterr.CodeInternal, err, "failed to call _initialize: %v", err)
		}
	}
	r.module = mod

	r.serial = loop.NewSerial(loop.WithLogger(r.logger), loop.WithPanicHandler(func(p any) {
		r.fail(fmt.Errorf("worker panicked: %v", p))
	}))
	r.serial.Start()
	return nil
}

func (r *WASMRunner) registerHostFunctions(ctx context.Context) error {
	postMessage := api.GoModuleFunc(func(ctx context.Context, m api.Module, stack []uint64) {
		data, err := wazero.Read(m, stack[0])
		if err != nil {
			r.fail(err)
			return
		}
		v, err := dynamic.Parse(data)
		if err != nil {
			r.fail(fmt.Errorf("worker posted invalid JSON: %w", err))
			return
		}
		r.sink.Message(v)
	})

	_, err := r.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(postMessage, []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("post_message").
		NewFunctionBuilder().
		WithGoModuleFunction(wazero.LogHandler(r.logger), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("log_message").
		Instantiate(ctx)
	return err
}

func (r *WASMRunner) Deliver(msg dynamic.Value) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed || r.serial == nil {
		return
	}
	r.serial.Post(func() {
		fn := r.module.ExportedFunction("on_message")
		if fn == nil {
			r.logger.Debug("worker does not export on_message, message dropped")
			return
		}
		data, err := msg.MarshalJSON()
		if err != nil {
			r.fail(err)
			return
		}
		packed, err := wazero.Write(r.ctx, r.module, data)
		if err != nil {
			r.fail(err)
			return
		}
		if _, err := fn.Call(r.ctx, packed); err != nil {
			r.fail(fmt.Errorf("on_message: %w", err))
		}
	})
}

func (r *WASMRunner) fail(err error) {
	if r.sink.Error != nil {
		r.sink.Error(err)
		return
	}
	r.logger.Error("worker: uncaught failure", "error", err)
}

// Close interrupts a running call, stops the message loop and releases
// the runtime.
func (r *WASMRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.serial != nil {
		r.serial.Stop()
	}
	if r.runtime != nil {
		return r.runtime.Close(ctx)
	}
	return nil
}
