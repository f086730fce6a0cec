package worker

import (
	"log/slog"
	"os"

	"github.com/tetratelabs/wazero"
)

// Options are shared by the manager and the runners it creates.
type Options struct {
	logger *slog.Logger
	load   func(path string) ([]byte, error)
	runner func(path string, opts Options) Runner
	cache  wazero.CompilationCache
}

// Option configures a Manager.
type Option func(*Options)

// WithLogger sets the logger. Worker console and WASM log output go to it.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLoader sets how script paths are read. The default reads the OS file
// system.
func WithLoader(fn func(path string) ([]byte, error)) Option {
	return func(o *Options) {
		if fn != nil {
			o.load = fn
		}
	}
}

// WithRunnerFactory overrides how runners are chosen for a script.
func WithRunnerFactory(fn func(path string, opts Options) Runner) Option {
	return func(o *Options) {
		if fn != nil {
			o.runner = fn
		}
	}
}

// WithCompilationCache shares compiled WASM modules between workers.
func WithCompilationCache(cache wazero.CompilationCache) Option {
	return func(o *Options) {
		o.cache = cache
	}
}

func defaultOptions() Options {
	return Options{
		logger: slog.Default(),
		load:   os.ReadFile,
		runner: RunnerFor,
	}
}
