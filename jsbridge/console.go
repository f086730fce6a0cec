package jsbridge

import (
	"log/slog"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// Printer routes guest console output into a slog logger.
type Printer struct {
	logger *slog.Logger
	source string
}

// NewPrinter returns a printer that tags records with source.
func NewPrinter(logger *slog.Logger, source string) *Printer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Printer{logger: logger, source: source}
}

func (p *Printer) Log(s string)   { p.logger.Info(s, "source", p.source) }
func (p *Printer) Warn(s string)  { p.logger.Warn(s, "source", p.source) }
func (p *Printer) Error(s string) { p.logger.Error(s, "source", p.source) }

// EnableConsole installs a console global on rt that writes to p.
func EnableConsole(rt *goja.Runtime, reg *require.Registry, p *Printer) {
	reg.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(p))
	reg.Enable(rt)
	console.Enable(rt)
}
