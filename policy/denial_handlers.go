package policy

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Ensure implementations satisfy the interface.
var (
	_ DenialHandler = (*SlogDenialHandler)(nil)
	_ DenialHandler = (*NopDenialHandler)(nil)
	_ DenialHandler = (*RecordingDenialHandler)(nil)
)

// SlogDenialHandler logs denials as warnings.
type SlogDenialHandler struct {
	Logger *slog.Logger
}

func (h *SlogDenialHandler) OnDenial(kind string, request any, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(context.Background(), slog.LevelWarn, "permission denied",
		slog.String("kind", kind),
		slog.Any("request", request),
		slog.String("reason", reason),
	)
}

// NopDenialHandler does nothing.
type NopDenialHandler struct{}

func (h *NopDenialHandler) OnDenial(kind string, request any, reason string) {}

// Denial is one recorded denial.
type Denial struct {
	Request any
	Kind    string
	Reason  string
}

// RecordingDenialHandler keeps every denial, for audits and tests.
type RecordingDenialHandler struct {
	denials []Denial
	mu      sync.Mutex
}

func (h *RecordingDenialHandler) OnDenial(kind string, request any, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.denials = append(h.denials, Denial{Kind: kind, Request: request, Reason: reason})
}

// Denials returns the recorded denials in order.
func (h *RecordingDenialHandler) Denials() []Denial {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.denials)
}
