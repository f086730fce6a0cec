// Package sensor serves the motion sensors. Each sensor is a poller that
// samples a Source and emits change events into a ledger.
package sensor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/events"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
)

// Kind names a sensor.
type Kind string

const (
	Accelerometer Kind = "accelerometer"
	Compass       Kind = "compass"
	Gyroscope     Kind = "gyroscope"
	DeviceMotion  Kind = "deviceMotion"
)

// Kinds lists every sensor.
var Kinds = []Kind{Accelerometer, Compass, Gyroscope, DeviceMotion}

// Event returns the change event name of k, such as "accelerometerChange".
func (k Kind) Event() string { return string(k) + "Change" }

// Intervals maps the guest interval names to sampling periods.
var Intervals = map[string]time.Duration{
	"normal": 200 * time.Millisecond,
	"ui":     60 * time.Millisecond,
	"game":   20 * time.Millisecond,
}

// ParseInterval resolves an interval name. The empty name means normal.
func ParseInterval(name string) (time.Duration, error) {
	if name == "" {
		name = "normal"
	}
	d, ok := Intervals[name]
	if !ok {
		return 0, hosterr.Contract("interval", "must be one of normal, ui, game, got %q", name)
	}
	return d, nil
}

// Source produces sensor readings.
type Source interface {
	Read(k Kind) (dynamic.Value, error)
}

// Manager owns one poller per sensor.
type Manager struct {
	source  Source
	ledger  *events.Ledger
	logger  *slog.Logger
	pollers map[Kind]*events.Poller
	mu      sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithSource sets the reading source. The default is a SimulatedSource.
func WithSource(s Source) Option {
	return func(m *Manager) {
		if s != nil {
			m.source = s
		}
	}
}

// WithLedger emits into ledger instead of a private one.
func WithLedger(l *events.Ledger) Option {
	return func(m *Manager) { m.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a manager with every sensor stopped.
func New(sched loop.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		source:  NewSimulatedSource(),
		logger:  slog.Default(),
		pollers: make(map[Kind]*events.Poller, len(Kinds)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ledger == nil {
		m.ledger = events.NewLedger(sched, events.WithLogger(m.logger))
	}
	for _, k := range Kinds {
		m.pollers[k] = events.NewPoller(m.ledger, sched, k.Event(), m.sampler(k))
	}
	return m
}

func (m *Manager) sampler(k Kind) events.Sampler {
	return func() (dynamic.Value, bool) {
		v, err := m.source.Read(k)
		if err != nil {
			m.logger.Debug("sensor read failed", "sensor", k, "error", err)
			return dynamic.Null(), false
		}
		return v, true
	}
}

func (m *Manager) poller(k Kind) (*events.Poller, error) {
	p, ok := m.pollers[k]
	if !ok {
		return nil, hosterr.Contract("sensor", "unknown sensor %q", k)
	}
	return p, nil
}

// Start begins sampling k at the named interval. Starting a running
// sensor applies the new interval.
func (m *Manager) Start(k Kind, interval string) error {
	d, err := ParseInterval(interval)
	if err != nil {
		return err
	}
	p, err := m.poller(k)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Start(d)
	m.logger.Debug("sensor started", "sensor", k, "interval", d)
	return nil
}

// Stop ends sampling k. Stopping a stopped sensor is a no-op. Listeners
// stay registered.
func (m *Manager) Stop(k Kind) error {
	p, err := m.poller(k)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Stop()
	return nil
}

// StopAll stops every sensor.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pollers {
		p.Stop()
	}
}

// Running reports whether k is sampling.
func (m *Manager) Running(k Kind) bool {
	p, err := m.poller(k)
	return err == nil && p.Running()
}

// On registers a change listener for k.
func (m *Manager) On(k Kind, id events.ListenerID, fn events.Listener) bool {
	return m.ledger.On(k.Event(), id, fn)
}

// Off removes a change listener for k.
func (m *Manager) Off(k Kind, id events.ListenerID) bool {
	return m.ledger.Off(k.Event(), id)
}

// Ledger returns the ledger the sensors emit into.
func (m *Manager) Ledger() *events.Ledger { return m.ledger }
