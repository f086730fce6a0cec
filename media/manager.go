package media

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/task"
)

// Manager owns the live players and the global recorder.
type Manager struct {
	sched    loop.Scheduler
	measurer Measurer
	sink     Sink
	album    Album
	logger   *slog.Logger
	recorder *Recorder
	players  map[string]*Player
	mu       sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithMeasurer sets how source lengths are determined. By default every
// length is unknown.
func WithMeasurer(p Measurer) Option {
	return func(m *Manager) {
		if p != nil {
			m.measurer = p
		}
	}
}

// WithSink sets where finished recordings are stored. Without a sink the
// stop event reports an empty path.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithAlbum sets the photo album. The default keeps images in memory.
func WithAlbum(a Album) Option {
	return func(m *Manager) {
		if a != nil {
			m.album = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager delivering on sched.
func NewManager(sched loop.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		sched:    sched,
		measurer: MeasureFunc(func(string) (time.Duration, error) { return 0, nil }),
		album:    NewMemoryAlbum(),
		logger:   slog.Default(),
		players:  make(map[string]*Player),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewPlayer creates a player. A source in opts is loaded in a later turn,
// once the caller had the chance to subscribe to canplay.
func (m *Manager) NewPlayer(opts PlayerOptions) *Player {
	p := newPlayer(m.sched, m.measurer, m.logger, opts)
	m.mu.Lock()
	m.players[p.ID()] = p
	m.mu.Unlock()
	p.OnSettle(func(task.State, error) {
		m.mu.Lock()
		delete(m.players, p.ID())
		m.mu.Unlock()
	})
	if opts.Src != "" {
		m.sched.Post(func() {
			if err := p.SetSrc(opts.Src); err != nil {
				m.logger.Debug("initial audio source not loaded", "error", err)
			}
		})
	}
	return p
}

// Players returns the number of live players.
func (m *Manager) Players() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}

// Recorder returns the global recorder, creating it on first use.
func (m *Manager) Recorder() *Recorder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorder == nil {
		m.recorder = newRecorder(m.sched, m.sink, m.logger)
	}
	return m.recorder
}

// Album returns the photo album.
func (m *Manager) Album() Album { return m.album }

// PauseAll pauses every playing player and the recorder, as the system
// does when audio is interrupted.
func (m *Manager) PauseAll() {
	m.mu.Lock()
	players := lo.Values(m.players)
	rec := m.recorder
	m.mu.Unlock()
	for _, p := range players {
		if p.State() == task.Running {
			_ = p.Pause()
		}
	}
	if rec != nil && rec.State() == task.Running {
		_ = rec.Pause()
	}
}

// Close destroys every player and aborts the recorder.
func (m *Manager) Close() {
	m.mu.Lock()
	players := lo.Values(m.players)
	rec := m.recorder
	m.mu.Unlock()
	for _, p := range players {
		_ = p.Destroy()
	}
	if rec != nil {
		_ = rec.Abort()
	}
}
