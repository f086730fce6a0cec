// Package media implements the simulated audio surface: players that
// advance on the scheduler clock, the global audio recorder and the photo
// album images are saved to.
package media

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/task"
)

// Player events.
const (
	EventCanplay    = "canplay"
	EventPlay       = "play"
	EventPause      = "pause"
	EventStop       = "stop"
	EventEnded      = "ended"
	EventTimeUpdate = "timeUpdate"
	EventError      = "error"
	EventWaiting    = "waiting"
	EventSeeking    = "seeking"
	EventSeeked     = "seeked"
)

// PlayerEvents lists the events a player emits.
var PlayerEvents = []string{
	EventCanplay, EventPlay, EventPause, EventStop, EventEnded,
	EventTimeUpdate, EventError, EventWaiting, EventSeeking, EventSeeked,
}

// Error codes reported through the error event.
const (
	ErrCodeSystem  = 10001
	ErrCodeNetwork = 10002
	ErrCodeFile    = 10003
	ErrCodeFormat  = 10004
)

// TimeUpdateInterval is how often a playing player reports progress.
const TimeUpdateInterval = 250 * time.Millisecond

// Measurer reports the length of an audio source. A zero length means
// unknown; such sources play until stopped.
type Measurer interface {
	Measure(src string) (time.Duration, error)
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(src string) (time.Duration, error)

// Measure implements Measurer.
func (f MeasureFunc) Measure(src string) (time.Duration, error) { return f(src) }

// PlayerOptions are the initial player properties.
type PlayerOptions struct {
	Src       string
	Autoplay  bool
	Loop      bool
	Volume    float64
	StartTime time.Duration
}

// Player is an InnerAudioContext. Its handle is pending until first played,
// running while playing and paused while paused, stopped or ended.
// Destroying it aborts the handle.
type Player struct {
	*task.Handle
	sched    loop.Scheduler
	measurer Measurer
	logger   *slog.Logger
	cancel   loop.Cancel
	started  time.Time
	src      string
	volume   float64
	duration time.Duration
	position time.Duration
	gen      uint64
	loop     bool
	autoplay bool
	mu       sync.Mutex
}

func newPlayer(sched loop.Scheduler, measurer Measurer, logger *slog.Logger, opts PlayerOptions) *Player {
	p := &Player{
		sched:    sched,
		measurer: measurer,
		logger:   logger,
		volume:   1,
		loop:     opts.Loop,
		autoplay: opts.Autoplay,
		position: max(opts.StartTime, 0),
	}
	if opts.Volume > 0 {
		p.volume = min(opts.Volume, 1)
	}
	p.Handle = task.New("InnerAudioContext", sched,
		task.WithTable(task.DefaultTable),
		task.WithLogger(logger),
		task.WithAbortHook(p.disarm),
	)
	return p
}

// SetSrc loads src. The canplay event follows a successful measurement, the
// error event a failed one. With autoplay set, playback starts.
func (p *Player) SetSrc(src string) error {
	if err := p.Require("setSrc", task.Pending, task.Running, task.Paused); err != nil {
		return err
	}
	d, err := p.measurer.Measure(src)
	p.mu.Lock()
	p.src = src
	p.duration = d
	if err != nil {
		p.src = ""
		p.duration = 0
	}
	autoplay := p.autoplay
	p.mu.Unlock()
	if err != nil {
		p.logger.Debug("audio source failed", "src", src, "error", err)
		p.Emit(EventError, dynamic.Object("errCode", ErrCodeFile, "errMsg", err.Error()))
		return nil
	}
	p.Emit(EventCanplay, dynamic.EmptyObject())
	if autoplay && p.State() != task.Running {
		return p.Play()
	}
	return nil
}

// Play starts or resumes playback. Playing a player that is already
// playing changes nothing.
func (p *Player) Play() error {
	if err := p.Require("play", task.Pending, task.Running, task.Paused); err != nil {
		return err
	}
	p.mu.Lock()
	src := p.src
	p.mu.Unlock()
	if src == "" {
		return hosterr.State("InnerAudioContext.play needs a src")
	}

	var err error
	switch p.State() {
	case task.Running:
		return nil
	case task.Pending:
		err = p.Start()
	default:
		err = p.Resume()
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.started = p.sched.Now()
	p.armLocked()
	p.mu.Unlock()
	p.Emit(EventPlay, dynamic.EmptyObject())
	return nil
}

// Pause stops playback, keeping the position.
func (p *Player) Pause() error {
	if err := p.Handle.Pause(); err != nil {
		return err
	}
	p.mu.Lock()
	p.position = p.positionLocked()
	p.disarmLocked()
	p.mu.Unlock()
	p.Emit(EventPause, dynamic.EmptyObject())
	return nil
}

// Stop stops playback and rewinds to the start.
func (p *Player) Stop() error {
	if err := p.Require("stop", task.Running, task.Paused); err != nil {
		return err
	}
	if p.State() == task.Running {
		if err := p.Handle.Pause(); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.position = 0
	p.disarmLocked()
	p.mu.Unlock()
	p.Emit(EventStop, dynamic.EmptyObject())
	return nil
}

// Seek moves the position to the given offset, clamped to the length of a
// source whose length is known.
func (p *Player) Seek(position time.Duration) error {
	if err := p.Require("seek", task.Pending, task.Running, task.Paused); err != nil {
		return err
	}
	p.Emit(EventSeeking, dynamic.EmptyObject())
	p.mu.Lock()
	position = max(position, 0)
	if p.duration > 0 {
		position = min(position, p.duration)
	}
	p.position = position
	p.started = p.sched.Now()
	p.mu.Unlock()
	p.Emit(EventSeeked, dynamic.EmptyObject())
	return nil
}

// Destroy releases the player. Every later control call fails with an
// already-terminal error; destroying twice is a no-op.
func (p *Player) Destroy() error {
	return p.Abort()
}

// SetVolume sets the volume in [0, 1].
func (p *Player) SetVolume(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return hosterr.Contract("volume", "must be within [0, 1], got %v", v)
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	return nil
}

// SetLoop sets whether playback restarts at the end.
func (p *Player) SetLoop(on bool) {
	p.mu.Lock()
	p.loop = on
	p.mu.Unlock()
}

// SetAutoplay sets whether loading a source starts playback.
func (p *Player) SetAutoplay(on bool) {
	p.mu.Lock()
	p.autoplay = on
	p.mu.Unlock()
}

// CurrentTime returns the playback position.
func (p *Player) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// Duration returns the source length, or zero when unknown.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Paused reports whether the player is not playing.
func (p *Player) Paused() bool {
	return p.State() != task.Running
}

// Snapshot returns the guest-visible properties.
func (p *Player) Snapshot() dynamic.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dynamic.Object(
		"src", p.src,
		"autoplay", p.autoplay,
		"loop", p.loop,
		"volume", p.volume,
		"duration", seconds(p.duration),
		"currentTime", seconds(p.positionLocked()),
		"buffered", seconds(p.duration),
		"paused", p.State() != task.Running,
	)
}

func (p *Player) positionLocked() time.Duration {
	if p.State() != task.Running {
		return p.position
	}
	pos := p.position + p.sched.Now().Sub(p.started)
	if p.duration > 0 {
		pos = min(pos, p.duration)
	}
	return pos
}

// armLocked schedules the next progress tick. Ticks of an older
// generation are ignored.
func (p *Player) armLocked() {
	p.disarmLocked()
	gen := p.gen
	p.cancel = p.sched.AfterFunc(TimeUpdateInterval, func() { p.tick(gen) })
}

func (p *Player) disarm() {
	p.mu.Lock()
	p.disarmLocked()
	p.mu.Unlock()
}

func (p *Player) disarmLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Player) tick(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.State() != task.Running {
		p.mu.Unlock()
		return
	}
	pos := p.position + p.sched.Now().Sub(p.started)
	if p.duration == 0 || pos < p.duration {
		p.armLocked()
		p.mu.Unlock()
		p.Emit(EventTimeUpdate, dynamic.Object("currentTime", seconds(pos)))
		return
	}

	if p.loop {
		p.position = 0
		p.started = p.sched.Now()
		p.armLocked()
		p.mu.Unlock()
		p.Emit(EventTimeUpdate, dynamic.Object("currentTime", seconds(p.duration)))
		return
	}
	p.position = 0
	p.disarmLocked()
	p.mu.Unlock()
	if err := p.Handle.Pause(); err != nil {
		return
	}
	p.Emit(EventTimeUpdate, dynamic.Object("currentTime", seconds(p.duration)))
	p.Emit(EventEnded, dynamic.EmptyObject())
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1e6) / 1e6
}
