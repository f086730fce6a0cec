package media

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/task"
)

// Recorder events.
const (
	EventStart         = "start"
	EventResume        = "resume"
	EventFrameRecorded = "frameRecorded"
)

// RecorderEvents lists the events the recorder emits.
var RecorderEvents = []string{EventStart, EventPause, EventResume, EventStop, EventFrameRecorded, EventError}

// RecorderTable lets the recorder return to idle (pending) after each
// recording. Only closing the host aborts it.
var RecorderTable = task.Table{
	task.Pending: {task.Running, task.Aborted},
	task.Running: {task.Paused, task.Pending, task.Aborted},
	task.Paused:  {task.Running, task.Pending, task.Aborted},
}

// Recording limits.
const (
	DefaultRecordDuration = time.Minute
	MaxRecordDuration     = 10 * time.Minute
)

// SampleRates lists the accepted sample rates.
var SampleRates = []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000}

// Formats lists the accepted recording formats.
var Formats = []string{"mp3", "aac"}

// RecordOptions configure one recording.
type RecordOptions struct {
	Format        string
	Duration      time.Duration
	SampleRate    int
	Channels      int
	EncodeBitRate int
	// FrameSize is the size of frameRecorded chunks in KB. Zero disables
	// the event.
	FrameSize int
}

// WithDefaults fills in unset options and rejects invalid ones.
func (o RecordOptions) WithDefaults() (RecordOptions, error) {
	if o.Duration <= 0 {
		o.Duration = DefaultRecordDuration
	}
	if o.Duration > MaxRecordDuration {
		return o, hosterr.Contract("duration", "must be at most %s, got %s", MaxRecordDuration, o.Duration)
	}
	if o.SampleRate == 0 {
		o.SampleRate = 8000
	}
	if !slices.Contains(SampleRates, o.SampleRate) {
		return o, hosterr.Contract("sampleRate", "unsupported sample rate %d", o.SampleRate)
	}
	if o.Channels == 0 {
		o.Channels = 2
	}
	if o.Channels != 1 && o.Channels != 2 {
		return o, hosterr.Contract("numberOfChannels", "must be 1 or 2, got %d", o.Channels)
	}
	if o.EncodeBitRate == 0 {
		o.EncodeBitRate = 48000
	}
	if o.Format == "" {
		o.Format = "aac"
	}
	if !slices.Contains(Formats, o.Format) {
		return o, hosterr.Contract("format", "must be one of mp3, aac, got %q", o.Format)
	}
	if o.FrameSize < 0 {
		return o, hosterr.Contract("frameSize", "must not be negative")
	}
	return o, nil
}

// bytesFor is the encoded size of d at the configured bit rate.
func (o RecordOptions) bytesFor(d time.Duration) int {
	return int(d.Seconds() * float64(o.EncodeBitRate) / 8)
}

// frameInterval is the recording time that fills one frame.
func (o RecordOptions) frameInterval() time.Duration {
	if o.FrameSize <= 0 {
		return 0
	}
	perSecond := float64(o.EncodeBitRate) / 8
	return time.Duration(float64(o.FrameSize*1024) / perSecond * float64(time.Second))
}

// Sink stores a finished recording and returns its guest path.
type Sink func(format string, data []byte) (string, error)

// Recorder is the global RecorderManager. Recordings are silent and sized
// by the encode bit rate. The stop event carries the stored file's path.
type Recorder struct {
	*task.Handle
	sched   loop.Scheduler
	sink    Sink
	logger  *slog.Logger
	cancel  loop.Cancel
	started time.Time
	opts    RecordOptions
	elapsed time.Duration
	framed  time.Duration
	gen     uint64
	mu      sync.Mutex
}

func newRecorder(sched loop.Scheduler, sink Sink, logger *slog.Logger) *Recorder {
	r := &Recorder{sched: sched, sink: sink, logger: logger}
	r.Handle = task.New("RecorderManager", sched,
		task.WithTable(RecorderTable),
		task.WithLogger(logger),
		task.WithAbortHook(func() {
			r.mu.Lock()
			r.disarmLocked()
			r.mu.Unlock()
		}),
	)
	return r
}

// Start begins a recording. It fails unless the recorder is idle.
func (r *Recorder) Start(opts RecordOptions) error {
	opts, err := opts.WithDefaults()
	if err != nil {
		return err
	}
	if err := r.Require("start", task.Pending); err != nil {
		return err
	}
	if err := r.Transition(task.Running); err != nil {
		return err
	}
	r.mu.Lock()
	r.opts = opts
	r.elapsed = 0
	r.framed = 0
	r.started = r.sched.Now()
	r.armLocked()
	r.mu.Unlock()
	r.logger.Debug("recording started", "format", opts.Format, "duration", opts.Duration)
	r.Emit(EventStart, dynamic.EmptyObject())
	return nil
}

// Pause suspends the recording.
func (r *Recorder) Pause() error {
	if err := r.Handle.Pause(); err != nil {
		return err
	}
	r.mu.Lock()
	r.elapsed += r.sched.Now().Sub(r.started)
	r.disarmLocked()
	r.mu.Unlock()
	r.Emit(EventPause, dynamic.EmptyObject())
	return nil
}

// Resume continues a paused recording.
func (r *Recorder) Resume() error {
	if err := r.Handle.Resume(); err != nil {
		return err
	}
	r.mu.Lock()
	r.started = r.sched.Now()
	r.armLocked()
	r.mu.Unlock()
	r.Emit(EventResume, dynamic.EmptyObject())
	return nil
}

// Stop ends the recording, stores it and returns the recorder to idle.
func (r *Recorder) Stop() error {
	if err := r.Require("stop", task.Running, task.Paused); err != nil {
		return err
	}
	return r.finish()
}

// Recording reports whether a recording is running or paused.
func (r *Recorder) Recording() bool {
	s := r.State()
	return s == task.Running || s == task.Paused
}

// EmitError reports err through the error event.
func (r *Recorder) EmitError(err error) {
	he := hosterr.As(err)
	r.Emit(EventError, dynamic.Object("errMsg", "operateRecorder:fail "+he.Message, "errCode", int(he.Code)))
}

func (r *Recorder) finish() error {
	r.mu.Lock()
	if r.State() == task.Running {
		r.elapsed += r.sched.Now().Sub(r.started)
	}
	r.disarmLocked()
	elapsed := min(r.elapsed, r.opts.Duration)
	opts := r.opts
	framed := r.framed
	r.mu.Unlock()

	if err := r.Transition(task.Pending); err != nil {
		return err
	}
	if opts.FrameSize > 0 && elapsed > framed {
		r.Emit(EventFrameRecorded, dynamic.Object(
			"frameBuffer", dynamic.Binary(make([]byte, opts.bytesFor(elapsed-framed))),
			"isLastFrame", true,
		))
	}

	data := make([]byte, opts.bytesFor(elapsed))
	path := ""
	if r.sink != nil {
		var err error
		if path, err = r.sink(opts.Format, data); err != nil {
			r.EmitError(err)
			return nil
		}
	}
	r.Emit(EventStop, dynamic.Object(
		"tempFilePath", path,
		"duration", elapsed.Milliseconds(),
		"fileSize", len(data),
	))
	return nil
}

// armLocked schedules the next frame or the automatic stop, whichever
// comes first.
func (r *Recorder) armLocked() {
	r.disarmLocked()
	gen := r.gen
	done := r.elapsed + r.sched.Now().Sub(r.started)
	next := r.opts.Duration - done
	if iv := r.opts.frameInterval(); iv > 0 {
		next = min(next, r.framed+iv-done)
	}
	r.cancel = r.sched.AfterFunc(max(next, 0), func() { r.tick(gen) })
}

func (r *Recorder) disarmLocked() {
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Recorder) tick(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.State() != task.Running {
		r.mu.Unlock()
		return
	}
	done := r.elapsed + r.sched.Now().Sub(r.started)
	if done >= r.opts.Duration {
		r.mu.Unlock()
		if err := r.finish(); err != nil {
			r.logger.Debug("recorder auto stop failed", "error", err)
		}
		return
	}
	var frame []byte
	if iv := r.opts.frameInterval(); iv > 0 && done >= r.framed+iv {
		frame = make([]byte, r.opts.FrameSize*1024)
		r.framed += iv
	}
	r.armLocked()
	r.mu.Unlock()
	if frame != nil {
		r.Emit(EventFrameRecorded, dynamic.Object("frameBuffer", dynamic.Binary(frame), "isLastFrame", false))
	}
}
