package minihost

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/media"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
)

// ignoreTerminal turns the already-terminal error of a repeated release
// into a no-op.
func ignoreTerminal(err error) error {
	if errors.Is(err, hosterr.ErrAlreadyTerminal) {
		return nil
	}
	return err
}

func secondsArg(args dynamic.Value, key string) time.Duration {
	return time.Duration(number(args, key) * float64(time.Second))
}

func (h *Host) bindMedia() error {
	m := h.media
	void := func(err error) (dynamic.Value, error) { return dynamic.Null(), err }

	if err := h.Register(registry.Capability{
		Name:        "createInnerAudioContext",
		Kind:        registry.KindFactory,
		Task:        "InnerAudioContext",
		Description: "Create an audio player.",
		Params: schema.Object(
			schema.String("src"),
			schema.Boolean("autoplay"),
			schema.Boolean("loop"),
			schema.Number("volume").Range(0, 1).WithDefault(1),
			schema.Number("startTime").AtLeast(0).Doc("start offset in seconds"),
		),
	}, func(_ context.Context, call *Call) (Result, error) {
		p := call.Params
		player := m.NewPlayer(media.PlayerOptions{
			Src:       str(p, "src"),
			Autoplay:  boolean(p, "autoplay"),
			Loop:      boolean(p, "loop"),
			Volume:    number(p, "volume"),
			StartTime: secondsArg(p, "startTime"),
		})
		obj := task.NewObject(player.Handle, media.PlayerEvents...)
		obj.Method("play", func(dynamic.Value) (dynamic.Value, error) { return void(player.Play()) }).
			Method("pause", func(dynamic.Value) (dynamic.Value, error) { return void(player.Pause()) }).
			Method("stop", func(dynamic.Value) (dynamic.Value, error) { return void(player.Stop()) }).
			Method("seek", func(args dynamic.Value) (dynamic.Value, error) {
				return void(player.Seek(secondsArg(args, "position")))
			}).
			Positional("seek", "position").
			Method("destroy", func(dynamic.Value) (dynamic.Value, error) {
				return void(ignoreTerminal(player.Destroy()))
			}).
			Method("setSrc", func(args dynamic.Value) (dynamic.Value, error) {
				return void(player.SetSrc(str(args, "src")))
			}).
			Positional("setSrc", "src").
			Method("setVolume", func(args dynamic.Value) (dynamic.Value, error) {
				return void(player.SetVolume(number(args, "volume")))
			}).
			Positional("setVolume", "volume").
			Method("setLoop", func(args dynamic.Value) (dynamic.Value, error) {
				player.SetLoop(boolean(args, "loop"))
				return dynamic.Null(), nil
			}).
			Positional("setLoop", "loop").
			Method("setAutoplay", func(args dynamic.Value) (dynamic.Value, error) {
				player.SetAutoplay(boolean(args, "autoplay"))
				return dynamic.Null(), nil
			}).
			Positional("setAutoplay", "autoplay").
			Method("getState", func(dynamic.Value) (dynamic.Value, error) {
				return player.Snapshot(), nil
			})
		// destroy replaces abort on audio contexts.
		obj.Without("abort")
		return Result{Object: obj}, nil
	}); err != nil {
		return err
	}

	recorder := h.recorderObject()
	if err := h.Register(registry.Capability{
		Name:        "getRecorderManager",
		Kind:        registry.KindFactory,
		Task:        "RecorderManager",
		Description: "Return the global audio recorder.",
	}, func(context.Context, *Call) (Result, error) {
		return Result{Object: recorder}, nil
	}); err != nil {
		return err
	}

	return h.Register(registry.Capability{
		Name:        "saveImageToPhotosAlbum",
		Kind:        registry.KindAsync,
		Scope:       string(capability.ScopeWritePhotosAlbum),
		Description: "Copy an image file into the user's photo album.",
		Params:      schema.Object(schema.String("filePath").Req().As(schema.FormatPath)),
	}, func(_ context.Context, call *Call) (Result, error) {
		if h.fs == nil {
			return Result{}, hosterr.Host(hosterr.CodeInternal, "no file system is configured")
		}
		filePath := str(call.Params, "filePath")
		ext := strings.ToLower(path.Ext(filePath))
		if !imageExts[ext] {
			return Result{}, hosterr.Contract("filePath", "%s is not an image", filePath)
		}
		f, _, err := h.fs.Open(filePath)
		if err != nil {
			return Result{}, err
		}
		defer f.Close()
		name, err := m.Album().Save(ext, f)
		if err != nil {
			return Result{}, err
		}
		h.logger.Debug("image saved to album", "filePath", filePath, "name", name)
		return Value(dynamic.EmptyObject()), nil
	})
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// recorderObject exposes the global recorder. Starting checks the record
// scope; a prompt runs off the loop and a refusal reaches the error event.
func (h *Host) recorderObject() *task.Object {
	rec := h.media.Recorder()
	void := func(err error) (dynamic.Value, error) { return dynamic.Null(), err }

	start := func(opts media.RecordOptions) {
		if err := rec.Start(opts); err != nil {
			rec.EmitError(err)
		}
	}
	obj := task.NewObject(rec.Handle, media.RecorderEvents...).Without("abort")
	obj.Method("start", func(args dynamic.Value) (dynamic.Value, error) {
		opts, err := media.RecordOptions{
			Format:        str(args, "format"),
			Duration:      millis(args, "duration"),
			SampleRate:    int(number(args, "sampleRate")),
			Channels:      int(number(args, "numberOfChannels")),
			EncodeBitRate: int(number(args, "encodeBitRate")),
			FrameSize:     int(number(args, "frameSize")),
		}.WithDefaults()
		if err != nil {
			return dynamic.Null(), err
		}
		if err := rec.Require("start", task.Pending); err != nil {
			return dynamic.Null(), err
		}
		scope := capability.ScopeRecord
		if h.checker.Decided(scope) {
			if err := h.checker.CheckScope(context.Background(), "RecorderManager.start", scope); err != nil {
				rec.EmitError(err)
				return dynamic.Null(), nil
			}
			start(opts)
			return dynamic.Null(), nil
		}
		go func() {
			err := h.checker.CheckScope(context.Background(), "RecorderManager.start", scope)
			h.sched.Post(func() {
				if err != nil {
					rec.EmitError(err)
					return
				}
				start(opts)
			})
		}()
		return dynamic.Null(), nil
	}).
		Method("pause", func(dynamic.Value) (dynamic.Value, error) { return void(rec.Pause()) }).
		Method("resume", func(dynamic.Value) (dynamic.Value, error) { return void(rec.Resume()) }).
		Method("stop", func(dynamic.Value) (dynamic.Value, error) { return void(rec.Stop()) })
	return obj
}

// recordingSink stores finished recordings as temp files.
func (h *Host) recordingSink(format string, data []byte) (string, error) {
	if h.fs == nil {
		return "", nil
	}
	guest, f, err := h.fs.CreateTemp(format)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", hosterr.Wrap(hosterr.CodeInternal, err, "write recording: %v", err)
	}
	if err := f.Close(); err != nil {
		return "", hosterr.Wrap(hosterr.CodeInternal, err, "write recording: %v", err)
	}
	return guest, nil
}
