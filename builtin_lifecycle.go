package minihost

import (
	"context"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/fsys"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/task"
)

// Lifecycle events.
const (
	EventShow                   = "show"
	EventHide                   = "hide"
	EventError                  = "error"
	EventMemoryWarning          = "memoryWarning"
	EventAudioInterruptionBegin = "audioInterruptionBegin"
	EventAudioInterruptionEnd   = "audioInterruptionEnd"
)

var lifecycleEvents = map[string]string{
	EventShow:                   "Listen for the app entering the foreground.",
	EventHide:                   "Listen for the app entering the background.",
	EventError:                  "Listen for uncaught script errors.",
	EventMemoryWarning:          "Listen for memory pressure warnings.",
	EventAudioInterruptionBegin: "Listen for audio being interrupted by the system.",
	EventAudioInterruptionEnd:   "Listen for the end of an audio interruption.",
}

func (h *Host) bindLifecycle() error {
	for event, desc := range lifecycleEvents {
		on, off := task.ListenerMethods(event)
		if err := h.event(on, off, event, h.lifecycle, desc); err != nil {
			return err
		}
	}

	if err := h.Register(registry.Capability{
		Name:        "getLaunchOptionsSync",
		Kind:        registry.KindSync,
		Description: "Return the options the app was launched with.",
	}, func(context.Context, *Call) (Result, error) {
		return Value(h.launch.Clone()), nil
	}); err != nil {
		return err
	}

	if err := h.Register(registry.Capability{
		Name:        "exitMiniProgram",
		Kind:        registry.KindAsync,
		Description: "Close the app.",
	}, func(context.Context, *Call) (Result, error) {
		if h.exit != nil {
			h.sched.Post(h.exit)
		}
		return Value(dynamic.EmptyObject()), nil
	}); err != nil {
		return err
	}

	return h.Register(registry.Capability{
		Name:        "env",
		Kind:        registry.KindConstant,
		Description: "Host environment paths.",
	}, func(context.Context, *Call) (Result, error) {
		return Value(dynamic.Object("USER_DATA_PATH", fsys.UserDataPath)), nil
	})
}

// Show notifies onShow observers with the launch options.
func (h *Host) Show() {
	h.lifecycle.Emit(EventShow, h.launch.Clone())
}

// Hide notifies onHide observers.
func (h *Host) Hide() {
	h.lifecycle.Emit(EventHide, dynamic.EmptyObject())
}

// MemoryWarning notifies onMemoryWarning observers. Level follows the
// platform trim levels, such as 5, 10 and 15.
func (h *Host) MemoryWarning(level int) {
	h.lifecycle.Emit(EventMemoryWarning, dynamic.Object("level", level))
}

// AudioInterruption notifies the begin or end observers. At the beginning
// every playing audio context and the recorder are paused.
func (h *Host) AudioInterruption(begin bool) {
	event := EventAudioInterruptionEnd
	if begin {
		event = EventAudioInterruptionBegin
		h.media.PauseAll()
	}
	h.lifecycle.Emit(event, dynamic.EmptyObject())
}
