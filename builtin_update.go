package minihost

import (
	"context"
	"runtime"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/task"
)

// Update manager events.
const (
	EventCheckForUpdate = "checkForUpdate"
	EventUpdateReady    = "updateReady"
	EventUpdateFailed   = "updateFailed"
)

// updater is the state behind the UpdateManager singleton. Its handle never
// leaves pending; it only carries the events.
type updater struct {
	handle *task.Handle
	object *task.Object
	ready  bool
}

func (h *Host) bindUpdate() error {
	u := &updater{handle: task.New("UpdateManager", h.sched, task.WithLogger(h.logger))}
	u.object = task.NewObject(u.handle, EventCheckForUpdate, EventUpdateReady, EventUpdateFailed).
		Without("abort").
		Method("applyUpdate", func(dynamic.Value) (dynamic.Value, error) {
			h.mu.Lock()
			ready := u.ready
			h.mu.Unlock()
			if !ready {
				return dynamic.Null(), hosterr.State("no update is ready to apply")
			}
			restart := h.restart
			if restart == nil {
				restart = h.exit
			}
			if restart != nil {
				h.sched.Post(restart)
			}
			return dynamic.Null(), nil
		})
	h.updates = u

	if err := h.Register(registry.Capability{
		Name:        "getUpdateManager",
		Kind:        registry.KindFactory,
		Task:        "UpdateManager",
		Description: "Return the manager reporting app updates.",
	}, func(context.Context, *Call) (Result, error) {
		return Result{Object: u.object}, nil
	}); err != nil {
		return err
	}

	return h.Register(registry.Capability{
		Name:        "triggerGC",
		Kind:        registry.KindSync,
		Description: "Ask the runtime to collect garbage.",
	}, func(context.Context, *Call) (Result, error) {
		runtime.GC()
		return Value(dynamic.Null()), nil
	})
}

// CheckForUpdate reports the result of the update check to the update
// manager's checkForUpdate listeners.
func (h *Host) CheckForUpdate(hasUpdate bool) {
	h.updates.handle.Emit(EventCheckForUpdate, dynamic.Object("hasUpdate", hasUpdate))
}

// UpdateReady marks a downloaded update as ready, enabling applyUpdate.
func (h *Host) UpdateReady() {
	h.mu.Lock()
	h.updates.ready = true
	h.mu.Unlock()
	h.updates.handle.Emit(EventUpdateReady, dynamic.EmptyObject())
}

// UpdateFailed reports a failed update download.
func (h *Host) UpdateFailed() {
	h.updates.handle.Emit(EventUpdateFailed, dynamic.EmptyObject())
}
