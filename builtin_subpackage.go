package minihost

import (
	"context"

	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/subpackage"
	"github.com/reglet-dev/minihost/task"
)

func (h *Host) bindSubpackage() error {
	if h.subpackages == nil {
		return nil
	}
	m := h.subpackages
	return h.Register(registry.Capability{
		Name:        "loadSubpackage",
		Kind:        registry.KindFactory,
		Task:        "LoadSubpackageTask",
		Description: "Fetch, verify and cache a declared subpackage.",
		Params:      schema.Object(schema.String("name").Req().NonEmpty().Doc("subpackage name or root")),
	}, func(ctx context.Context, call *Call) (Result, error) {
		t, err := m.Load(ctx, str(call.Params, "name"))
		if err != nil {
			return Result{}, err
		}
		obj := task.NewObject(t.Handle, subpackage.EventProgressUpdate)
		return Result{Object: obj, Future: t.Future()}, nil
	})
}
