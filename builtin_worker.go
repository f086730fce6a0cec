package minihost

import (
	"context"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
	"github.com/reglet-dev/minihost/worker"
)

func (h *Host) bindWorker() error {
	workers := h.workers
	return h.Register(registry.Capability{
		Name:        "createWorker",
		Kind:        registry.KindFactory,
		Task:        "Worker",
		Description: "Start the background worker script. Only one worker runs at a time.",
		Params: schema.Object(
			schema.String("scriptPath").As(schema.FormatPath),
			schema.String("value").Doc("script path passed positionally"),
		),
	}, func(ctx context.Context, call *Call) (Result, error) {
		path := str(call.Params, "scriptPath")
		if path == "" {
			path = str(call.Params, "value")
		}
		if path == "" {
			return Result{}, hosterr.Contract("scriptPath", "must not be empty")
		}
		w, err := workers.Create(ctx, path)
		if err != nil {
			return Result{}, err
		}
		obj := task.NewObject(w.Handle, worker.EventMessage, worker.EventError)
		obj.Method("postMessage", func(args dynamic.Value) (dynamic.Value, error) {
			msg, ok := args.Get("message")
			if !ok {
				msg = args
			}
			return dynamic.Null(), w.PostMessage(msg)
		}).Positional("postMessage", "message")
		obj.Method("terminate", func(dynamic.Value) (dynamic.Value, error) {
			return dynamic.Null(), w.Terminate()
		})
		return Result{Value: dynamic.EmptyObject(), Object: obj}, nil
	})
}
