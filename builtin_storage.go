package minihost

import (
	"context"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/storage"
)

var storageKey = schema.String("key").Req().NonEmpty().Doc("storage key")

func (h *Host) bindStorage() error {
	store := h.store
	caps := []struct {
		c       registry.Capability
		fn      Handler
		project func(dynamic.Value) dynamic.Value
	}{
		{
			registry.Capability{
				Name:        "setStorage",
				Kind:        registry.KindAsync,
				Description: "Store a JSON-compatible value under a key.",
				Params: schema.Object(
					storageKey,
					schema.Any("data").Req().Doc("value to store"),
				),
			},
			func(_ context.Context, call *Call) (Result, error) {
				if err := store.Set(str(call.Params, "key"), field(call.Params, "data")); err != nil {
					return Result{}, err
				}
				return Value(dynamic.EmptyObject()), nil
			},
			syncVoid,
		},
		{
			registry.Capability{
				Name:        "getStorage",
				Kind:        registry.KindAsync,
				Description: "Read the value stored under a key.",
				Params:      schema.Object(storageKey),
				Response:    schema.Object(schema.Any("data")),
			},
			func(_ context.Context, call *Call) (Result, error) {
				v, err := store.Get(str(call.Params, "key"))
				if err != nil {
					return Result{}, err
				}
				return Value(dynamic.Object("data", v)), nil
			},
			syncMember("data"),
		},
		{
			registry.Capability{
				Name:        "removeStorage",
				Kind:        registry.KindAsync,
				Description: "Remove a key.",
				Params:      schema.Object(storageKey),
			},
			func(_ context.Context, call *Call) (Result, error) {
				if err := store.Remove(str(call.Params, "key")); err != nil {
					return Result{}, err
				}
				return Value(dynamic.EmptyObject()), nil
			},
			syncVoid,
		},
		{
			registry.Capability{
				Name:        "clearStorage",
				Kind:        registry.KindAsync,
				Description: "Remove every key.",
			},
			func(context.Context, *Call) (Result, error) {
				if err := store.Clear(); err != nil {
					return Result{}, err
				}
				return Value(dynamic.EmptyObject()), nil
			},
			syncVoid,
		},
		{
			registry.Capability{
				Name:          "getStorageInfo",
				Kind:          registry.KindAsync,
				Description:   "Report stored keys and space usage in KB.",
				ResponseModel: storage.Info{},
			},
			func(context.Context, *Call) (Result, error) {
				return Value(store.InfoValue()), nil
			},
			nil,
		},
	}
	for _, b := range caps {
		if err := h.pair(b.c, b.fn, b.project); err != nil {
			return err
		}
	}
	return nil
}
