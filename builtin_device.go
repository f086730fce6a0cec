package minihost

import (
	"context"

	"github.com/reglet-dev/minihost/device"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
)

func (h *Host) bindDevice() error {
	d := h.device
	empty := Value(dynamic.EmptyObject())

	paired := []struct {
		c  registry.Capability
		fn Handler
	}{
		{
			registry.Capability{
				Name:          "getSystemInfo",
				Kind:          registry.KindAsync,
				Description:   "Describe the device, screen and host version.",
				ResponseModel: device.SystemInfo{},
			},
			func(context.Context, *Call) (Result, error) {
				v, err := dynamic.FromGo(d.SystemInfo())
				if err != nil {
					return Result{}, err
				}
				return Value(v), nil
			},
		},
		{
			registry.Capability{
				Name:          "getBatteryInfo",
				Kind:          registry.KindAsync,
				Description:   "Report the battery level and charging state.",
				ResponseModel: device.BatteryInfo{},
			},
			func(context.Context, *Call) (Result, error) {
				v, err := dynamic.FromGo(d.BatteryInfo())
				if err != nil {
					return Result{}, err
				}
				return Value(v), nil
			},
		},
	}
	for _, b := range paired {
		if err := h.pair(b.c, b.fn, nil); err != nil {
			return err
		}
	}

	single := []struct {
		c  registry.Capability
		fn Handler
	}{
		{
			registry.Capability{
				Name:        "getNetworkType",
				Kind:        registry.KindAsync,
				Description: "Report the network type.",
				Response:    schema.Object(schema.Enum("networkType", device.NetworkTypes...)),
			},
			func(context.Context, *Call) (Result, error) {
				return Value(dynamic.Object("networkType", d.NetworkType())), nil
			},
		},
		{
			registry.Capability{
				Name:        "getClipboardData",
				Kind:        registry.KindAsync,
				Description: "Read the clipboard text.",
				Response:    schema.Object(schema.String("data")),
			},
			func(context.Context, *Call) (Result, error) {
				s, err := d.Clipboard()
				if err != nil {
					return Result{}, err
				}
				return Value(dynamic.Object("data", s)), nil
			},
		},
		{
			registry.Capability{
				Name:        "setClipboardData",
				Kind:        registry.KindAsync,
				Description: "Replace the clipboard text.",
				Params:      schema.Object(schema.String("data").Req()),
			},
			func(_ context.Context, call *Call) (Result, error) {
				if err := d.SetClipboard(str(call.Params, "data")); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "getScreenBrightness",
				Kind:        registry.KindAsync,
				Description: "Read the screen brightness in [0, 1].",
				Response:    schema.Object(schema.Number("value").Range(0, 1)),
			},
			func(context.Context, *Call) (Result, error) {
				return Value(dynamic.Object("value", d.Brightness())), nil
			},
		},
		{
			registry.Capability{
				Name:        "setScreenBrightness",
				Kind:        registry.KindAsync,
				Description: "Set the screen brightness in [0, 1].",
				Params:      schema.Object(schema.Number("value").Req().Range(0, 1)),
			},
			func(_ context.Context, call *Call) (Result, error) {
				if err := d.SetBrightness(number(call.Params, "value")); err != nil {
					return Result{}, err
				}
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "setKeepScreenOn",
				Kind:        registry.KindAsync,
				Description: "Hold the screen on or release it.",
				Params:      schema.Object(schema.Boolean("keepScreenOn").Req()),
			},
			func(_ context.Context, call *Call) (Result, error) {
				d.SetKeepScreenOn(boolean(call.Params, "keepScreenOn"))
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "vibrateShort",
				Kind:        registry.KindAsync,
				Description: "Vibrate briefly.",
			},
			func(context.Context, *Call) (Result, error) {
				d.VibrateShort()
				return empty, nil
			},
		},
		{
			registry.Capability{
				Name:        "vibrateLong",
				Kind:        registry.KindAsync,
				Description: "Vibrate for 400ms.",
			},
			func(context.Context, *Call) (Result, error) {
				d.VibrateLong()
				return empty, nil
			},
		},
	}
	for _, b := range single {
		if err := h.Register(b.c, b.fn); err != nil {
			return err
		}
	}

	for _, e := range []struct{ event, desc string }{
		{device.EventNetworkStatusChange, "Listen for network type changes."},
		{device.EventDeviceOrientationChange, "Listen for the screen turning between portrait and landscape."},
		{device.EventWindowResize, "Listen for window size changes."},
	} {
		on, off := task.ListenerMethods(e.event)
		if err := h.event(on, off, e.event, d.Ledger(), e.desc); err != nil {
			return err
		}
	}
	return nil
}
