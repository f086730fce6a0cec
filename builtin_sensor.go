package minihost

import (
	"context"
	"strings"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/sensor"
)

// sensorNames maps each sensor to the suffix of its start/stop capabilities.
var sensorNames = map[sensor.Kind]string{
	sensor.Accelerometer: "Accelerometer",
	sensor.Compass:       "Compass",
	sensor.Gyroscope:     "Gyroscope",
	sensor.DeviceMotion:  "DeviceMotionListening",
}

func (h *Host) bindSensors() error {
	m := h.sensors
	for _, k := range sensor.Kinds {
		kind := k
		suffix := sensorNames[kind]
		if err := h.Register(registry.Capability{
			Name:        "start" + suffix,
			Kind:        registry.KindAsync,
			Description: "Start sampling the " + string(kind) + " sensor.",
			Params:      schema.Object(schema.Enum("interval", "normal", "ui", "game").WithDefault("normal")),
		}, func(_ context.Context, call *Call) (Result, error) {
			if err := m.Start(kind, str(call.Params, "interval")); err != nil {
				return Result{}, err
			}
			return Value(dynamic.EmptyObject()), nil
		}); err != nil {
			return err
		}
		if err := h.Register(registry.Capability{
			Name:        "stop" + suffix,
			Kind:        registry.KindAsync,
			Description: "Stop sampling the " + string(kind) + " sensor.",
		}, func(context.Context, *Call) (Result, error) {
			if err := m.Stop(kind); err != nil {
				return Result{}, err
			}
			return Value(dynamic.EmptyObject()), nil
		}); err != nil {
			return err
		}

		event := kind.Event()
		name := strings.ToUpper(event[:1]) + event[1:]
		if err := h.event("on"+name, "off"+name, event, m.Ledger(),
			"Listen for "+string(kind)+" readings."); err != nil {
			return err
		}
	}
	return nil
}
