// Package device serves system information, battery, network status,
// clipboard and screen capabilities.
package device

import (
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/events"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
)

// Device events.
const (
	// EventNetworkStatusChange is emitted when SetNetworkType changes the type.
	EventNetworkStatusChange     = "networkStatusChange"
	EventDeviceOrientationChange = "deviceOrientationChange"
	EventWindowResize            = "windowResize"
)

// NetworkTypes lists the reportable network types.
var NetworkTypes = []string{"wifi", "2g", "3g", "4g", "5g", "unknown", "none"}

// Screen orientations.
const (
	Portrait  = "portrait"
	Landscape = "landscape"
)

// Vibration lengths.
const (
	ShortVibration = 15 * time.Millisecond
	LongVibration  = 400 * time.Millisecond
)

// SystemInfo describes the device and host.
type SystemInfo struct {
	Brand          string  `json:"brand"`
	Model          string  `json:"model"`
	Language       string  `json:"language"`
	Version        string  `json:"version"`
	System         string  `json:"system"`
	Platform       string  `json:"platform"`
	SDKVersion     string  `json:"SDKVersion"`
	PixelRatio     float64 `json:"pixelRatio"`
	ScreenWidth    int     `json:"screenWidth"`
	ScreenHeight   int     `json:"screenHeight"`
	WindowWidth    int     `json:"windowWidth"`
	WindowHeight   int     `json:"windowHeight"`
	StatusBar      int     `json:"statusBarHeight"`
	BenchmarkLevel int     `json:"benchmarkLevel"`
}

// DefaultSystemInfo describes a phone-sized virtual device.
func DefaultSystemInfo(version string) SystemInfo {
	return SystemInfo{
		Brand:          "minihost",
		Model:          "virtual",
		Language:       "en",
		Version:        version,
		System:         runtime.GOOS,
		Platform:       "devtools",
		SDKVersion:     version,
		PixelRatio:     2,
		ScreenWidth:    375,
		ScreenHeight:   812,
		WindowWidth:    375,
		WindowHeight:   812,
		StatusBar:      44,
		BenchmarkLevel: 1,
	}
}

// BatteryInfo is the battery state.
type BatteryInfo struct {
	Level      int  `json:"level"`
	IsCharging bool `json:"isCharging"`
}

// Device holds the state behind the device capabilities.
type Device struct {
	clipboard    Clipboard
	ledger       *events.Ledger
	logger       *slog.Logger
	vibrate      func(time.Duration)
	info         SystemInfo
	networkType  string
	orientation  string
	battery      BatteryInfo
	brightness   float64
	keepScreenOn bool
	mu           sync.Mutex
}

// Option configures a Device.
type Option func(*Device)

// WithSystemInfo replaces the reported system information.
func WithSystemInfo(info SystemInfo) Option {
	return func(d *Device) { d.info = info }
}

// WithBattery sets the reported battery state.
func WithBattery(b BatteryInfo) Option {
	return func(d *Device) { d.battery = b }
}

// WithClipboard sets the clipboard. The default is in memory.
func WithClipboard(c Clipboard) Option {
	return func(d *Device) {
		if c != nil {
			d.clipboard = c
		}
	}
}

// WithVibrator sets the function that performs vibrations.
func WithVibrator(fn func(time.Duration)) Option {
	return func(d *Device) { d.vibrate = fn }
}

// WithLedger emits into ledger instead of a private one.
func WithLedger(l *events.Ledger) Option {
	return func(d *Device) { d.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a device on wifi with a full battery and half brightness.
func New(sched loop.Scheduler, opts ...Option) *Device {
	d := &Device{
		clipboard:   &MemoryClipboard{},
		logger:      slog.Default(),
		info:        DefaultSystemInfo("0.0.0"),
		networkType: "wifi",
		orientation: Portrait,
		battery:     BatteryInfo{Level: 100},
		brightness:  0.5,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.ledger == nil {
		d.ledger = events.NewLedger(sched, events.WithLogger(d.logger))
	}
	if d.vibrate == nil {
		d.vibrate = func(dur time.Duration) { d.logger.Debug("vibrate", "duration", dur) }
	}
	return d
}

// SystemInfo returns the system information.
func (d *Device) SystemInfo() SystemInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// BatteryInfo returns the battery state.
func (d *Device) BatteryInfo() BatteryInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.battery
}

// NetworkType returns the current network type.
func (d *Device) NetworkType() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.networkType
}

// SetNetworkType changes the network type and notifies listeners when it
// differs from the current one.
func (d *Device) SetNetworkType(t string) error {
	if !slices.Contains(NetworkTypes, t) {
		return hosterr.Contract("networkType", "unknown network type %q", t)
	}
	d.mu.Lock()
	changed := d.networkType != t
	d.networkType = t
	d.mu.Unlock()
	if changed {
		d.ledger.Emit(EventNetworkStatusChange, dynamic.Object(
			"isConnected", t != "none",
			"networkType", t,
		))
	}
	return nil
}

// Ledger returns the ledger network status events are emitted into.
func (d *Device) Ledger() *events.Ledger { return d.ledger }

// Clipboard returns the clipboard text.
func (d *Device) Clipboard() (string, error) {
	s, err := d.clipboard.Read()
	if err != nil {
		return "", hosterr.Wrap(hosterr.CodeInternal, err, "read clipboard: %v", err)
	}
	return s, nil
}

// SetClipboard replaces the clipboard text.
func (d *Device) SetClipboard(s string) error {
	if err := d.clipboard.Write(s); err != nil {
		return hosterr.Wrap(hosterr.CodeInternal, err, "write clipboard: %v", err)
	}
	return nil
}

// Brightness returns the screen brightness in [0, 1].
func (d *Device) Brightness() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}

// SetBrightness sets the screen brightness.
func (d *Device) SetBrightness(v float64) error {
	if v < 0 || v > 1 {
		return hosterr.Contract("value", "must be within [0, 1], got %v", v)
	}
	d.mu.Lock()
	d.brightness = v
	d.mu.Unlock()
	return nil
}

// KeepScreenOn reports whether the screen is held on.
func (d *Device) KeepScreenOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keepScreenOn
}

// SetKeepScreenOn holds the screen on or releases it.
func (d *Device) SetKeepScreenOn(on bool) {
	d.mu.Lock()
	d.keepScreenOn = on
	d.mu.Unlock()
}

// VibrateShort performs a short vibration.
func (d *Device) VibrateShort() { d.vibrate(ShortVibration) }

// VibrateLong performs a long vibration.
func (d *Device) VibrateLong() { d.vibrate(LongVibration) }

// Orientation returns the screen orientation.
func (d *Device) Orientation() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orientation
}

// SetOrientation rotates the device. A change swaps the screen and window
// dimensions and notifies orientation and resize listeners.
func (d *Device) SetOrientation(o string) error {
	if o != Portrait && o != Landscape {
		return hosterr.Contract("value", "must be portrait or landscape, got %q", o)
	}
	d.mu.Lock()
	if d.orientation == o {
		d.mu.Unlock()
		return nil
	}
	d.orientation = o
	d.info.ScreenWidth, d.info.ScreenHeight = d.info.ScreenHeight, d.info.ScreenWidth
	d.info.WindowWidth, d.info.WindowHeight = d.info.WindowHeight, d.info.WindowWidth
	w, h := d.info.WindowWidth, d.info.WindowHeight
	d.mu.Unlock()
	d.ledger.Emit(EventDeviceOrientationChange, dynamic.Object("value", o))
	d.ledger.Emit(EventWindowResize, dynamic.Object("windowWidth", w, "windowHeight", h))
	return nil
}

// Resize changes the window size and notifies resize listeners when it
// differs from the current one.
func (d *Device) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return hosterr.Contract("size", "window size must be positive, got %dx%d", width, height)
	}
	d.mu.Lock()
	changed := d.info.WindowWidth != width || d.info.WindowHeight != height
	d.info.WindowWidth, d.info.WindowHeight = width, height
	d.mu.Unlock()
	if changed {
		d.ledger.Emit(EventWindowResize, dynamic.Object("windowWidth", width, "windowHeight", height))
	}
	return nil
}
