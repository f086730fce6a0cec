package minihost

import (
	"github.com/Masterminds/semver/v3"

	"github.com/reglet-dev/minihost/network"
	"github.com/reglet-dev/minihost/registry"
)

// builtinVersions is the lowest host version providing each built-in
// capability. Capabilities not listed are available on every version.
var builtinVersions = map[string]string{
	// lifecycle and app
	"getUpdateManager":                "1.9.90",
	"loadSubpackage":                  "2.1.0",
	"onMemoryWarning":                 "2.0.0",
	"offMemoryWarning":                "2.0.0",
	"onDeviceOrientationChange":       "2.1.0",
	"offDeviceOrientationChange":      "2.1.0",
	"getMenuButtonBoundingClientRect": "2.1.0",
	"setEnableDebug":                  "1.4.0",
	"createInnerAudioContext":         "1.6.0",
	"getRecorderManager":              "1.6.0",
	"saveImageToPhotosAlbum":          "1.2.0",
	"showLoading":                     "1.1.0",
	"updateKeyboard":                  "2.1.0",
	"authorize":                       "1.2.0",
	"openSetting":                     "1.1.0",
	"getSetting":                      "1.2.0",
	"getClipboardData":                "1.1.0",
	"setClipboardData":                "1.1.0",
	"onNetworkStatusChange":           "1.1.0",
	"offNetworkStatusChange":          "1.1.0",
	"vibrateShort":                    "1.2.0",
	"vibrateLong":                     "1.2.0",
	"getScreenBrightness":             "1.2.0",
	"setScreenBrightness":             "1.2.0",
	"setKeepScreenOn":                 "1.4.0",
	"startAccelerometer":              "1.1.0",
	"stopAccelerometer":               "1.1.0",
	"startCompass":                    "1.1.0",
	"stopCompass":                     "1.1.0",
	"onGyroscopeChange":               "2.3.0",
	"offGyroscopeChange":              "2.3.0",
	"startGyroscope":                  "2.3.0",
	"stopGyroscope":                   "2.3.0",
	"onDeviceMotionChange":            "2.3.0",
	"offDeviceMotionChange":           "2.3.0",
	"startDeviceMotionListening":      "2.3.0",
	"stopDeviceMotionListening":       "2.3.0",
}

// Versions of features inside capabilities that exist on older hosts.
const (
	// socketTaskVersion is the first version where connectSocket returns
	// a task and allows more than one connection.
	socketTaskVersion = "1.7.0"
	// recursiveMkdirVersion is the first version accepting mkdir's
	// recursive flag.
	recursiveMkdirVersion = "2.3.0"
)

// taskEventVersions gates the events task objects expose.
var taskEventVersions = map[string]string{
	network.EventHeadersReceived: "2.1.0",
	network.EventProgressUpdate:  "1.4.0",
}

// gate fills in the catalogued minimum version of a built-in capability.
func gate(c registry.Capability) registry.Capability {
	if c.MinVersion == "" {
		c.MinVersion = builtinVersions[c.Name]
	}
	return c
}

// supports reports whether the running host version is at least version.
// An unparseable version on either side counts as supported, matching the
// registry.
func (h *Host) supports(version string) bool {
	if version == "" {
		return true
	}
	running, err := semver.NewVersion(h.hostVersion)
	if err != nil {
		return true
	}
	want, err := semver.NewVersion(version)
	if err != nil {
		return true
	}
	return !running.LessThan(want)
}

// taskEvents drops the events the running host version does not offer.
func (h *Host) taskEvents(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if h.supports(taskEventVersions[name]) {
			out = append(out, name)
		}
	}
	return out
}
