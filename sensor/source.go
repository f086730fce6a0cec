package sensor

import (
	"math"
	"sync"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

// SimulatedSource produces smooth deterministic readings: a device resting
// face up and slowly turning.
type SimulatedSource struct {
	ticks map[Kind]int
	mu    sync.Mutex
}

// NewSimulatedSource creates a source at tick zero.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{ticks: make(map[Kind]int)}
}

// Read implements Source.
func (s *SimulatedSource) Read(k Kind) (dynamic.Value, error) {
	s.mu.Lock()
	n := s.ticks[k]
	s.ticks[k] = n + 1
	s.mu.Unlock()

	phase := float64(n) / 20
	switch k {
	case Accelerometer:
		return dynamic.Object(
			"x", round(0.02*math.Sin(phase)),
			"y", round(0.02*math.Cos(phase)),
			"z", -1.0,
		), nil
	case Compass:
		return dynamic.Object(
			"direction", round(math.Mod(float64(n)*1.5, 360)),
			"accuracy", "high",
		), nil
	case Gyroscope:
		return dynamic.Object(
			"x", 0.0,
			"y", 0.0,
			"z", round(0.026*math.Cos(phase)),
		), nil
	case DeviceMotion:
		return dynamic.Object(
			"alpha", round(math.Mod(float64(n)*1.5, 360)),
			"beta", round(2*math.Sin(phase)),
			"gamma", round(2*math.Cos(phase)),
		), nil
	}
	return dynamic.Null(), hosterr.Contract("sensor", "unknown sensor %q", k)
}

func round(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

// StaticSource returns fixed readings, for tests and headless hosts.
type StaticSource map[Kind]dynamic.Value

// Read implements Source.
func (s StaticSource) Read(k Kind) (dynamic.Value, error) {
	v, ok := s[k]
	if !ok {
		return dynamic.Null(), hosterr.Host(hosterr.CodeNotFound, "no reading for %s", k)
	}
	return v.Clone(), nil
}
