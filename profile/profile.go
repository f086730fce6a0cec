// Package profile serves the user data behind the scope-gated
// capabilities: location, profile information and daily step counts.
package profile

import (
	"context"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/minihost/hosterr"
)

// Coordinate systems accepted by Location.
const (
	WGS84 = "wgs84"
	GCJ02 = "gcj02"
)

// StepDays is the number of days of step data reported.
const StepDays = 30

// Location is a position fix.
type Location struct {
	Latitude           float64 `yaml:"latitude" json:"latitude"`
	Longitude          float64 `yaml:"longitude" json:"longitude"`
	Speed              float64 `yaml:"speed" json:"speed"`
	Accuracy           float64 `yaml:"accuracy" json:"accuracy"`
	Altitude           float64 `yaml:"altitude" json:"altitude"`
	VerticalAccuracy   float64 `yaml:"verticalAccuracy" json:"verticalAccuracy"`
	HorizontalAccuracy float64 `yaml:"horizontalAccuracy" json:"horizontalAccuracy"`
}

// UserInfo is the public part of the user profile.
type UserInfo struct {
	NickName  string `yaml:"nickName" json:"nickName"`
	AvatarURL string `yaml:"avatarUrl" json:"avatarUrl"`
	Country   string `yaml:"country" json:"country"`
	Province  string `yaml:"province" json:"province"`
	City      string `yaml:"city" json:"city"`
	Language  string `yaml:"language" json:"language"`
	Gender    int    `yaml:"gender" json:"gender"`
}

// Step is one day of step data.
type Step struct {
	Timestamp int64 `json:"timestamp"`
	Step      int   `json:"step"`
}

// Provider reads user data. Calls may block, for example on a location fix.
type Provider interface {
	Location(ctx context.Context, coordType string, altitude bool) (Location, error)
	UserInfo(ctx context.Context) (UserInfo, error)
	// Steps returns the last 30 days, oldest first.
	Steps(ctx context.Context) ([]Step, error)
}

// Static is a Provider over fixed data, usually loaded from a YAML file.
type Static struct {
	Position Location `yaml:"location"`
	User     UserInfo `yaml:"user"`
	// DailySteps lists step counts for consecutive days ending today.
	// Earlier days count zero steps.
	DailySteps []int `yaml:"dailySteps"`
	// Now returns the current time; it anchors DailySteps.
	Now func() time.Time `yaml:"-"`
}

// Default returns a profile at a fixed position with an anonymous user.
func Default() *Static {
	return &Static{
		Position: Location{
			Latitude:           39.9087,
			Longitude:          116.3975,
			Accuracy:           65,
			HorizontalAccuracy: 65,
		},
		User: UserInfo{NickName: "guest", Language: "en"},
	}
}

// Load reads a YAML profile. Missing sections keep the defaults.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Static) validate() error {
	if math.Abs(p.Position.Latitude) > 90 {
		return fmt.Errorf("latitude %v out of range", p.Position.Latitude)
	}
	if math.Abs(p.Position.Longitude) > 180 {
		return fmt.Errorf("longitude %v out of range", p.Position.Longitude)
	}
	if slices.ContainsFunc(p.DailySteps, func(n int) bool { return n < 0 }) {
		return fmt.Errorf("negative step count")
	}
	return nil
}

// Location implements Provider. Without altitude the altitude fields are
// zero.
func (p *Static) Location(_ context.Context, coordType string, altitude bool) (Location, error) {
	if coordType == "" {
		coordType = WGS84
	}
	if coordType != WGS84 && coordType != GCJ02 {
		return Location{}, hosterr.Contract("type", "must be wgs84 or gcj02, got %q", coordType)
	}
	loc := p.Position
	if coordType == GCJ02 {
		loc.Latitude, loc.Longitude = toGCJ02(loc.Latitude, loc.Longitude)
	}
	if !altitude {
		loc.Altitude = 0
		loc.VerticalAccuracy = 0
	}
	return loc, nil
}

// UserInfo implements Provider.
func (p *Static) UserInfo(context.Context) (UserInfo, error) {
	return p.User, nil
}

// Steps implements Provider.
func (p *Static) Steps(context.Context) ([]Step, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	days := make([]int, StepDays)
	src := p.DailySteps[max(len(p.DailySteps)-StepDays, 0):]
	copy(days[StepDays-len(src):], src)

	t := now()
	today := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	out := make([]Step, StepDays)
	for i, n := range days {
		day := today.AddDate(0, 0, i-StepDays+1)
		out[i] = Step{Timestamp: day.Unix(), Step: n}
	}
	return out, nil
}

// toGCJ02 applies the GCJ-02 offset to a WGS-84 position inside China.
// Positions outside are returned unchanged.
func toGCJ02(lat, lng float64) (float64, float64) {
	if lng < 72.004 || lng > 137.8347 || lat < 0.8293 || lat > 55.8271 {
		return lat, lng
	}
	const (
		a  = 6378245.0
		ee = 0.00669342162296594323
	)
	x, y := lng-105.0, lat-35.0
	dLat := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	dLat += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	dLat += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	dLat += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	dLng := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	dLng += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	dLng += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	dLng += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0

	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - ee*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((a * (1 - ee)) / (magic * sqrtMagic) * math.Pi)
	dLng = (dLng * 180.0) / (a / sqrtMagic * math.Cos(radLat) * math.Pi)
	return lat + dLat, lng + dLng
}

var _ Provider = (*Static)(nil)
