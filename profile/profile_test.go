package profile_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/profile"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_KeepsDefaultsForMissingSections(t *testing.T) {
	p, err := profile.Load(writeProfile(t, `
user:
  nickName: Ada
  city: London
dailySteps: [1000, 2500, 8000]
`))
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.User.NickName)
	assert.Equal(t, "London", p.User.City)
	assert.Equal(t, profile.Default().Position, p.Position)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"latitude":  "location:\n  latitude: 91\n",
		"longitude": "location:\n  longitude: -181\n",
		"steps":     "dailySteps: [10, -1]\n",
		"yaml":      "user: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := profile.Load(writeProfile(t, body))
			assert.Error(t, err)
		})
	}
	_, err := profile.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLocation_CoordinateSystems(t *testing.T) {
	p := profile.Default()
	p.Position.Altitude = 43

	wgs, err := p.Location(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, p.Position.Latitude, wgs.Latitude)
	assert.Zero(t, wgs.Altitude)

	gcj, err := p.Location(context.Background(), profile.GCJ02, true)
	require.NoError(t, err)
	assert.NotEqual(t, wgs.Latitude, gcj.Latitude)
	assert.InDelta(t, wgs.Latitude, gcj.Latitude, 0.01)
	assert.InDelta(t, wgs.Longitude, gcj.Longitude, 0.01)
	assert.Equal(t, 43.0, gcj.Altitude)

	p.Position.Latitude, p.Position.Longitude = 51.5, -0.12
	outside, err := p.Location(context.Background(), profile.GCJ02, false)
	require.NoError(t, err)
	assert.Equal(t, 51.5, outside.Latitude, "no offset outside China")

	_, err = p.Location(context.Background(), "bd09", false)
	assert.ErrorIs(t, err, hosterr.ErrContract)
}

func TestSteps_EndToday(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
	p := profile.Default()
	p.Now = func() time.Time { return now }
	p.DailySteps = make([]int, 40)
	p.DailySteps[39] = 1234

	steps, err := p.Steps(context.Background())
	require.NoError(t, err)
	require.Len(t, steps, 30)
	assert.Equal(t, 1234, steps[29].Step)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Unix(), steps[29].Timestamp)
	assert.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC).Unix(), steps[0].Timestamp)
}

func TestSession_SealAndOpen(t *testing.T) {
	s, err := profile.NewSession("wx123")
	require.NoError(t, err)
	info := profile.UserInfo{NickName: "Ada"}

	sealed, err := s.Seal(info, map[string]any{"openId": "o1", "userInfo": info})
	require.NoError(t, err)
	assert.JSONEq(t, `{"nickName":"Ada","avatarUrl":"","country":"","province":"","city":"","language":"","gender":0}`, sealed.RawData)
	assert.Equal(t, s.Sign(sealed.RawData), sealed.Signature)
	assert.Len(t, sealed.Signature, 40)

	plain, err := s.Open(sealed.EncryptedData, sealed.IV)
	require.NoError(t, err)
	var body struct {
		OpenID    string `json:"openId"`
		Watermark struct {
			AppID string `json:"appid"`
		} `json:"watermark"`
	}
	require.NoError(t, json.Unmarshal(plain, &body))
	assert.Equal(t, "o1", body.OpenID)
	assert.Equal(t, "wx123", body.Watermark.AppID)

	other, err := profile.NewSession("wx123")
	require.NoError(t, err)
	assert.NotEqual(t, s.Key(), other.Key())
	if out, err := other.Open(sealed.EncryptedData, sealed.IV); err == nil {
		assert.NotEqual(t, plain, out, "another session key cannot read the data")
	}

	_, err = s.Open("not base64!", sealed.IV)
	assert.Error(t, err)
	_, err = s.Open(sealed.EncryptedData, "AAAA")
	assert.Error(t, err)
}
