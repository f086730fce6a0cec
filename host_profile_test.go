package minihost_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/profile"
)

func TestGetLocation(t *testing.T) {
	p := profile.Default()
	h, sched := newHost(t, minihost.WithAuthorizer(allowAll{}), minihost.WithProfile(p))

	c := invokeEventually(t, h, sched, "getLocation", dynamic.Object("type", "gcj02", "altitude", true))
	require.Nil(t, c.err)
	lat, _ := c.value.GetNumber("latitude")
	lng, _ := c.value.GetNumber("longitude")
	assert.InDelta(t, p.Position.Latitude, lat, 0.01)
	assert.InDelta(t, p.Position.Longitude, lng, 0.01)
	assert.NotEqual(t, p.Position.Latitude, lat)
}

func TestGetLocation_Denied(t *testing.T) {
	h, sched := newHost(t, minihost.WithAuthorizer(&denyAll{}))
	c := invokeEventually(t, h, sched, "getLocation", dynamic.EmptyObject())
	require.NotNil(t, c.err)
	assert.ErrorIs(t, c.err, hosterr.ErrPermissionDenied)
}

func TestGetUserInfo_Credentials(t *testing.T) {
	p := profile.Default()
	p.User.NickName = "Ada"
	h, sched := newHost(t,
		minihost.WithAuthorizer(allowAll{}),
		minihost.WithProfile(p),
		minihost.WithAppID("wx-test"),
	)

	c := invokeEventually(t, h, sched, "getUserInfo", dynamic.EmptyObject())
	require.Nil(t, c.err)
	user, _ := c.value.Get("userInfo")
	name, _ := user.GetString("nickName")
	assert.Equal(t, "Ada", name)
	raw, _ := c.value.GetString("rawData")
	sig, _ := c.value.GetString("signature")
	assert.Equal(t, h.Session().Sign(raw), sig)
	_, ok := c.value.Get("encryptedData")
	assert.False(t, ok, "credentials need withCredentials")

	c = invokeEventually(t, h, sched, "getUserInfo", dynamic.Object("withCredentials", true))
	require.Nil(t, c.err)
	enc, _ := c.value.GetString("encryptedData")
	iv, _ := c.value.GetString("iv")
	plain, err := h.Session().Open(enc, iv)
	require.NoError(t, err)

	var body struct {
		OpenID   string `json:"openId"`
		UserInfo struct {
			NickName string `json:"nickName"`
		} `json:"userInfo"`
		Watermark struct {
			AppID string `json:"appid"`
		} `json:"watermark"`
	}
	require.NoError(t, json.Unmarshal(plain, &body))
	assert.NotEmpty(t, body.OpenID)
	assert.Equal(t, "Ada", body.UserInfo.NickName)
	assert.Equal(t, "wx-test", body.Watermark.AppID)
}

func TestGetWeRunData(t *testing.T) {
	h, sched := newHost(t, minihost.WithAuthorizer(allowAll{}))

	c := invokeEventually(t, h, sched, "getWeRunData", dynamic.EmptyObject())
	require.Nil(t, c.err)
	enc, _ := c.value.GetString("encryptedData")
	iv, _ := c.value.GetString("iv")
	plain, err := h.Session().Open(enc, iv)
	require.NoError(t, err)

	var body struct {
		StepInfoList []profile.Step `json:"stepInfoList"`
	}
	require.NoError(t, json.Unmarshal(plain, &body))
	assert.Len(t, body.StepInfoList, 30)
}

func TestGetUserInfo_Denied(t *testing.T) {
	auth := &denyAll{}
	h, sched := newHost(t, minihost.WithAuthorizer(auth))
	c := invokeEventually(t, h, sched, "getUserInfo", dynamic.EmptyObject())
	require.NotNil(t, c.err)
	assert.ErrorIs(t, c.err, hosterr.ErrPermissionDenied)
	assert.EqualValues(t, 1, auth.calls.Load())
}
