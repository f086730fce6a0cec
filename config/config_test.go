package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/capability/gatekeeper"
	"github.com/reglet-dev/minihost/config"
	"github.com/reglet-dev/minihost/network"
	"github.com/reglet-dev/minihost/storage"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MINIHOST_STORAGE_QUOTA_KB", "")
	t.Setenv("MINIHOST_SECURITY_LEVEL", "")
	t.Setenv("MINIHOST_DOMAINS", "")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHostVersion, cfg.HostVersion)
	assert.Equal(t, storage.DefaultLimitKB, cfg.StorageQuotaKB)
	assert.Equal(t, network.DefaultMaxSockets, cfg.SocketLimit)
	assert.Equal(t, network.DefaultTimeout, cfg.RequestTimeout)
	assert.Equal(t, gatekeeper.SecurityStandard, cfg.Security)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.Domains)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("MINIHOST_HOST_VERSION", "2.10.0")
	t.Setenv("MINIHOST_STORAGE_QUOTA_KB", "64")
	t.Setenv("MINIHOST_SECURITY_LEVEL", "strict")
	t.Setenv("MINIHOST_DOMAINS", "API.example.com, cdn.example.com ,")
	t.Setenv("MINIHOST_REQUEST_TIMEOUT", "1500")
	t.Setenv("MINIHOST_SOCKET_LIMIT", "not-a-number")
	t.Setenv("MINIHOST_LOG_LEVEL", "debug")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "2.10.0", cfg.HostVersion)
	assert.Equal(t, 64, cfg.StorageQuotaKB)
	assert.Equal(t, gatekeeper.SecurityStrict, cfg.Security)
	assert.Equal(t, []string{"api.example.com", "cdn.example.com"}, cfg.Domains)
	assert.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, network.DefaultMaxSockets, cfg.SocketLimit)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MINIHOST_PLATFORM=ios\nMINIHOST_SOCKET_LIMIT=9\n"), 0o600))
	t.Setenv("MINIHOST_PLATFORM", "android")
	t.Setenv("MINIHOST_SOCKET_LIMIT", "")
	require.NoError(t, os.Unsetenv("MINIHOST_SOCKET_LIMIT"))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "android", cfg.Platform)
	assert.Equal(t, 9, cfg.SocketLimit)
}

func TestLoad_TLS(t *testing.T) {
	t.Setenv("MINIHOST_CA_FILE", "/etc/minihost/ca.pem")
	t.Setenv("MINIHOST_INSECURE_TLS", "true")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "/etc/minihost/ca.pem", cfg.CAFile)
	assert.True(t, cfg.InsecureTLS)
}

func TestLoad_UserData(t *testing.T) {
	root := t.TempDir()
	t.Setenv("MINIHOST_FS_ROOT", root)
	t.Setenv("MINIHOST_APP_ID", "")
	t.Setenv("MINIHOST_ALBUM_DIR", "")
	t.Setenv("MINIHOST_PROFILE_FILE", "profile.yaml")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "minihost", cfg.AppID)
	assert.Equal(t, filepath.Join(root, "album"), cfg.AlbumDir)
	assert.Equal(t, "profile.yaml", cfg.ProfileFile)
}

func TestLoad_SubpackageKeys(t *testing.T) {
	keys := "a.pub" + string(filepath.ListSeparator) + " b.pub " + string(filepath.ListSeparator)
	t.Setenv("MINIHOST_SUBPACKAGE_KEYS", keys)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pub", "b.pub"}, cfg.Subpackage.PublicKeys)
}
