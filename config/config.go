// Package config loads host settings from the environment and an optional
// .env file.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/reglet-dev/minihost/capability/gatekeeper"
	"github.com/reglet-dev/minihost/capability/grantstore"
	"github.com/reglet-dev/minihost/network"
	"github.com/reglet-dev/minihost/storage"
	"github.com/reglet-dev/minihost/subpackage"
)

// DefaultHostVersion is reported to guests and used for capability gating.
const DefaultHostVersion = "3.4.0"

type Config struct {
	HostVersion    string
	Platform       string
	LogLevel       slog.Level
	StorageQuotaKB int
	StorageFile    string
	FSRoot         string
	Security       gatekeeper.SecurityLevel
	TrustAll       bool
	GrantFile      string
	Domains        []string
	SocketLimit    int
	RequestTimeout time.Duration
	MaxBodySize    int64
	CAFile         string
	InsecureTLS    bool
	AppID          string
	ProfileFile    string
	AlbumDir       string
	Subpackage     SubpackageConfig
}

type SubpackageConfig struct {
	CacheDir string
	Lockfile string
	// PublicKeys are cosign public keys; when set, pulled subpackages must
	// carry a signature from one of them.
	PublicKeys []string
	PlainHTTP  bool
}

// Load reads the optional .env files (./.env when none are given) and the
// MINIHOST_* environment. Malformed numbers fall back to their defaults.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	home, _ := os.UserHomeDir()
	fsRoot := firstNonEmpty(env("MINIHOST_FS_ROOT"), filepath.Join(home, ".minihost", "data"))

	return &Config{
		HostVersion:    firstNonEmpty(env("MINIHOST_HOST_VERSION"), DefaultHostVersion),
		Platform:       firstNonEmpty(env("MINIHOST_PLATFORM"), "devtools"),
		LogLevel:       parseLevel(env("MINIHOST_LOG_LEVEL")),
		StorageQuotaKB: envInt("MINIHOST_STORAGE_QUOTA_KB", storage.DefaultLimitKB),
		StorageFile:    firstNonEmpty(env("MINIHOST_STORAGE_FILE"), filepath.Join(fsRoot, "storage.json")),
		FSRoot:         fsRoot,
		Security:       gatekeeper.ParseSecurityLevel(env("MINIHOST_SECURITY_LEVEL")),
		TrustAll:       envBool("MINIHOST_TRUST_ALL", false),
		GrantFile:      firstNonEmpty(env("MINIHOST_GRANT_FILE"), grantstore.DefaultPath()),
		Domains:        splitList(env("MINIHOST_DOMAINS")),
		SocketLimit:    envInt("MINIHOST_SOCKET_LIMIT", network.DefaultMaxSockets),
		RequestTimeout: envDuration("MINIHOST_REQUEST_TIMEOUT", network.DefaultTimeout),
		MaxBodySize:    int64(envInt("MINIHOST_MAX_BODY_SIZE", network.DefaultMaxBodySize)),
		CAFile:         env("MINIHOST_CA_FILE"),
		InsecureTLS:    envBool("MINIHOST_INSECURE_TLS", false),
		AppID:          firstNonEmpty(env("MINIHOST_APP_ID"), "minihost"),
		ProfileFile:    env("MINIHOST_PROFILE_FILE"),
		AlbumDir:       firstNonEmpty(env("MINIHOST_ALBUM_DIR"), filepath.Join(fsRoot, "album")),
		Subpackage: SubpackageConfig{
			CacheDir:   firstNonEmpty(env("MINIHOST_SUBPACKAGE_CACHE"), subpackage.DefaultCacheDir()),
			Lockfile:   firstNonEmpty(env("MINIHOST_LOCKFILE"), "minihost.lock"),
			PublicKeys: splitPaths(env("MINIHOST_SUBPACKAGE_KEYS")),
			PlainHTTP:  envBool("MINIHOST_REGISTRY_PLAIN_HTTP", false),
		},
	}, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string, fallback int) int {
	raw := env(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	raw := env(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envDuration accepts Go durations ("90s") or plain milliseconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := env(key)
	if raw == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if raw == "" || level.UnmarshalText([]byte(raw)) != nil {
		return slog.LevelInfo
	}
	return level
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// splitPaths splits a list of paths separated like PATH.
func splitPaths(raw string) []string {
	var out []string
	for _, part := range filepath.SplitList(raw) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
