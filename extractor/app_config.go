package extractor

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/hosterr"
)

// AppConfig is the subset of a guest app config the host acts on.
type AppConfig struct {
	raw            map[string]any
	Permission     map[string]PermissionDecl `json:"permission,omitempty"`
	Workers        string                    `json:"workers,omitempty"`
	Pages          []string                  `json:"pages,omitempty"`
	Subpackages    []SubpackageDecl          `json:"subpackages,omitempty"`
	NetworkTimeout NetworkTimeout            `json:"networkTimeout"`
}

// PermissionDecl explains why the app asks for a scope.
type PermissionDecl struct {
	Desc string `json:"desc"`
}

// NetworkTimeout holds per-kind timeouts in milliseconds. Zero means the
// host default.
type NetworkTimeout struct {
	Request       int `json:"request,omitempty"`
	ConnectSocket int `json:"connectSocket,omitempty"`
	UploadFile    int `json:"uploadFile,omitempty"`
	DownloadFile  int `json:"downloadFile,omitempty"`
}

// For returns the timeout of a network kind, or fallback when unset.
func (t NetworkTimeout) For(kind string, fallback time.Duration) time.Duration {
	var ms int
	switch kind {
	case "request":
		ms = t.Request
	case "socket", "connectSocket":
		ms = t.ConnectSocket
	case "uploadFile":
		ms = t.UploadFile
	case "downloadFile":
		ms = t.DownloadFile
	}
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// SubpackageDecl declares a subpackage. Ref is the OCI reference it is
// pulled from; Digest pins its content when set.
type SubpackageDecl struct {
	Root        string   `json:"root"`
	Name        string   `json:"name,omitempty"`
	Ref         string   `json:"ref,omitempty"`
	Digest      string   `json:"digest,omitempty"`
	Pages       []string `json:"pages,omitempty"`
	Independent bool     `json:"independent,omitempty"`
}

// Key is the name the guest loads the subpackage by.
func (d SubpackageDecl) Key() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Root
}

// ParseAppConfig decodes app config JSON. Both "subpackages" and the
// older "subPackages" spelling are accepted.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var cfg struct {
		AppConfig
		Legacy []SubpackageDecl `json:"subPackages,omitempty"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, hosterr.Contract("app.json", "invalid app config: %v", err)
	}
	out := cfg.AppConfig
	if len(out.Subpackages) == 0 {
		out.Subpackages = cfg.Legacy
	}
	if err := json.Unmarshal(data, &out.raw); err != nil {
		return nil, hosterr.Contract("app.json", "invalid app config: %v", err)
	}

	seen := map[string]bool{}
	for i, sp := range out.Subpackages {
		root := strings.Trim(path.Clean("/"+sp.Root), "/")
		if sp.Root == "" || root == "" {
			return nil, hosterr.Contract("subpackages", "entry %d has no root", i)
		}
		out.Subpackages[i].Root = root
		key := out.Subpackages[i].Key()
		if seen[key] {
			return nil, hosterr.Contract("subpackages", "duplicate subpackage %q", key)
		}
		seen[key] = true
	}
	if out.Workers != "" {
		out.Workers = strings.Trim(path.Clean("/"+out.Workers), "/")
	}
	return &out, nil
}

// LoadAppConfig reads and parses the app config at p.
func LoadAppConfig(p string) (*AppConfig, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, hosterr.Wrap(hosterr.CodeNotFound, err, "app config %s not found", p)
		}
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "read app config: %v", err)
	}
	return ParseAppConfig(data)
}

// Raw returns the decoded document, keyed by section.
func (c *AppConfig) Raw() map[string]any {
	return c.raw
}

// Subpackage finds a declared subpackage by name or root.
func (c *AppConfig) Subpackage(key string) (SubpackageDecl, bool) {
	key = strings.Trim(key, "/")
	for _, sp := range c.Subpackages {
		if sp.Name == key || sp.Root == key {
			return sp, true
		}
	}
	return SubpackageDecl{}, false
}

// Requirements is everything the host must provide before the app runs.
type Requirements struct {
	Grants      *capability.GrantSet
	Workers     string
	Subpackages []SubpackageDecl
	Timeouts    NetworkTimeout
}

// Extract runs the registered extractors over cfg.
func Extract(reg *capability.Registry, cfg *AppConfig) Requirements {
	return Requirements{
		Grants:      reg.ExtractAll(cfg.Raw()),
		Workers:     cfg.Workers,
		Subpackages: cfg.Subpackages,
		Timeouts:    cfg.NetworkTimeout,
	}
}
