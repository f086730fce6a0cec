package grantstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/capability/grantstore"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "grants.yaml")
	store := grantstore.NewFileStore(grantstore.WithPath(path))
	assert.Equal(t, path, store.ConfigPath())

	empty, err := store.Load()
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	in := &capability.GrantSet{
		Scopes:  []capability.Scope{capability.ScopeUserInfo, capability.ScopeUserInfo, capability.ScopeRecord},
		Domains: []string{"api.example.com"},
	}
	require.NoError(t, store.Save(in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scope.userInfo")

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []capability.Scope{capability.ScopeUserInfo, capability.ScopeRecord}, out.Scopes)
	assert.Equal(t, []string{"api.example.com"}, out.Domains)
	assert.Len(t, in.Scopes, 3, "Save must not modify its argument")
}

func TestFileStore_RejectsUnknownScopes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scopes:\n  - scope.mindReading\n"), 0o600))

	_, err := grantstore.NewFileStore(grantstore.WithPath(path)).Load()
	assert.ErrorContains(t, err, "unknown scope")
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scopes: [unterminated"), 0o600))

	_, err := grantstore.NewFileStore(grantstore.WithPath(path)).Load()
	assert.ErrorContains(t, err, "failed to parse grant store")
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "grants.yaml", filepath.Base(grantstore.DefaultPath()))
	assert.Equal(t, ".minihost", filepath.Base(filepath.Dir(grantstore.DefaultPath())))
}

func TestMemoryStore(t *testing.T) {
	seed := &capability.GrantSet{Scopes: []capability.Scope{capability.ScopeWeRun}}
	store := grantstore.NewMemoryStore(seed)
	seed.Grant(capability.ScopeRecord)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []capability.Scope{capability.ScopeWeRun}, got.Scopes)

	require.NoError(t, store.Save(&capability.GrantSet{}))
	assert.Equal(t, 1, store.Saves())
}
