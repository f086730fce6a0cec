package subpackage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/subpackage"
)

func TestLockfile_AddRequiresDigest(t *testing.T) {
	lock := subpackage.NewLockfile()
	err := lock.Add("pkgA", subpackage.Lock{Ref: ref})
	assert.Error(t, err)
	assert.Nil(t, lock.Get("pkgA"))

	require.NoError(t, lock.Add("pkgA", subpackage.Lock{Ref: ref, Digest: digest.FromString("a")}))
	assert.NotNil(t, lock.Get("pkgA"))
	assert.NoError(t, lock.Validate())
}

func TestLockfile_ValidateRejectsMalformedDigest(t *testing.T) {
	lock := subpackage.NewLockfile()
	lock.Subpackages["pkgA"] = subpackage.Lock{Ref: ref, Digest: "sha256:nothex"}
	assert.Error(t, lock.Validate())
}

func TestFileLockRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "minihost.lock")
	repo := subpackage.NewFileLockRepository()

	missing, err := repo.Load(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, missing)

	lock := subpackage.NewLockfile()
	d := digest.FromString("content")
	require.NoError(t, lock.Add("pkgA", subpackage.Lock{Ref: ref, Digest: d}))
	require.NoError(t, repo.Save(ctx, lock, path))

	loaded, err := repo.Load(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, d, loaded.Get("pkgA").Digest)
}

func TestVerify(t *testing.T) {
	data := []byte("payload")
	assert.NoError(t, subpackage.Verify("", data))
	assert.NoError(t, subpackage.Verify(digest.FromBytes(data), data))
	assert.ErrorIs(t, subpackage.Verify(digest.FromString("other"), data), subpackage.ErrIntegrityCheckFailed)
	assert.Error(t, subpackage.Verify("md5:abc", data))
}
