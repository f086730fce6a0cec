package subpackage_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dop251/goja_nodejs/require"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	testrequire "github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/subpackage"
)

const ref = "localhost:5000/app/pkga:1.0.0"

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		testrequire.NoError(t, err)
		_, err = w.Write([]byte(body))
		testrequire.NoError(t, err)
	}
	testrequire.NoError(t, zw.Close())
	return buf.Bytes()
}

// publish pushes a subpackage artifact to store under tag and returns the
// layer digest.
func publish(t *testing.T, store *memory.Store, tag string, files map[string]string) digest.Digest {
	t.Helper()
	ctx := context.Background()
	archive := zipBytes(t, files)
	layer := content.NewDescriptorFromBytes(subpackage.LayerMediaType, archive)
	testrequire.NoError(t, store.Push(ctx, layer, bytes.NewReader(archive)))

	cfgBytes, err := json.Marshal(subpackage.Metadata{Name: "pkgA", Version: tag})
	testrequire.NoError(t, err)
	cfg := content.NewDescriptorFromBytes(subpackage.ConfigMediaType, cfgBytes)
	testrequire.NoError(t, store.Push(ctx, cfg, bytes.NewReader(cfgBytes)))

	desc, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, subpackage.ArtifactType,
		oras.PackManifestOptions{Layers: []ocispec.Descriptor{layer}, ConfigDescriptor: &cfg})
	testrequire.NoError(t, err)
	testrequire.NoError(t, store.Tag(ctx, desc, tag))
	return layer.Digest
}

func memorySource(store *memory.Store) *subpackage.OCISource {
	return subpackage.NewOCISource(subpackage.WithTarget(
		func(context.Context, registry.Reference) (oras.ReadOnlyTarget, error) { return store, nil },
	))
}

type failingSource struct{}

func (failingSource) Pull(context.Context, string, subpackage.ProgressFunc) (*subpackage.Artifact, error) {
	return nil, errors.New("registry unreachable")
}

type fixture struct {
	repo     *subpackage.FSRepository
	sched    *loop.Serial
	lockPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := subpackage.NewFSRepository(filepath.Join(dir, "cache"))
	testrequire.NoError(t, err)
	s := loop.NewSerial()
	s.Start()
	t.Cleanup(s.Stop)
	return &fixture{repo: repo, sched: s, lockPath: filepath.Join(dir, "minihost.lock")}
}

func (f *fixture) manager(src subpackage.Source) *subpackage.Manager {
	return subpackage.NewManager(f.sched, src, f.repo,
		subpackage.WithLockfile(f.lockPath, nil),
		subpackage.WithLogger(slog.New(slog.DiscardHandler)),
	)
}

func wait(t *testing.T, f *callback.Future) callback.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := f.Wait(ctx)
	testrequire.NoError(t, err)
	return o
}

func TestManager_LoadPullsCachesAndPins(t *testing.T) {
	store := memory.New()
	d := publish(t, store, "1.0.0", map[string]string{"index.js": "module.exports = 42"})
	f := newFixture(t)
	m := f.manager(memorySource(store))
	m.Declare(subpackage.Spec{Name: "pkgA", Root: "packageA", Ref: ref})

	lt, err := m.Load(context.Background(), "pkgA")
	testrequire.NoError(t, err)
	o := wait(t, lt.Future())
	testrequire.True(t, o.OK(), "%v", o.Err())

	got, _ := o.Value().GetString("digest")
	assert.Equal(t, d.String(), got)
	root, _ := o.Value().GetString("root")
	assert.Equal(t, "packageA", root)

	cached, err := f.repo.Find(context.Background(), "pkgA")
	testrequire.NoError(t, err)
	assert.Equal(t, d, cached.Digest)
	assert.Equal(t, "pkgA", cached.Meta.Name)

	lock, err := subpackage.NewFileLockRepository().Load(context.Background(), f.lockPath)
	testrequire.NoError(t, err)
	testrequire.NotNil(t, lock)
	pinned := lock.Get("pkgA")
	testrequire.NotNil(t, pinned)
	assert.Equal(t, d, pinned.Digest)
	assert.Equal(t, ref, pinned.Ref)

	// A second load in the same session resolves without pulling again.
	again, err := m.Load(context.Background(), "packageA")
	testrequire.NoError(t, err)
	assert.True(t, wait(t, again.Future()).OK())
}

func TestManager_LoadFromCacheWithoutSource(t *testing.T) {
	store := memory.New()
	publish(t, store, "1.0.0", map[string]string{"index.js": "x"})
	f := newFixture(t)
	spec := subpackage.Spec{Name: "pkgA", Ref: ref}

	first := f.manager(memorySource(store))
	first.Declare(spec)
	lt, err := first.Load(context.Background(), "pkgA")
	testrequire.NoError(t, err)
	testrequire.True(t, wait(t, lt.Future()).OK())

	offline := f.manager(failingSource{})
	offline.Declare(spec)
	lt, err = offline.Load(context.Background(), "pkgA")
	testrequire.NoError(t, err)
	o := wait(t, lt.Future())
	testrequire.True(t, o.OK(), "%v", o.Err())
	fromCache, _ := o.Value().GetBool("fromCache")
	assert.True(t, fromCache)
}

func TestManager_DigestMismatchFailsIntegrity(t *testing.T) {
	store := memory.New()
	publish(t, store, "1.0.0", map[string]string{"index.js": "x"})
	f := newFixture(t)
	m := f.manager(memorySource(store))
	m.Declare(subpackage.Spec{
		Name:   "pkgA",
		Ref:    ref,
		Digest: digest.FromString("something else"),
	})

	lt, err := m.Load(context.Background(), "pkgA")
	testrequire.NoError(t, err)
	o := wait(t, lt.Future())
	testrequire.False(t, o.OK())
	assert.ErrorIs(t, o.Err(), subpackage.ErrIntegrityCheckFailed)
	assert.ErrorIs(t, o.Err(), hosterr.ErrPermissionDenied)

	_, err = f.repo.Find(context.Background(), "pkgA")
	assert.ErrorIs(t, err, subpackage.ErrSubpackageNotFound)
}

func TestManager_PullFailureIsNetworkError(t *testing.T) {
	f := newFixture(t)
	m := f.manager(failingSource{})
	m.Declare(subpackage.Spec{Name: "pkgA", Ref: ref})

	lt, err := m.Load(context.Background(), "pkgA")
	testrequire.NoError(t, err)
	o := wait(t, lt.Future())
	assert.ErrorIs(t, o.Err(), hosterr.ErrNetwork)
}

func TestManager_LoadRejectsUndeclared(t *testing.T) {
	f := newFixture(t)
	m := f.manager(failingSource{})

	_, err := m.Load(context.Background(), "")
	assert.ErrorIs(t, err, hosterr.ErrContract)

	_, err = m.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, hosterr.ErrNotFound)
	assert.ErrorIs(t, err, subpackage.ErrSubpackageNotFound)
}

func TestManager_SourceLoader(t *testing.T) {
	store := memory.New()
	publish(t, store, "1.0.0", map[string]string{"index.js": "module.exports = 42"})
	f := newFixture(t)
	m := f.manager(memorySource(store))
	m.Declare(subpackage.Spec{Name: "pkgA", Root: "packageA", Ref: ref})

	lt, err := m.Load(context.Background(), "pkgA")
	testrequire.NoError(t, err)
	testrequire.True(t, wait(t, lt.Future()).OK())

	fallbackCalls := 0
	loader := m.SourceLoader(func(string) ([]byte, error) {
		fallbackCalls++
		return nil, require.ModuleFileDoesNotExistError
	})

	data, err := loader("packageA/index.js")
	testrequire.NoError(t, err)
	assert.Equal(t, "module.exports = 42", string(data))

	_, err = loader("packageA/missing.js")
	assert.ErrorIs(t, err, require.ModuleFileDoesNotExistError)

	_, _ = loader("other/index.js")
	assert.Equal(t, 1, fallbackCalls)
}

func TestFSRepository_RejectsTraversal(t *testing.T) {
	f := newFixture(t)
	archive := zipBytes(t, map[string]string{"../escape.js": "x"})
	_, err := f.repo.Store(context.Background(), "pkgA", &subpackage.Artifact{
		Archive: archive,
		Digest:  digest.FromBytes(archive),
	})
	assert.Error(t, err)

	_, err = f.repo.Store(context.Background(), "../pkg", &subpackage.Artifact{Archive: archive})
	assert.Error(t, err)
}

func TestFSRepository_ListAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"b", "a"} {
		archive := zipBytes(t, map[string]string{"index.js": name})
		_, err := f.repo.Store(ctx, name, &subpackage.Artifact{
			Meta:    subpackage.Metadata{Name: name},
			Archive: archive,
			Digest:  digest.FromBytes(archive),
		})
		testrequire.NoError(t, err)
	}

	list, err := f.repo.List(ctx)
	testrequire.NoError(t, err)
	testrequire.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)

	testrequire.NoError(t, f.repo.Delete(ctx, "a"))
	list, err = f.repo.List(ctx)
	testrequire.NoError(t, err)
	assert.Len(t, list, 1)
}
