package media

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/reglet-dev/minihost/hosterr"
)

// Album receives images saved by the guest.
type Album interface {
	// Save stores the image read from r under a name derived from ext and
	// returns the name it was stored under.
	Save(ext string, r io.Reader) (string, error)
}

// MemoryAlbum keeps saved images in memory.
type MemoryAlbum struct {
	images map[string][]byte
	order  []string
	mu     sync.Mutex
}

// NewMemoryAlbum creates an empty album.
func NewMemoryAlbum() *MemoryAlbum {
	return &MemoryAlbum{images: make(map[string][]byte)}
}

// Save implements Album.
func (a *MemoryAlbum) Save(ext string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", hosterr.Wrap(hosterr.CodeInternal, err, "save image: %v", err)
	}
	name := uuid.NewString() + ext
	a.mu.Lock()
	a.images[name] = buf.Bytes()
	a.order = append(a.order, name)
	a.mu.Unlock()
	return name, nil
}

// Names returns the saved image names in saving order.
func (a *MemoryAlbum) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.order)
}

// Image returns a saved image.
func (a *MemoryAlbum) Image(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.images[name]
	return b, ok
}

// DirAlbum saves images into a host directory.
type DirAlbum struct {
	dir string
}

// NewDirAlbum creates dir if needed and saves images into it.
func NewDirAlbum(dir string) (*DirAlbum, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "create album %s: %v", dir, err)
	}
	return &DirAlbum{dir: dir}, nil
}

// Save implements Album.
func (a *DirAlbum) Save(ext string, r io.Reader) (string, error) {
	name := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(a.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", hosterr.Wrap(hosterr.CodeInternal, err, "save image: %v", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", hosterr.Wrap(hosterr.CodeInternal, err, "save image: %v", err)
	}
	if err := f.Close(); err != nil {
		return "", hosterr.Wrap(hosterr.CodeInternal, err, "save image: %v", err)
	}
	return name, nil
}
