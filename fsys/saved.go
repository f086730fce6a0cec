package fsys

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

// SavedFile is one entry of getSavedFileList.
type SavedFile struct {
	FilePath   string `json:"filePath"`
	Size       int64  `json:"size"`
	CreateTime int64  `json:"createTime"`
}

// FileInfo is the result of getFileInfo.
type FileInfo struct {
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// SaveFile moves a temp file into persistent storage and returns its new
// guest path. When filePath is empty a name in the saved-file area is
// generated; otherwise filePath must be writable user data.
func (m *Manager) SaveFile(tempFilePath, filePath string) (string, error) {
	from, err := m.resolve("tempFilePath", tempFilePath)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(from, TempDir+"/") {
		return "", hosterr.Contract("tempFilePath", "%s is not a temp file", tempFilePath)
	}
	info, err := m.root.Stat(from)
	if err != nil {
		return "", mapErr("saveFile", tempFilePath, err)
	}
	if info.IsDir() {
		return "", isDirectory("saveFile", tempFilePath)
	}

	var to string
	if filePath == "" {
		to = path.Join(StoreDir, uuid.NewString()+path.Ext(from))
	} else {
		if to, err = m.writable("saveFile", "filePath", filePath); err != nil {
			return "", err
		}
		if err := m.requireParent("saveFile", filePath, to); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reserve(to, info.Size()); err != nil {
		return "", err
	}
	if err := m.root.Rename(from, to); err != nil {
		return "", mapErr("saveFile", tempFilePath, err)
	}
	m.logger.Debug("saved temp file", "from", tempFilePath, "to", GuestPath(to))
	return GuestPath(to), nil
}

// SavedFiles lists the saved-file area.
func (m *Manager) SavedFiles() ([]SavedFile, error) {
	var out []SavedFile
	err := fs.WalkDir(m.root.FS(), StoreDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, SavedFile{
			FilePath:   GuestPath(p),
			Size:       info.Size(),
			CreateTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, mapErr("readdir", Scheme+StoreDir, err)
	}
	return out, nil
}

// SavedFilesValue is SavedFiles as a guest value list.
func SavedFilesValue(files []SavedFile) dynamic.Value {
	items := make([]dynamic.Value, len(files))
	for i, f := range files {
		items[i] = dynamic.Object("filePath", f.FilePath, "size", f.Size, "createTime", f.CreateTime)
	}
	return dynamic.List(items...)
}

// RemoveSavedFile deletes a file from the saved-file area.
func (m *Manager) RemoveSavedFile(filePath string) error {
	rel, err := m.resolve("filePath", filePath)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(rel, StoreDir+"/") {
		return notFound("removeSavedFile", filePath)
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return mapErr("removeSavedFile", filePath, err)
	}
	if info.IsDir() {
		return isDirectory("removeSavedFile", filePath)
	}
	return mapErr("removeSavedFile", filePath, m.root.Remove(rel))
}

// GetFileInfo returns the size and hex digest of a file. Algorithm is
// md5 (default) or sha1.
func (m *Manager) GetFileInfo(filePath, algorithm string) (FileInfo, error) {
	var h hash.Hash
	switch algorithm {
	case "", "md5":
		h = md5.New() //nolint:gosec
	case "sha1":
		h = sha1.New() //nolint:gosec
	default:
		return FileInfo{}, hosterr.Contract("digestAlgorithm", "unsupported algorithm %q", algorithm)
	}

	f, size, err := m.Open(filePath)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return FileInfo{}, mapErr("read", filePath, err)
	}
	return FileInfo{Size: size, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}
