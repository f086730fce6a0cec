package fsys

import (
	"archive/zip"
	"io"
	"os"
	"path"

	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/policy"
)

// Unzip extracts the archive at zipFilePath into targetPath, creating the
// target directory when needed. Entries escaping the target are rejected
// before anything is written.
func (m *Manager) Unzip(zipFilePath, targetPath string) error {
	f, size, err := m.Open(zipFilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	target, err := m.writable("unzip", "targetPath", targetPath)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return hosterr.Wrap(hosterr.CodeInternal, err, "invalid zip archive %s", zipFilePath)
	}

	var total int64
	dests := make([]string, len(zr.File))
	for i, entry := range zr.File {
		clean, ok := policy.CleanPath(entry.Name)
		if !ok || clean == "." {
			return denied("unzip", entry.Name)
		}
		dest := path.Join(target, clean)
		if err := m.check("unzip", entry.Name, dest, policy.OpWrite); err != nil {
			return err
		}
		dests[i] = dest
		total += int64(entry.UncompressedSize64) //nolint:gosec // bounded by the quota check below
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if counted(target) {
		used, err := m.usage()
		if err != nil {
			return hosterr.Wrap(hosterr.CodeInternal, err, "failed to measure storage")
		}
		if used+total > m.quota {
			return hosterr.Host(hosterr.CodeQuotaExceeded,
				"the maximum size of the file storage limit is exceeded")
		}
	}
	if err := m.root.MkdirAll(target, 0o750); err != nil {
		return mapErr("unzip", targetPath, err)
	}

	for i, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			if err := m.root.MkdirAll(dests[i], 0o750); err != nil {
				return mapErr("unzip", entry.Name, err)
			}
			continue
		}
		if err := m.root.MkdirAll(path.Dir(dests[i]), 0o750); err != nil {
			return mapErr("unzip", entry.Name, err)
		}
		if err := m.extract(entry, dests[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) extract(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return hosterr.Wrap(hosterr.CodeInternal, err, "failed to read %s", entry.Name)
	}
	defer rc.Close()

	out, err := m.root.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return mapErr("unzip", entry.Name, err)
	}
	// Sizes in the header are untrusted; copying stops one byte past them.
	n, err := io.Copy(out, io.LimitReader(rc, int64(entry.UncompressedSize64)+1)) //nolint:gosec
	if err != nil {
		_ = out.Close()
		return mapErr("unzip", entry.Name, err)
	}
	if uint64(n) > entry.UncompressedSize64 {
		_ = out.Close()
		return hosterr.Host(hosterr.CodeLimitExceeded, "zip entry %s is larger than declared", entry.Name)
	}
	return mapErr("unzip", entry.Name, out.Close())
}
