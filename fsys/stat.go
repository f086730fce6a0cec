package fsys

import (
	"io/fs"
	"path"

	"github.com/reglet-dev/minihost/dynamic"
)

// Mode type bits as reported to guests.
const (
	ModeDir  uint32 = 0o040000
	ModeFile uint32 = 0o100000
)

// Stats describes one file or directory.
type Stats struct {
	Mode             uint32 `json:"mode"`
	Size             int64  `json:"size"`
	LastAccessedTime int64  `json:"lastAccessedTime"`
	LastModifiedTime int64  `json:"lastModifiedTime"`
}

func statsOf(info fs.FileInfo) Stats {
	mode := uint32(info.Mode().Perm())
	if info.IsDir() {
		mode |= ModeDir
	} else if info.Mode().IsRegular() {
		mode |= ModeFile
	}
	// Access times are not portable; the modification time stands in.
	mtime := info.ModTime().Unix()
	return Stats{
		Mode:             mode,
		Size:             info.Size(),
		LastAccessedTime: mtime,
		LastModifiedTime: mtime,
	}
}

// IsDirectory reports whether the entry is a directory.
func (s Stats) IsDirectory() bool { return s.Mode&ModeDir != 0 }

// IsFile reports whether the entry is a regular file.
func (s Stats) IsFile() bool { return s.Mode&ModeFile != 0 }

// Value converts the stats to a guest value.
func (s Stats) Value() dynamic.Value {
	return dynamic.Object(
		"mode", s.Mode,
		"size", s.Size,
		"lastAccessedTime", s.LastAccessedTime,
		"lastModifiedTime", s.LastModifiedTime,
		"isDirectory", s.IsDirectory(),
		"isFile", s.IsFile(),
	)
}

// Stat describes path.
func (m *Manager) Stat(p string) (Stats, error) {
	rel, err := m.readable("stat", "path", p)
	if err != nil {
		return Stats{}, err
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return Stats{}, mapErr("stat", p, err)
	}
	return statsOf(info), nil
}

// StatEntry pairs a path relative to the stat root with its stats.
type StatEntry struct {
	Path  string `json:"path"`
	Stats Stats  `json:"stats"`
}

// StatAll describes dirPath and everything below it. Entry paths are
// relative to dirPath, starting with "/" for dirPath itself.
func (m *Manager) StatAll(dirPath string) ([]StatEntry, error) {
	rel, err := m.readable("stat", "path", dirPath)
	if err != nil {
		return nil, err
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return nil, mapErr("stat", dirPath, err)
	}
	if !info.IsDir() {
		return []StatEntry{{Path: "/", Stats: statsOf(info)}}, nil
	}

	var out []StatEntry
	err = fs.WalkDir(m.root.FS(), rel, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sub := "/"
		if p != rel {
			sub = path.Join("/", p[len(rel)+1:])
		}
		out = append(out, StatEntry{Path: sub, Stats: statsOf(info)})
		return nil
	})
	if err != nil {
		return nil, mapErr("stat", dirPath, err)
	}
	return out, nil
}

// StatAllValue is StatAll as a list of {path, stats} guest values.
func StatAllValue(entries []StatEntry) dynamic.Value {
	items := make([]dynamic.Value, len(entries))
	for i, e := range entries {
		items[i] = dynamic.Object("path", e.Path, "stats", e.Stats.Value())
	}
	return dynamic.List(items...)
}
