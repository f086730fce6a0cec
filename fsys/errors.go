package fsys

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/reglet-dev/minihost/hosterr"
)

// mapErr converts an os error from operation op on guest path p into the
// host error taxonomy.
func mapErr(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var he *hosterr.Error
	if errors.As(err, &he) {
		return he
	}
	// ENOTEMPTY also matches fs.ErrExist, so it is tested first.
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return hosterr.Host(hosterr.CodeNotFound, "no such file or directory, %s %s", op, p)
	case errors.Is(err, syscall.ENOTEMPTY):
		return hosterr.Host(hosterr.CodeDirectoryNotEmpty, "directory not empty, %s %s", op, p)
	case errors.Is(err, fs.ErrExist):
		return hosterr.Host(hosterr.CodeAlreadyExists, "file already exists, %s %s", op, p)
	case errors.Is(err, syscall.ENOTDIR):
		return hosterr.Host(hosterr.CodeNotDirectory, "not a directory, %s %s", op, p)
	case errors.Is(err, syscall.EISDIR):
		return hosterr.Host(hosterr.CodeIsDirectory, "illegal operation on a directory, %s %s", op, p)
	case errors.Is(err, fs.ErrPermission):
		return hosterr.Host(hosterr.CodePermissionDenied, "permission denied, %s %s", op, p)
	}
	return hosterr.Wrap(hosterr.CodeInternal, err, "%s %s", op, p)
}

func notFound(op, p string) error {
	return hosterr.Host(hosterr.CodeNotFound, "no such file or directory, %s %s", op, p)
}

func parentNotFound(op, p string) error {
	return hosterr.Host(hosterr.CodeParentNotFound, "parent directory not found, %s %s", op, p)
}

func denied(op, p string) error {
	return hosterr.Host(hosterr.CodePermissionDenied, "permission denied, %s %s", op, p)
}

func isDirectory(op, p string) error {
	return hosterr.Host(hosterr.CodeIsDirectory, "illegal operation on a directory, %s %s", op, p)
}

func notDirectory(op, p string) error {
	return hosterr.Host(hosterr.CodeNotDirectory, "not a directory, %s %s", op, p)
}
