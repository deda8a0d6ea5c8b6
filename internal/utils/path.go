// Package utils provides file and path helpers shared by the state and
// backlog stores.
package utils

import (
	"os"
	"path/filepath"
)

// ResolveForWrite returns the path to write to, resolving symlinks.
// If path is a symlink, returns the resolved target path.
// If path doesn't exist, returns path unchanged (new file).
func ResolveForWrite(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return filepath.EvalSymlinks(path)
	}
	return path, nil
}

// CanonicalizePath converts a path to its absolute, symlink-resolved form.
// If symlink resolution fails the absolute path is returned; if that fails
// too the original path is returned.
func CanonicalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	canonical, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return absPath
	}
	return canonical
}

// FindUp walks from start towards the filesystem root and returns the first
// directory that contains rel. If start is a file its directory is used.
// Returns "" when no ancestor contains rel.
func FindUp(start, rel string) string {
	dir := CanonicalizePath(start)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, rel)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// IsNonEmpty reports whether path exists and carries content: a file with
// size > 0, or a directory with at least one entry. When skipHidden is set,
// dot-entries do not count towards a directory's content.
func IsNonEmpty(path string, skipHidden bool) (exists, nonEmpty bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, false
	}
	if !info.IsDir() {
		return true, info.Size() > 0
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return true, false
	}
	for _, e := range entries {
		if skipHidden && len(e.Name()) > 0 && e.Name()[0] == '.' {
			continue
		}
		return true, true
	}
	return true, false
}
