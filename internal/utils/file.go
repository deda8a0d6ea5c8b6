package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// renameRetries bounds how often a rename is retried on Windows, where an
// editor or file watcher holding the target turns os.Rename into "Access is
// denied" for a short while.
const renameRetries = 3

// replaceFile renames src over dst. Other platforms fail on the first error.
func replaceFile(src, dst string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := os.Rename(src, dst)
		if err != nil && runtime.GOOS != "windows" {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(bo, renameRetries))
	if err != nil {
		return fmt.Errorf("rename %s after %d attempt(s): %w", filepath.Base(dst), attempts, err)
	}
	return nil
}

// WriteFileAtomic writes data to path by creating a temp file in the same
// directory and renaming it over the target. Readers see either the old or
// the new content, never a partial write. The parent directory is created
// if missing. On any failure the temp file is removed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	target, err := ResolveForWrite(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp_*"+filepath.Ext(target))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := replaceFile(tmpPath, target); err != nil {
		return err
	}
	committed = true
	return nil
}

// WriteJSONAtomic marshals v with a two-space indent and a trailing newline
// and writes it with WriteFileAtomic.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data, 0o644)
}
