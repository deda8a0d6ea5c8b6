// Package lockfile provides advisory cross-process locks guarding the
// read-modify-write cycles on STATE.json and backlog.json.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/types"
)

// ErrLockBusy means another process holds the lock.
var ErrLockBusy = errors.New("lock is held by another process")

// DefaultTimeout bounds how long Acquire waits when no timeout is given.
const DefaultTimeout = 10 * time.Second

// Lock is a held exclusive lock on a sidecar "<path>.lock" file.
type Lock struct {
	path string
	f    *os.File
}

// PathFor returns the sidecar lock path for a data file.
func PathFor(dataPath string) string {
	return dataPath + ".lock"
}

func newAcquireBackoff(timeout time.Duration) backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = timeout
	return bo
}

// Acquire takes an exclusive lock on PathFor(dataPath), retrying with
// exponential backoff until timeout elapses. The lock file is created if
// missing and is left in place on release.
func Acquire(ctx context.Context, dataPath string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lockPath := PathFor(dataPath)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	// #nosec G304 - controlled path derived from the data file
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	start := time.Now()
	err = backoff.Retry(func() error {
		err := tryLock(f)
		if err == nil || errors.Is(err, ErrLockBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(newAcquireBackoff(timeout), ctx))
	if err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			return nil, types.Timeoutf("timeout waiting for lock on %s after %v", filepath.Base(dataPath), timeout)
		}
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(dataPath), err)
	}

	debug.Logf("lockfile: acquired %s in %v\n", lockPath, time.Since(start).Round(time.Millisecond))
	return &Lock{path: lockPath, f: f}, nil
}

// Release unlocks and closes the lock file. It is safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}
