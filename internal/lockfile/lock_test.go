//go:build unix

package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sdlc-agency/agency/internal/types"
)

func TestAcquireRelease(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "agency", "STATE.json")

	lock, err := Acquire(context.Background(), dataPath, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := os.Stat(PathFor(dataPath)); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	// double release is a no-op
	if err := lock.Release(); err != nil {
		t.Errorf("second Release returned %v", err)
	}

	again, err := Acquire(context.Background(), dataPath, time.Second)
	if err != nil {
		t.Fatalf("re-Acquire after release failed: %v", err)
	}
	_ = again.Release()
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "backlog.json")

	held, err := Acquire(context.Background(), dataPath, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), dataPath, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout while lock is held")
	}
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Acquire waited %v, expected roughly the timeout", elapsed)
	}
}

func TestTryLockReportsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	first, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if err := tryLock(first); err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if err := tryLock(second); !errors.Is(err, ErrLockBusy) {
		t.Errorf("expected ErrLockBusy while held, got %v", err)
	}
	if err := unlock(first); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := tryLock(second); err != nil {
		t.Errorf("lock after release failed: %v", err)
	}
	_ = unlock(second)
}
