package locking

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is a Group backed by advisory file locks, so it also excludes
// other processes on the same machine. Keys are file paths; the lock lives
// at key + ".lock".
//
// FileLock never waits: if the lock is held elsewhere DoWithLock returns
// ErrLockBusy without running fn.
type FileLock struct {
	perm os.FileMode
}

// NewFileLock creates a FileLock. Parent directories of lock files are
// created on demand.
func NewFileLock() *FileLock {
	return &FileLock{perm: 0o755}
}

func (f *FileLock) DoWithLock(key string, fn func() (interface{}, error)) (interface{}, error) {
	lockPath := key + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), f.perm); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, ErrLockBusy
	}
	defer lock.Unlock()

	return fn()
}
