// Package filelock provides OS-level advisory file locking shared by the
// RunState store (spec §4.C1) and the control-plane model cache (spec §4.C7).
//
// Both call sites need the same thing: "only one process may write this
// resource at a time, and creating the lock file's parent directory must not
// race." A single wrapper around gofrs/flock keeps that logic in one place
// instead of two bespoke ones.
package filelock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is an acquired exclusive advisory lock. Call Unlock to release it.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes an exclusive lock on lockPath, creating parent directories
// as needed. It blocks until the lock is available.
func Acquire(lockPath string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return &Lock{fl: fl}, nil
}

// TryAcquire attempts to take the lock without blocking. ok is false if the
// lock is already held elsewhere.
func TryAcquire(lockPath string) (l *Lock, ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, false, err
	}
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}
	return &Lock{fl: fl}, true, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}
