// Package lock provides named mutual-exclusion handles scoped to a storage
// location, including a composite lock for indexes mirrored across a
// primary and a secondary location.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is an acquired or acquirable mutual-exclusion handle for one named
// resource inside a storage location.
type Lock interface {
	// Obtain acquires the lock, blocking until it is available.
	Obtain() error
	// TryObtain acquires the lock without blocking. It reports false when
	// the lock is held elsewhere.
	TryObtain() (bool, error)
	// Release releases the lock. Releasing an unheld lock is a no-op.
	Release() error
}

// Factory creates and force-clears locks scoped to one storage location.
type Factory interface {
	// MakeLock creates the lock handle for the named resource.
	MakeLock(name string) Lock
	// ClearLock force-releases the named lock, removing any stale state
	// left by a dead process.
	ClearLock(name string) error
}

// FlockFactory creates cross-process file locks inside a directory using
// gofrs/flock. Works on Unix, macOS, and Windows.
type FlockFactory struct {
	dir string
}

// NewFlockFactory creates a factory producing locks under dir.
func NewFlockFactory(dir string) *FlockFactory {
	return &FlockFactory{dir: dir}
}

// MakeLock implements Factory.
func (f *FlockFactory) MakeLock(name string) Lock {
	return &fileLock{
		path:  filepath.Join(f.dir, name),
		flock: flock.New(filepath.Join(f.dir, name)),
	}
}

// ClearLock implements Factory. It removes the lock file; a held flock is
// released by the OS when the holder exits, so removing the file is enough
// to clear stale state.
func (f *FlockFactory) ClearLock(name string) error {
	path := filepath.Join(f.dir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear lock %s: %w", name, err)
	}
	return nil
}

// Dir returns the directory the factory creates locks in.
func (f *FlockFactory) Dir() string {
	return f.dir
}

// fileLock wraps gofrs/flock with explicit held-state tracking.
type fileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func (l *fileLock) Obtain() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

func (l *fileLock) TryObtain() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

func (l *fileLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

var (
	_ Lock    = (*fileLock)(nil)
	_ Factory = (*FlockFactory)(nil)
)
