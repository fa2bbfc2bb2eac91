package lock

import (
	"github.com/hashicorp/go-multierror"
)

// MultiLockFactory coordinates locking across a primary and a secondary
// storage location, used when an index is replicated. Locks are acquired
// primary-first; clearing always attempts both locations so a failure on
// the primary cannot leak a lock on the secondary.
type MultiLockFactory struct {
	primary   Factory
	secondary Factory
}

// NewMultiLockFactory creates a composite factory over the two locations.
func NewMultiLockFactory(primary, secondary Factory) *MultiLockFactory {
	return &MultiLockFactory{primary: primary, secondary: secondary}
}

// MakeLock implements Factory. The returned lock owns one underlying lock
// per location.
func (f *MultiLockFactory) MakeLock(name string) Lock {
	return &multiLock{
		primary:   f.primary.MakeLock(name),
		secondary: f.secondary.MakeLock(name),
	}
}

// ClearLock implements Factory. The primary is cleared first; the
// secondary clear is attempted unconditionally even when the primary clear
// fails, and both failures are reported together.
func (f *MultiLockFactory) ClearLock(name string) error {
	var result *multierror.Error
	if err := f.primary.ClearLock(name); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.secondary.ClearLock(name); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// multiLock holds the primary and secondary lock for one named resource.
type multiLock struct {
	primary   Lock
	secondary Lock
}

// Obtain acquires the primary lock, then the secondary. If the secondary
// acquisition fails the primary is released before returning.
func (l *multiLock) Obtain() error {
	if err := l.primary.Obtain(); err != nil {
		return err
	}
	if err := l.secondary.Obtain(); err != nil {
		result := multierror.Append(nil, err)
		if rerr := l.primary.Release(); rerr != nil {
			result = multierror.Append(result, rerr)
		}
		return result.ErrorOrNil()
	}
	return nil
}

// TryObtain acquires both locks without blocking. When either cannot be
// taken, anything already held is released and false is reported.
func (l *multiLock) TryObtain() (bool, error) {
	ok, err := l.primary.TryObtain()
	if err != nil || !ok {
		return false, err
	}
	ok, err = l.secondary.TryObtain()
	if err != nil || !ok {
		if rerr := l.primary.Release(); rerr != nil && err == nil {
			err = rerr
		}
		return false, err
	}
	return true, nil
}

// Release releases both locks in reverse acquisition order. Both releases
// are always attempted; failures are reported together.
func (l *multiLock) Release() error {
	var result *multierror.Error
	if err := l.secondary.Release(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := l.primary.Release(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

var (
	_ Lock    = (*multiLock)(nil)
	_ Factory = (*MultiLockFactory)(nil)
)
