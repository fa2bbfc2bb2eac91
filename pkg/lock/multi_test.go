package lock

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLock records calls and returns scripted results.
type fakeLock struct {
	obtainErr  error
	tryOK      bool
	tryErr     error
	releaseErr error

	obtains  int
	tries    int
	releases int
}

func (l *fakeLock) Obtain() error {
	l.obtains++
	return l.obtainErr
}

func (l *fakeLock) TryObtain() (bool, error) {
	l.tries++
	return l.tryOK, l.tryErr
}

func (l *fakeLock) Release() error {
	l.releases++
	return l.releaseErr
}

// fakeFactory hands out a fixed lock and records clears.
type fakeFactory struct {
	lock     *fakeLock
	clearErr error
	clears   int
}

func (f *fakeFactory) MakeLock(string) Lock {
	return f.lock
}

func (f *fakeFactory) ClearLock(string) error {
	f.clears++
	return f.clearErr
}

func TestMultiLock_ObtainAcquiresBoth(t *testing.T) {
	primary := &fakeLock{}
	secondary := &fakeLock{}
	f := NewMultiLockFactory(&fakeFactory{lock: primary}, &fakeFactory{lock: secondary})

	require.NoError(t, f.MakeLock("writer.lock").Obtain())

	assert.Equal(t, 1, primary.obtains)
	assert.Equal(t, 1, secondary.obtains)
}

func TestMultiLock_SecondaryFailureReleasesPrimary(t *testing.T) {
	// Given: a secondary that cannot be obtained
	primary := &fakeLock{}
	secondary := &fakeLock{obtainErr: errors.New("secondary down")}
	f := NewMultiLockFactory(&fakeFactory{lock: primary}, &fakeFactory{lock: secondary})

	err := f.MakeLock("writer.lock").Obtain()

	// Then: the primary is rolled back and the failure is reported
	require.Error(t, err)
	assert.Equal(t, 1, primary.releases)
}

func TestMultiLock_TryObtainRollsBackOnContention(t *testing.T) {
	primary := &fakeLock{tryOK: true}
	secondary := &fakeLock{tryOK: false}
	f := NewMultiLockFactory(&fakeFactory{lock: primary}, &fakeFactory{lock: secondary})

	ok, err := f.MakeLock("writer.lock").TryObtain()

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, primary.releases)
}

func TestMultiLock_ReleaseAttemptsBothOnFailure(t *testing.T) {
	// Given: a secondary whose release fails
	primary := &fakeLock{}
	secondary := &fakeLock{releaseErr: errors.New("stale handle")}
	f := NewMultiLockFactory(&fakeFactory{lock: primary}, &fakeFactory{lock: secondary})
	l := f.MakeLock("writer.lock")
	require.NoError(t, l.Obtain())

	err := l.Release()

	// Then: the primary release still happened
	require.Error(t, err)
	assert.Equal(t, 1, primary.releases)
	assert.Equal(t, 1, secondary.releases)
}

func TestMultiLockFactory_ClearAttemptsSecondaryAfterPrimaryFailure(t *testing.T) {
	primaryErr := errors.New("primary clear failed")
	primary := &fakeFactory{lock: &fakeLock{}, clearErr: primaryErr}
	secondary := &fakeFactory{lock: &fakeLock{}}
	f := NewMultiLockFactory(primary, secondary)

	err := f.ClearLock("writer.lock")

	require.Error(t, err)
	assert.ErrorIs(t, err, primaryErr)
	assert.Equal(t, 1, primary.clears)
	assert.Equal(t, 1, secondary.clears)
}

func TestMultiLockFactory_ClearReportsBothFailures(t *testing.T) {
	pErr := errors.New("primary clear failed")
	sErr := errors.New("secondary clear failed")
	f := NewMultiLockFactory(
		&fakeFactory{lock: &fakeLock{}, clearErr: pErr},
		&fakeFactory{lock: &fakeLock{}, clearErr: sErr},
	)

	err := f.ClearLock("writer.lock")

	require.Error(t, err)
	assert.ErrorIs(t, err, pErr)
	assert.ErrorIs(t, err, sErr)
}

func TestFlockFactory_TryObtainConflicts(t *testing.T) {
	// Given: two handles on the same named lock
	dir := t.TempDir()
	f := NewFlockFactory(dir)
	first := f.MakeLock("writer.lock")
	second := f.MakeLock("writer.lock")

	ok, err := first.TryObtain()
	require.NoError(t, err)
	require.True(t, ok)

	// Then: the second handle cannot take it until the first releases
	ok, err = second.TryObtain()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release())

	ok, err = second.TryObtain()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release())
}

func TestFlockFactory_ClearLockRemovesFile(t *testing.T) {
	dir := t.TempDir()
	f := NewFlockFactory(dir)
	l := f.MakeLock("writer.lock")
	ok, err := l.TryObtain()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Release())

	require.NoError(t, f.ClearLock("writer.lock"))

	assert.NoFileExists(t, filepath.Join(dir, "writer.lock"))
}

func TestFlockFactory_ClearMissingLockIsNoop(t *testing.T) {
	f := NewFlockFactory(t.TempDir())
	assert.NoError(t, f.ClearLock("never-existed.lock"))
}

func TestFileLock_ReleaseUnheldIsNoop(t *testing.T) {
	f := NewFlockFactory(t.TempDir())
	assert.NoError(t, f.MakeLock("writer.lock").Release())
}
