package lock_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoPersonaEngine/lock"
)

func TestTryLock_Basic(t *testing.T) {
	l := lock.NewKeyed()

	require.True(t, l.TryLock("Win32"))
	assert.False(t, l.TryLock("Win32"), "second TryLock must fail while held")
	assert.True(t, l.TryLock("MacIntel"), "other keys are independent")
	assert.True(t, l.IsLocked("Win32"))

	l.Unlock("Win32")
	l.Unlock("MacIntel")
	assert.False(t, l.IsLocked("Win32"))
	assert.True(t, l.TryLock("Win32"))
	l.Unlock("Win32")
}

func TestLock_ContextCancellation(t *testing.T) {
	l := lock.NewKeyed()
	require.True(t, l.TryLock("Win32"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.Lock(ctx, "Win32")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.Unlock("Win32")
	// The abandoned waiter must hand the mutex back.
	require.Eventually(t, func() bool {
		if l.TryLock("Win32") {
			l.Unlock("Win32")
			return true
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestUnlock_NotHeldIsNoop(t *testing.T) {
	l := lock.NewKeyed()
	assert.NotPanics(t, func() { l.Unlock("never") })
}

func TestDo_SerialisesSameKey(t *testing.T) {
	l := lock.NewKeyed()
	lockPath := filepath.Join(t.TempDir(), ".lock")

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lock.Do(context.Background(), l, "Win32", lockPath, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.NoFileExists(t, lockPath)
}

func TestAcquireFile_StaleIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	require.NoError(t, os.WriteFile(path, []byte("999\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	fl, err := lock.AcquireFile(context.Background(), path, time.Minute)
	require.NoError(t, err)
	require.NoError(t, fl.Release())
}

func TestAcquireFile_HeldTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	held, err := lock.AcquireFile(context.Background(), path, time.Hour)
	require.NoError(t, err)
	defer held.Release() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = lock.AcquireFile(ctx, path, time.Hour)
	assert.Error(t, err)
}
