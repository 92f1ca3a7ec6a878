// Package lock provides the mutual exclusion used around font store
// read-modify-write passes.
//
// Two layers are offered:
//
//  1. Keyed – per-key in-process mutexes, so two goroutines reconciling the
//     same platform serialise while different platforms proceed in parallel.
//
//  2. File – an exclusive lock file next to the protected data, so two
//     processes (two simultaneous sessions) never interleave their writes.
//
// Platform combines both.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// keyMutex pairs a sync.Mutex with a reference count so entries can be pruned
// from the map when no goroutine holds or is waiting on the lock.
type keyMutex struct {
	mu      sync.Mutex
	waiters int
}

// Keyed is a set of per-key mutexes.  It is safe for concurrent use.
//
// Design:
//   - A top-level sync.Mutex guards the locks map.
//   - Each key gets its own *keyMutex so contention on one key never blocks a
//     different key.
//   - The waiter count lets the map entry go away once nobody needs it.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// NewKeyed creates an empty Keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyMutex)}
}

// acquireRef returns the keyMutex for key, creating it if necessary, and
// increments its waiter count.
func (k *Keyed) acquireRef(key string) *keyMutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	km, ok := k.locks[key]
	if !ok {
		km = &keyMutex{}
		k.locks[key] = km
	}
	km.waiters++
	return km
}

func (k *Keyed) releaseRef(key string, km *keyMutex) {
	k.mu.Lock()
	km.waiters--
	if km.waiters == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Lock acquires key, blocking until it is free or ctx is done.
func (k *Keyed) Lock(ctx context.Context, key string) error {
	km := k.acquireRef(key)

	acquired := make(chan struct{}, 1)
	go func() {
		km.mu.Lock()
		acquired <- struct{}{}
	}()

	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		k.releaseRef(key, km)
		// The goroutine may still win the mutex later; hand it straight back.
		go func() {
			<-acquired
			km.mu.Unlock()
		}()
		return fmt.Errorf("lock: key %q: %w", key, ctx.Err())
	}
}

// TryLock acquires key without blocking and reports success.
func (k *Keyed) TryLock(key string) bool {
	km := k.acquireRef(key)
	if km.mu.TryLock() {
		return true
	}
	k.releaseRef(key, km)
	return false
}

// Unlock releases key.  It is a no-op if key is not held.
func (k *Keyed) Unlock(key string) {
	k.mu.Lock()
	km, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	k.releaseRef(key, km)
	km.mu.Unlock()
}

// IsLocked reports whether key is currently held.  The result is advisory.
func (k *Keyed) IsLocked(key string) bool {
	k.mu.Lock()
	km, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return false
	}
	if km.mu.TryLock() {
		km.mu.Unlock()
		return false
	}
	return true
}
