package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults for file locks.
const (
	DefaultStaleAfter = 10 * time.Minute
	defaultPoll       = 50 * time.Millisecond
)

// File is an exclusive lock file.  Holding it means no other process that
// follows the same protocol is inside the critical section.
type File struct {
	path string
	f    *os.File
}

// AcquireFile creates path exclusively, retrying until ctx is done.  A lock
// file older than staleAfter is considered abandoned by a crashed process and
// removed.
func AcquireFile(ctx context.Context, path string, staleAfter time.Duration) (*File, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: mkdir for %q: %w", path, err)
	}
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			return &File{path: path, f: f}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock: create %q: %w", path, err)
		}
		if st, statErr := os.Stat(path); statErr == nil && time.Since(st.ModTime()) > staleAfter {
			_ = os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: file %q: %w", path, ctx.Err())
		case <-time.After(defaultPoll):
		}
	}
}

// Release closes and removes the lock file.
func (l *File) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Close()
	l.f = nil
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("lock: remove %q: %w", l.path, err)
	}
	return nil
}

// Do runs fn while holding both the in-process lock for key and the lock
// file at lockPath.
func Do(ctx context.Context, k *Keyed, key, lockPath string, fn func() error) error {
	if err := k.Lock(ctx, key); err != nil {
		return err
	}
	defer k.Unlock(key)

	fl, err := AcquireFile(ctx, lockPath, DefaultStaleAfter)
	if err != nil {
		return err
	}
	defer fl.Release() //nolint:errcheck

	return fn()
}
