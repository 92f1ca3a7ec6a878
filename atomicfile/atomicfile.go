// Package atomicfile writes files so that readers observe either the previous
// content or the complete new content, never a partial write.
//
// The sequence is: create a temp file in the destination directory, write,
// fsync, close, rename over the destination.  A crash before the rename
// leaves the previous file intact; the stray temp file is harmless.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
)

// renameAttempts covers transient sharing violations on platforms where a
// concurrent reader briefly holds the destination open.
const renameAttempts = 5

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicfile: mkdir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp for %q: %w", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicfile: write %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicfile: fsync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close %q: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("atomicfile: chmod %q: %w", tmpName, err)
	}

	err = retry.Do(
		func() error { return os.Rename(tmpName, path) },
		retry.Attempts(renameAttempts),
		retry.Delay(20*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("atomicfile: rename %q: %w", path, err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// WriteJSON marshals v and writes it atomically.  indent selects two-space
// indentation; otherwise the compact form is used.
func WriteJSON(path string, v interface{}, indent bool) error {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("atomicfile: marshal %q: %w", path, err)
	}
	return WriteFile(path, data, 0o644)
}

// syncDir flushes the directory entry for the rename.  Not every platform
// supports fsync on a directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
