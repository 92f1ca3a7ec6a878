package atomicfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoPersonaEngine/atomicfile"
)

func TestWriteFile_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "index.json")

	require.NoError(t, atomicfile.WriteFile(path, []byte("one"), 0o644))
	require.NoError(t, atomicfile.WriteFile(path, []byte("two"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not survive a successful write")
}

func TestWriteFile_FailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(path, 0o755))
	// A non-empty directory cannot be replaced by a rename.
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o644))

	err := atomicfile.WriteFile(path, []byte("new"), 0o644)
	require.Error(t, err)
	assert.DirExists(t, path)

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "temp file is removed after a failed rename")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, atomicfile.WriteJSON(path, map[string]int{"a": 1}, false))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))
}
