package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.hcl"))
	write(t, filepath.Join(dir, "nested", "a.json"))
	write(t, filepath.Join(dir, "notes.txt"))

	files, err := FindFilesByExtension(dir, ".hcl", ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.hcl"), filepath.Join(dir, "nested", "a.json")}, files)

	assert.Panics(t, func() { _, _ = FindFilesByExtension(dir) })
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plan.hcl")
	write(t, file)
	write(t, filepath.Join(dir, "sub", "more.hcl"))

	files, err := ExpandPaths([]string{file, dir}, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{file, filepath.Join(dir, "sub", "more.hcl")}, files)

	_, err = ExpandPaths([]string{filepath.Join(dir, "missing")}, ".hcl")
	assert.ErrorContains(t, err, "error accessing path")
}
