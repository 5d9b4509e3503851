package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeSizeBytes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.bin"), make([]byte, 250), 0o644))

	size, err := treeSizeBytes(dir)
	require.NoError(t, err)
	require.Equal(t, int64(350), size)
}

func TestTreeSizeBytes_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 42), 0o644))

	size, err := treeSizeBytes(path)
	require.NoError(t, err)
	require.Equal(t, int64(42), size)
}

func TestTreeSizeBytes_Missing(t *testing.T) {
	_, err := treeSizeBytes(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("beta"), 0o644))

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))

	data, err = os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(data))
}

func TestCopyTree_MergeOverwrites(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("new"), 0o644))

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, "a.txt"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "keep.txt"), []byte("keep"), 0o644))

	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "new", string(data))

	// Files absent from the source are left alone.
	data, err = os.ReadFile(filepath.Join(dst, "keep.txt"))
	require.NoError(t, err)
	require.Equal(t, "keep", string(data))
}

func TestCopyTree_SingleFileSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(src, []byte("bytes"), 0o644))

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "model.onnx"))
	require.NoError(t, err)
	require.Equal(t, "bytes", string(data))
}

func TestCopyTree_PreservesFileMode(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "weights.bin"), []byte("w"), 0o600))

	dst := t.TempDir()
	// A pre-existing file's old bits must not survive the overwrite.
	require.NoError(t, os.WriteFile(filepath.Join(dst, "run.sh"), []byte("old"), 0o644))

	require.NoError(t, copyTree(src, dst))

	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dst, "weights.bin"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
