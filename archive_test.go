package zipkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zipkit/deflate"
)

func TestCreateAndReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.zip")

	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "b.txt"), []byte("nested content"), 0o644))

	w, err := Create(ctx, archivePath, deflate.DefaultLevel)
	require.NoError(t, err)

	require.NoError(t, w.AddFile(ctx, filepath.Join(srcDir, "a.txt"), srcDir, nil))
	require.NoError(t, w.AddFile(ctx, filepath.Join(srcDir, "sub"), srcDir, nil))
	require.NoError(t, w.AddFile(ctx, filepath.Join(srcDir, "sub", "b.txt"), srcDir, nil))
	require.NoError(t, w.Close(ctx))

	r, err := OpenRead(ctx, archivePath, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	entries := r.Directory().Entries()
	require.Len(t, entries, 3)

	totals := r.Directory().Totals()
	assert.Equal(t, 2, totals.Files)
	assert.Equal(t, 1, totals.Folders)

	outPath := filepath.Join(dir, "a-out.txt")
	require.NoError(t, r.ExtractToFile(ctx, "a.txt", outPath, nil))
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	nestedOut := filepath.Join(dir, "b-out.txt")
	require.NoError(t, r.ExtractToFile(ctx, "sub/b.txt", nestedOut, nil))
	got, err = os.ReadFile(nestedOut)
	require.NoError(t, err)
	assert.Equal(t, "nested content", string(got))
}

func TestCreateAndExtractMatching(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.zip")

	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "keep.log"), []byte("log data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "skip.txt"), []byte("txt data"), 0o644))

	w, err := Create(ctx, archivePath, deflate.DefaultLevel)
	require.NoError(t, err)
	require.NoError(t, w.AddFile(ctx, filepath.Join(srcDir, "keep.log"), srcDir, nil))
	require.NoError(t, w.AddFile(ctx, filepath.Join(srcDir, "skip.txt"), srcDir, nil))
	require.NoError(t, w.Close(ctx))

	r, err := OpenRead(ctx, archivePath, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	extractDir := filepath.Join(dir, "extracted")
	require.NoError(t, r.ExtractMatching(ctx, "*.log", extractDir, nil))

	_, err = os.Stat(filepath.Join(extractDir, "keep.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(extractDir, "skip.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestAddEmptyFileUsesStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.zip")

	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "empty"), nil, 0o644))

	w, err := Create(ctx, archivePath, deflate.DefaultLevel)
	require.NoError(t, err)
	require.NoError(t, w.AddFile(ctx, filepath.Join(srcDir, "empty"), srcDir, nil))
	require.NoError(t, w.Close(ctx))

	r, err := OpenRead(ctx, archivePath, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	e := r.Directory().Lookup("empty")
	require.NotNil(t, e)
	assert.Equal(t, Store, e.Method)
	assert.EqualValues(t, 0, e.UncompressedSize64)
	assert.EqualValues(t, 0, e.CompressedSize64)
	assert.EqualValues(t, 0, e.CRC32)

	outPath := filepath.Join(dir, "empty-out")
	require.NoError(t, r.ExtractToFile(ctx, "empty", outPath, nil))
	info, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.Size())
}

func TestDirectoryEntryHasZeroSizes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.zip")

	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))

	w, err := Create(ctx, archivePath, deflate.DefaultLevel)
	require.NoError(t, err)
	require.NoError(t, w.AddFile(ctx, filepath.Join(srcDir, "sub"), srcDir, nil))
	require.NoError(t, w.Close(ctx))

	r, err := OpenRead(ctx, archivePath, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	e := r.Directory().Lookup("sub/")
	require.NotNil(t, e)
	assert.Equal(t, Store, e.Method)
	assert.EqualValues(t, 0, e.UncompressedSize64)
	assert.EqualValues(t, 0, e.CompressedSize64)
}

func TestAddBufferAndExtractToBuffer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.zip")

	w, err := Create(ctx, archivePath, deflate.DefaultLevel)
	require.NoError(t, err)
	payload := []byte("in-memory payload data")
	require.NoError(t, w.AddBuffer(ctx, payload, "mem.bin", nil))
	require.NoError(t, w.Close(ctx))

	r, err := OpenRead(ctx, archivePath, nil)
	require.NoError(t, err)
	defer r.Close(ctx)

	dst := make([]byte, len(payload))
	require.NoError(t, r.ExtractToBuffer(ctx, "mem.bin", dst, nil))
	assert.Equal(t, payload, dst)
}
