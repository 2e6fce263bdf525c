package job

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zipkit"
	"zipkit/deflate"
)

func buildTestArchive(t *testing.T, archivePath string, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	w, err := zipkit.Create(ctx, archivePath, deflate.DefaultLevel)
	require.NoError(t, err)
	for name, content := range files {
		require.NoError(t, w.AddBuffer(ctx, []byte(content), name, nil))
	}
	require.NoError(t, w.Close(ctx))
}

func TestListJob(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "a.zip")
	buildTestArchive(t, archivePath, map[string]string{
		"a.txt": "hello",
		"b.log": "world",
	})

	j := New(List)
	j.PackageURL = archivePath
	var out, errOut bytes.Buffer
	j.Out = &out
	j.ErrOut = &errOut

	j.Run(context.Background())
	require.NoError(t, j.Join(context.Background()))

	assert.Contains(t, out.String(), "a.txt")
	assert.Contains(t, out.String(), "b.log")
	assert.Equal(t, Finished, j.Status().Code)
}

func TestListJobGlobFilter(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "a.zip")
	buildTestArchive(t, archivePath, map[string]string{
		"a.txt": "hello",
		"b.log": "world",
	})

	j := New(List)
	j.PackageURL = archivePath
	j.Glob = "*.log"
	var out bytes.Buffer
	j.Out = &out

	j.Run(context.Background())
	require.NoError(t, j.Join(context.Background()))

	assert.NotContains(t, out.String(), "a.txt")
	assert.Contains(t, out.String(), "b.log")
}

func TestExtractJobExtractsAllEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "a.zip")
	buildTestArchive(t, archivePath, map[string]string{
		"a.txt":     "hello",
		"sub/b.txt": "nested",
	})

	dstDir := filepath.Join(dir, "dst")
	j := New(Extract)
	j.PackageURL = archivePath
	j.BaseFolder = dstDir
	var out bytes.Buffer
	j.Out = &out

	j.Run(context.Background())
	require.NoError(t, j.Join(context.Background()))

	got, err := os.ReadFile(filepath.Join(dstDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got, err = os.ReadFile(filepath.Join(dstDir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(got))

	summary := Summarize(j.Results())
	assert.Equal(t, 2, summary.Counts[ResultExtracted])
}

func TestUpdateJobIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "a.zip")
	buildTestArchive(t, archivePath, map[string]string{
		"a.txt": "hello",
		"b.txt": "world",
	})
	dstDir := filepath.Join(dir, "dst")

	first := New(Update)
	first.PackageURL = archivePath
	first.BaseFolder = dstDir
	first.Out = &bytes.Buffer{}
	first.Run(context.Background())
	require.NoError(t, first.Join(context.Background()))

	firstSummary := Summarize(first.Results())
	assert.Equal(t, 2, firstSummary.Counts[ResultExtracted])
	assert.Equal(t, 0, firstSummary.Counts[ResultAlreadyUpToDate])

	second := New(Update)
	second.PackageURL = archivePath
	second.BaseFolder = dstDir
	second.Out = &bytes.Buffer{}
	second.Run(context.Background())
	require.NoError(t, second.Join(context.Background()))

	secondSummary := Summarize(second.Results())
	assert.Equal(t, 0, secondSummary.Counts[ResultExtracted])
	assert.Equal(t, 2, secondSummary.Counts[ResultAlreadyUpToDate])
}

func TestDiffJobReportsAllMatchAfterExtract(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "a.zip")
	buildTestArchive(t, archivePath, map[string]string{
		"a.txt": "hello",
		"b.txt": "world",
	})
	dstDir := filepath.Join(dir, "dst")

	extract := New(Extract)
	extract.PackageURL = archivePath
	extract.BaseFolder = dstDir
	extract.Out = &bytes.Buffer{}
	extract.Run(context.Background())
	require.NoError(t, extract.Join(context.Background()))

	d := New(Diff)
	d.PackageURL = archivePath
	d.BaseFolder = dstDir
	var out bytes.Buffer
	d.Out = &out
	d.Run(context.Background())
	require.NoError(t, d.Join(context.Background()))

	assert.Contains(t, out.String(), "ALL MATCH")
}

func TestDiffJobDetectsMutatedFile(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "a.zip")
	buildTestArchive(t, archivePath, map[string]string{
		"a.txt": "hello world this is long enough to mutate safely",
	})
	dstDir := filepath.Join(dir, "dst")

	extract := New(Extract)
	extract.PackageURL = archivePath
	extract.BaseFolder = dstDir
	extract.Out = &bytes.Buffer{}
	extract.Run(context.Background())
	require.NoError(t, extract.Join(context.Background()))

	data, err := os.ReadFile(filepath.Join(dstDir, "a.txt"))
	require.NoError(t, err)
	data[0] = 0xFF
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "a.txt"), data, 0o644))

	d := New(Diff)
	d.PackageURL = archivePath
	d.BaseFolder = dstDir
	d.Out = &bytes.Buffer{}
	d.Run(context.Background())
	require.NoError(t, d.Join(context.Background()))

	summary := Summarize(d.Results())
	assert.Equal(t, 1, summary.Counts[ResultFileDifferent])
}

func TestCreateJobBuildsArchiveFromDirectory(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "one.txt"), []byte("one"), 0o644))

	archivePath := filepath.Join(dir, "out.zip")
	j := New(Create)
	j.PackageURL = archivePath
	j.BaseFolder = srcDir
	j.Out = &bytes.Buffer{}

	j.Run(context.Background())
	require.NoError(t, j.Join(context.Background()))

	r, err := zipkit.OpenRead(context.Background(), archivePath, nil)
	require.NoError(t, err)
	defer r.Close(context.Background())

	e := r.Directory().Lookup("one.txt")
	require.NotNil(t, e)
	assert.EqualValues(t, 3, e.UncompressedSize64)
}

