package ocipkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/ocidir"
	"github.com/ocipkg/ocipkg/lib/ociarchive"
)

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// S1: build an archive containing two files, then read the files
// back out via Unpack.
func TestAppendFilesBuildAndUnpack(t *testing.T) {
	srcDir := t.TempDir()
	fileA := writeTempFile(t, srcDir, "a.txt", "file a contents")
	fileB := writeTempFile(t, srcDir, "b.txt", "file b contents")

	archivePath := filepath.Join(t.TempDir(), "pkg.tar")
	b, err := ociarchive.Create(archivePath)
	require.NoError(t, err)

	builder := NewBuilder(b)
	require.NoError(t, builder.AppendFiles([]string{fileA, fileB}))

	name, err := imagename.Parse("example.com/pkg:v1")
	require.NoError(t, err)
	built, err := builder.Build(name)
	require.NoError(t, err)

	reader := NewReader(built)
	files, err := reader.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
	for _, paths := range files {
		assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, paths)
	}

	destDir := t.TempDir()
	require.NoError(t, reader.Unpack(destDir, false))

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file a contents", string(got))
}

func TestUnpackRefusesOverwriteByDefault(t *testing.T) {
	srcDir := t.TempDir()
	file := writeTempFile(t, srcDir, "a.txt", "contents")

	root := filepath.Join(t.TempDir(), "image")
	b, err := ocidir.Create(root)
	require.NoError(t, err)
	builder := NewBuilder(b)
	require.NoError(t, builder.AppendFiles([]string{file}))
	name, err := imagename.Parse("example.com/pkg:v1")
	require.NoError(t, err)
	built, err := builder.Build(name)
	require.NoError(t, err)

	destDir := t.TempDir()
	reader := NewReader(built)
	require.NoError(t, reader.Unpack(destDir, false))

	err = reader.Unpack(destDir, false)
	require.Error(t, err)

	require.NoError(t, reader.Unpack(destDir, true))
}

func TestBuildArchiveOneShot(t *testing.T) {
	srcDir := t.TempDir()
	file := writeTempFile(t, srcDir, "only.txt", "only contents")

	archivePath := filepath.Join(t.TempDir(), "demo.tar")
	name, err := imagename.Parse("example.com/demo:v1")
	require.NoError(t, err)

	built, err := BuildArchive(archivePath, name, []string{file})
	require.NoError(t, err)

	reader := NewReader(built)
	files, err := reader.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

// Unpack caches each layer blob into an ".oci-dir" next to dest.
func TestUnpackCachesBlobsAdjacentToDest(t *testing.T) {
	srcDir := t.TempDir()
	file := writeTempFile(t, srcDir, "a.txt", "contents")

	archivePath := filepath.Join(t.TempDir(), "pkg.tar")
	b, err := ociarchive.Create(archivePath)
	require.NoError(t, err)
	builder := NewBuilder(b)
	require.NoError(t, builder.AppendFiles([]string{file}))
	name, err := imagename.Parse("example.com/pkg:v1")
	require.NoError(t, err)
	built, err := builder.Build(name)
	require.NoError(t, err)

	parent := t.TempDir()
	destDir := filepath.Join(parent, "unpacked")
	reader := NewReader(built)
	require.NoError(t, reader.Unpack(destDir, false))

	entries, err := os.ReadDir(filepath.Join(parent, ".oci-dir", "blobs", "sha256"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

// S2: Files() reports the paths inside a layer without unpacking.
func TestAppendDirAll(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755))
	writeTempFile(t, srcDir, "top.txt", "top")
	writeTempFile(t, filepath.Join(srcDir, "nested"), "deep.txt", "deep")

	archivePath := filepath.Join(t.TempDir(), "dirpkg.tar")
	b, err := ociarchive.Create(archivePath)
	require.NoError(t, err)
	builder := NewBuilder(b)
	require.NoError(t, builder.AppendDirAll(srcDir))

	name, err := imagename.Parse("example.com/dirpkg:v1")
	require.NoError(t, err)
	built, err := builder.Build(name)
	require.NoError(t, err)

	reader := NewReader(built)
	files, err := reader.Files()
	require.NoError(t, err)
	var allPaths []string
	for _, paths := range files {
		allPaths = append(allPaths, paths...)
	}
	assert.Contains(t, allPaths, "top.txt")
	assert.Contains(t, allPaths, filepath.ToSlash(filepath.Join("nested", "deep.txt")))
}
