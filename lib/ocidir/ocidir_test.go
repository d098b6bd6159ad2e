package ocidir

import (
	"path/filepath"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocipkg/ocipkg/lib/image"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/ociarchive"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

func TestBuildAndRead(t *testing.T) {
	root := filepath.Join(t.TempDir(), "image")

	b, err := Create(root)
	require.NoError(t, err)

	layerData := []byte("directory layer contents")
	layerDigest, layerSize, err := b.AddBlob(layerData)
	require.NoError(t, err)
	configDesc, err := image.AddEmptyJSON(b)
	require.NoError(t, err)

	name, err := imagename.Parse("example.com/repo:tag")
	require.NoError(t, err)
	manifest := ocispec.Manifest{
		Config: configDesc,
		Layers: []ocispec.Descriptor{
			{MediaType: "application/octet-stream", Digest: image.ToOCIDigest(layerDigest), Size: layerSize},
		},
	}
	built, err := b.Build(name, manifest)
	require.NoError(t, err)

	gotName, err := built.GetName()
	require.NoError(t, err)
	assert.True(t, name.Equal(gotName))

	gotBlob, err := built.GetBlob(layerDigest)
	require.NoError(t, err)
	assert.Equal(t, layerData, gotBlob)
}

func TestCreateRejectsExistingLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "image")
	b, err := Create(root)
	require.NoError(t, err)
	configDesc, err := image.AddEmptyJSON(b)
	require.NoError(t, err)
	name, err := imagename.Parse("example.com/repo:tag")
	require.NoError(t, err)
	_, err = b.Build(name, ocispec.Manifest{Config: configDesc})
	require.NoError(t, err)

	_, err = Create(root)
	require.ErrorIs(t, err, ocierrors.ErrImageAlreadyExists)
}

func TestCloseWithoutBuildRemovesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "image")
	b, err := Create(root)
	require.NoError(t, err)
	_, _, err = b.AddBlob([]byte("partial"))
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, err = Open(root)
	require.Error(t, err)
}

// S4: copy an oci-archive into an oci-dir, verifying digest fidelity
// across the two concrete backend implementations.
func TestCopyArchiveToDir(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "src.tar")
	archiveBuilder, err := ociarchive.Create(archivePath)
	require.NoError(t, err)

	layerData := []byte("cross-backend payload")
	layerDigest, layerSize, err := archiveBuilder.AddBlob(layerData)
	require.NoError(t, err)
	configDesc, err := image.AddEmptyJSON(archiveBuilder)
	require.NoError(t, err)

	name, err := imagename.Parse("example.com/ns/repo:v2")
	require.NoError(t, err)
	manifest := ocispec.Manifest{
		Config: configDesc,
		Layers: []ocispec.Descriptor{
			{MediaType: "application/octet-stream", Digest: image.ToOCIDigest(layerDigest), Size: layerSize},
		},
	}
	archiveImage, err := archiveBuilder.Build(name, manifest)
	require.NoError(t, err)

	dirRoot := filepath.Join(t.TempDir(), "dst-dir")
	dirBuilder, err := Create(dirRoot)
	require.NoError(t, err)

	copied, err := image.Copy(archiveImage, dirBuilder)
	require.NoError(t, err)

	gotBlob, err := copied.GetBlob(layerDigest)
	require.NoError(t, err)
	assert.Equal(t, layerData, gotBlob)

	gotName, err := copied.GetName()
	require.NoError(t, err)
	assert.True(t, name.Equal(gotName))
}
