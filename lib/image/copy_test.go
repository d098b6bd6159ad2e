package image

import (
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/imagename"
)

// memImage/memBuilder are hand-written fakes exercising the Image/
// Builder contract without any filesystem or network dependency.
type memImage struct {
	name     imagename.ImageName
	manifest ocispec.Manifest
	blobs    map[digest.Digest][]byte
}

func (m *memImage) GetName() (imagename.ImageName, error)  { return m.name, nil }
func (m *memImage) GetManifest() (ocispec.Manifest, error) { return m.manifest, nil }
func (m *memImage) GetBlob(d digest.Digest) ([]byte, error) {
	b, ok := m.blobs[d]
	if !ok {
		return nil, assert.AnError
	}
	return b, nil
}

type memBuilder struct {
	blobs map[digest.Digest][]byte
	built *memImage
}

func newMemBuilder() *memBuilder { return &memBuilder{blobs: map[digest.Digest][]byte{}} }

func (b *memBuilder) AddBlob(data []byte) (digest.Digest, int64, error) {
	d := digest.FromBytes(data)
	b.blobs[d] = data
	return d, int64(len(data)), nil
}

func (b *memBuilder) Build(name imagename.ImageName, manifest ocispec.Manifest) (Image, error) {
	b.built = &memImage{name: name, manifest: manifest, blobs: b.blobs}
	return b.built, nil
}

func TestCopyPreservesDigests(t *testing.T) {
	src := newMemBuilder()
	layerData := []byte("layer contents")
	layerDigest, layerSize, err := src.AddBlob(layerData)
	require.NoError(t, err)
	configDesc, err := AddEmptyJSON(src)
	require.NoError(t, err)

	name, err := imagename.Parse("example.com/repo:tag")
	require.NoError(t, err)

	manifest := ocispec.Manifest{
		Config: configDesc,
		Layers: []ocispec.Descriptor{
			{MediaType: "application/octet-stream", Digest: ToOCIDigest(layerDigest), Size: layerSize},
		},
	}
	srcImage, err := src.Build(name, manifest)
	require.NoError(t, err)

	dst := newMemBuilder()
	copied, err := Copy(srcImage, dst)
	require.NoError(t, err)

	gotManifest, err := copied.GetManifest()
	require.NoError(t, err)
	assert.Equal(t, manifest.Layers[0].Digest, gotManifest.Layers[0].Digest)
	assert.Equal(t, manifest.Config.Digest, gotManifest.Config.Digest)

	gotLayer, err := copied.GetBlob(layerDigest)
	require.NoError(t, err)
	assert.Equal(t, layerData, gotLayer)

	gotName, err := copied.GetName()
	require.NoError(t, err)
	assert.True(t, name.Equal(gotName))
}

func TestCopyDetectsDigestMismatch(t *testing.T) {
	src := newMemBuilder()
	layerDigest, layerSize, err := src.AddBlob([]byte("real contents"))
	require.NoError(t, err)
	configDesc, err := AddEmptyJSON(src)
	require.NoError(t, err)

	name, err := imagename.Parse("example.com/repo:tag")
	require.NoError(t, err)
	manifest := ocispec.Manifest{
		Config: configDesc,
		Layers: []ocispec.Descriptor{
			{MediaType: "application/octet-stream", Digest: ToOCIDigest(layerDigest), Size: layerSize},
		},
	}
	srcImage, err := src.Build(name, manifest)
	require.NoError(t, err)

	// Corrupt the source's stored bytes so the destination recomputes a
	// different digest than the descriptor promised.
	src.blobs[layerDigest] = []byte("tampered contents")

	dst := newMemBuilder()
	_, err = Copy(srcImage, dst)
	require.Error(t, err)
}

func TestAddEmptyJSON(t *testing.T) {
	b := newMemBuilder()
	desc, err := AddEmptyJSON(b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), desc.Size)
}
