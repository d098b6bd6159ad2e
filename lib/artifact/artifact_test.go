package artifact

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/ocidir"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

func TestBuildAndReadArtifact(t *testing.T) {
	root := filepath.Join(t.TempDir(), "image")
	b, err := ocidir.Create(root)
	require.NoError(t, err)

	a := New(b, "application/vnd.ocipkg.v1.artifact")
	_, err = a.AddLayer(mediaTypeOctetStream, []byte("layer one"))
	require.NoError(t, err)
	a.ApplyAnnotations(Annotations{Title: "demo", Version: "1.0.0"})

	name, err := imagename.Parse("example.com/repo:tag")
	require.NoError(t, err)
	built, err := a.Build(name)
	require.NoError(t, err)

	reader := NewReader(built)
	artifactType, err := reader.ArtifactType()
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.ocipkg.v1.artifact", artifactType)

	layers, err := reader.GetLayers()
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, mediaTypeOctetStream, layers[0].Descriptor.MediaType)
	assert.Equal(t, "layer one", string(layers[0].Data))

	config, err := reader.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(config))
}

func TestBuildRejectsMissingArtifactType(t *testing.T) {
	root := filepath.Join(t.TempDir(), "image")
	b, err := ocidir.Create(root)
	require.NoError(t, err)

	a := New(b, "")
	name, err := imagename.Parse("example.com/repo:tag")
	require.NoError(t, err)

	_, err = a.Build(name)
	require.ErrorIs(t, err, ocierrors.ErrMissingArtifactType)
}

const mediaTypeOctetStream = "application/octet-stream"
