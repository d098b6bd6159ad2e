// Package artifact implements the generic OCI Artifact wrapper of
// spec.md §4.4: any Image/Builder pair can carry a config blob, any
// number of layer blobs, and the well-known
// "org.opencontainers.image.*" annotations. The annotation field list
// is grounded on original_source/src/image/annotations/flat.rs.
package artifact

import (
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/image"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/mediatype"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

// Annotations holds the OCI pre-defined image annotation keys
// (https://github.com/opencontainers/image-spec/blob/main/annotations.md).
// Every field is optional; Apply only sets keys that are non-empty.
type Annotations struct {
	Created       string
	Authors       string
	URL           string
	Documentation string
	Source        string
	Version       string
	Revision      string
	Vendor        string
	Licenses      string
	RefName       string
	Title         string
	Description   string
}

// Apply writes the set fields into m under their
// "org.opencontainers.image.*" keys.
func (a Annotations) Apply(m map[string]string) {
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	set("org.opencontainers.image.created", a.Created)
	set("org.opencontainers.image.authors", a.Authors)
	set("org.opencontainers.image.url", a.URL)
	set("org.opencontainers.image.documentation", a.Documentation)
	set("org.opencontainers.image.source", a.Source)
	set("org.opencontainers.image.version", a.Version)
	set("org.opencontainers.image.revision", a.Revision)
	set("org.opencontainers.image.vendor", a.Vendor)
	set("org.opencontainers.image.licenses", a.Licenses)
	set("org.opencontainers.image.ref.name", a.RefName)
	set("org.opencontainers.image.title", a.Title)
	set("org.opencontainers.image.description", a.Description)
}

// Artifact builds an OCI manifest incrementally on top of any
// image.Builder: AddConfig, any number of AddLayer, then Build.
type Artifact struct {
	builder      image.Builder
	artifactType string
	config       ocispec.Descriptor
	layers       []ocispec.Descriptor
	annotations  map[string]string
}

// New starts an artifact of the given artifactType. An empty
// artifactType is not rejected here; Build fails with
// ErrMissingArtifactType instead.
func New(b image.Builder, artifactType string) *Artifact {
	return &Artifact{builder: b, artifactType: artifactType, annotations: map[string]string{}}
}

// AddConfig stores data as the artifact's config blob.
func (a *Artifact) AddConfig(mediaType string, data []byte) error {
	d, size, err := a.builder.AddBlob(data)
	if err != nil {
		return fmt.Errorf("add config blob: %w", err)
	}
	a.config = ocispec.Descriptor{MediaType: mediaType, Digest: image.ToOCIDigest(d), Size: size}
	return nil
}

// AddEmptyConfig stores the "{}" placeholder config (spec.md §4.4
// default for artifacts with no meaningful config).
func (a *Artifact) AddEmptyConfig() error {
	desc, err := image.AddEmptyJSON(a.builder)
	if err != nil {
		return fmt.Errorf("add empty config: %w", err)
	}
	a.config = desc
	return nil
}

// AddLayer stores data as a new layer blob and returns its digest.
func (a *Artifact) AddLayer(mediaType string, data []byte) (digest.Digest, error) {
	d, size, err := a.builder.AddBlob(data)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("add layer blob: %w", err)
	}
	a.layers = append(a.layers, ocispec.Descriptor{MediaType: mediaType, Digest: image.ToOCIDigest(d), Size: size})
	return d, nil
}

// AddAnnotation sets a single manifest-level annotation.
func (a *Artifact) AddAnnotation(key, value string) {
	a.annotations[key] = value
}

// ApplyAnnotations merges the well-known org.opencontainers.image.*
// annotations into this artifact's manifest annotations.
func (a *Artifact) ApplyAnnotations(ann Annotations) {
	ann.Apply(a.annotations)
}

// Build finalizes the manifest. If no config has been set, the empty
// JSON config is used. Fails if artifactType is empty (spec.md §9:
// an artifact manifest must declare what kind of artifact it is).
func (a *Artifact) Build(name imagename.ImageName) (image.Image, error) {
	if a.artifactType == "" {
		return nil, fmt.Errorf("build artifact: %w", ocierrors.ErrMissingArtifactType)
	}
	if a.config.Digest == "" {
		if err := a.AddEmptyConfig(); err != nil {
			return nil, err
		}
	}
	manifest := ocispec.Manifest{
		MediaType:    mediatype.ImageManifest,
		ArtifactType: a.artifactType,
		Config:       a.config,
		Layers:       a.layers,
		Annotations:  a.annotations,
	}
	return a.builder.Build(name, manifest)
}

// Reader reads back the generic artifact facets of an already-built
// Image: its artifactType, config bytes, and layer descriptors.
type Reader struct {
	img image.Image
}

// NewReader wraps img for artifact-level reads.
func NewReader(img image.Image) *Reader { return &Reader{img: img} }

// ArtifactType returns the manifest's artifactType, or an error if
// missing (spec.md §9).
func (r *Reader) ArtifactType() (string, error) {
	manifest, err := r.img.GetManifest()
	if err != nil {
		return "", err
	}
	if manifest.ArtifactType == "" {
		return "", ocierrors.ErrMissingArtifactType
	}
	return manifest.ArtifactType, nil
}

// GetConfig fetches and returns the raw config blob bytes.
func (r *Reader) GetConfig() ([]byte, error) {
	manifest, err := r.img.GetManifest()
	if err != nil {
		return nil, err
	}
	d, err := image.FromOCIDigest(manifest.Config.Digest)
	if err != nil {
		return nil, err
	}
	return r.img.GetBlob(d)
}

// Layer pairs a manifest layer descriptor with its fetched blob bytes.
type Layer struct {
	Descriptor ocispec.Descriptor
	Data       []byte
}

// GetLayers materializes every manifest layer into memory alongside
// its descriptor (spec.md §4.8).
func (r *Reader) GetLayers() ([]Layer, error) {
	manifest, err := r.img.GetManifest()
	if err != nil {
		return nil, err
	}
	layers := make([]Layer, 0, len(manifest.Layers))
	for _, desc := range manifest.Layers {
		d, err := image.FromOCIDigest(desc.Digest)
		if err != nil {
			return nil, err
		}
		data, err := r.img.GetBlob(d)
		if err != nil {
			return nil, fmt.Errorf("fetch layer %s: %w", d, err)
		}
		layers = append(layers, Layer{Descriptor: desc, Data: data})
	}
	return layers, nil
}

