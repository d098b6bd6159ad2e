// Package mediatype collects the media-type constants used across
// ocipkg's layouts: the OCI image-spec media types re-exported for
// convenience, and this project's own application/vnd.ocipkg.* family
// reserved for the domain artifact layer (spec.md §4.9, §6).
package mediatype

import ocispec "github.com/opencontainers/image-spec/specs-go/v1"

// Re-exported OCI image-spec media types; every backend and wrapper in
// this module refers to these rather than hand duplicating the
// strings, so a bump of opencontainers/image-spec only has one seam.
const (
	ImageManifest = ocispec.MediaTypeImageManifest
	ImageIndex    = ocispec.MediaTypeImageIndex
	ImageConfig   = ocispec.MediaTypeImageConfig
	ImageLayer    = ocispec.MediaTypeImageLayer
	ImageLayerGzip = ocispec.MediaTypeImageLayerGzip
	EmptyJSON     = ocispec.MediaTypeEmptyJSON
)

// Ocipkg's own media-type namespace (spec.md §4.9, §6).
const (
	// OcipkgArtifact marks a manifest as an ocipkg artifact (files/
	// directories packed as layers).
	OcipkgArtifact = "application/vnd.ocipkg.v1.artifact"
	// OcipkgConfig is the media type of the OcipkgConfig JSON blob
	// mapping layer digests back to the file paths they packed.
	OcipkgConfig = "application/vnd.ocipkg.v1.config+json"
	// OcipkgLayer is the media type of a tar.gz layer produced by
	// append_files/append_dir_all.
	OcipkgLayer = "application/vnd.ocipkg.v1.layer.tar+gzip"
)

// EmptyJSONBytes is the literal placeholder config blob used when an
// artifact carries no meaningful config: "{}".
var EmptyJSONBytes = []byte("{}")

// EmptyJSONDigest is the well-known digest of EmptyJSONBytes,
// sha256:44136fa3..., as named in spec.md §3.
const EmptyJSONDigest = "sha256:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"
