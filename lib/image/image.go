// Package image defines the polymorphic contract every storage
// backend realizes (spec.md §4.4, §9): Image for reading a layout,
// Builder for writing one. Three concrete backends — oci-archive,
// oci-dir, and a remote registry — implement this pair; the copy
// engine below is written once against the abstract contract and
// moves any image between any two of them.
package image

import (
	godigest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/mediatype"
)

// Image is the read capability set of an image layout.
type Image interface {
	// GetName returns the image name carried by the layout's single
	// index entry. Fails if the index has zero or more than one
	// manifest, or the ref-name annotation is missing.
	GetName() (imagename.ImageName, error)
	// GetBlob returns the bit-exact bytes addressed by d.
	GetBlob(d digest.Digest) ([]byte, error)
	// GetManifest resolves index -> manifest descriptor -> blob and
	// parses it.
	GetManifest() (ocispec.Manifest, error)
}

// Builder is the write capability set of an image layout. Callers
// must follow (zero or more AddBlob) -> Build; Build takes ownership
// of the manifest and must not be called twice.
type Builder interface {
	// AddBlob computes the SHA-256 digest of b, stores it, and
	// returns the digest and length so the caller can reference it
	// from a descriptor.
	AddBlob(b []byte) (digest.Digest, int64, error)
	// Build finalizes the layout: serializes manifest, stores it as a
	// blob, emits an index referencing it annotated with name, and
	// returns a reader over the completed layout. manifest must not be
	// mutated after Build is called.
	Build(name imagename.ImageName, manifest ocispec.Manifest) (Image, error)
}

// AddEmptyJSON stores the "{}" / application/vnd.oci.empty.v1+json
// placeholder blob used as a config when an artifact carries no
// meaningful config (spec.md §4.4 default add_empty_json).
func AddEmptyJSON(b Builder) (ocispec.Descriptor, error) {
	d, size, err := b.AddBlob(mediatype.EmptyJSONBytes)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	return ocispec.Descriptor{
		MediaType: mediatype.EmptyJSON,
		Digest:    ToOCIDigest(d),
		Size:      size,
	}, nil
}

// ToOCIDigest converts our digest.Digest to the go-digest type the
// OCI image-spec structs use for their Digest fields.
func ToOCIDigest(d digest.Digest) godigest.Digest {
	return godigest.Digest(d.String())
}

// FromOCIDigest is the inverse of ToOCIDigest.
func FromOCIDigest(d godigest.Digest) (digest.Digest, error) {
	return digest.New(d.String())
}
