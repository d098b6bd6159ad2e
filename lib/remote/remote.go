// Package remote adapts lib/distribution.Client to the Image/Builder
// contract of lib/image, so the generic Copy engine can push to and
// pull from a registry exactly as it does with the archive and
// directory backends (spec.md §4.7).
package remote

import (
	"fmt"
	"log/slog"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/distribution"
	"github.com/ocipkg/ocipkg/lib/image"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

// Remote is both an Image and a Builder over a single repository
// reference on a registry.
type Remote struct {
	client *distribution.Client
	name   imagename.ImageName
	log    *slog.Logger
}

var (
	_ image.Image   = (*Remote)(nil)
	_ image.Builder = (*Remote)(nil)
)

// Open returns a Remote over name, usable as an Image for pulling.
func Open(name imagename.ImageName) (*Remote, error) {
	client, err := distribution.FromImageName(name)
	if err != nil {
		return nil, fmt.Errorf("build registry client: %w", err)
	}
	return &Remote{client: client, name: name, log: slog.Default().With("component", "remote", "image", name.String())}, nil
}

// GetName returns the name this Remote was opened with.
func (r *Remote) GetName() (imagename.ImageName, error) { return r.name, nil }

// GetBlob fetches the blob over HTTP.
func (r *Remote) GetBlob(d digest.Digest) ([]byte, error) {
	return r.client.GetBlob(d)
}

// GetManifest fetches and parses the manifest for this Remote's
// reference.
func (r *Remote) GetManifest() (ocispec.Manifest, error) {
	return r.client.GetManifest(r.name.Reference)
}

// AddBlob performs the two-phase blob upload and verifies the
// registry's computed digest matches ours before returning
// (spec.md §8 property 2 extends across the network boundary too).
func (r *Remote) AddBlob(data []byte) (digest.Digest, int64, error) {
	want := digest.FromBytes(data)
	got, err := r.client.PushBlob(data)
	if err != nil {
		return digest.Digest{}, 0, err
	}
	if !got.Equal(want) {
		return digest.Digest{}, 0, &ocierrors.DigestMismatch{Expected: want.String(), Actual: got.String()}
	}
	return got, int64(len(data)), nil
}

// Build pushes manifest to name's reference and returns a Remote
// positioned to read it back.
func (r *Remote) Build(name imagename.ImageName, manifest ocispec.Manifest) (image.Image, error) {
	client, err := distribution.FromImageName(name)
	if err != nil {
		return nil, fmt.Errorf("build registry client: %w", err)
	}
	if _, err := client.PushManifest(name.Reference, manifest); err != nil {
		return nil, fmt.Errorf("push manifest: %w", err)
	}
	r.log.Debug("pushed manifest", "name", name.String())
	return &Remote{client: client, name: name, log: r.log}, nil
}
