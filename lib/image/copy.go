package image

import (
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

// Copy moves an image from one backend to another, verifying every
// blob's digest and size as it goes (spec.md §4.12, §8 property 2).
// It is the workhorse behind "push archive to registry" and "pull
// from registry into a directory": each is a single Copy call.
func Copy(from Image, to Builder) (Image, error) {
	name, err := from.GetName()
	if err != nil {
		return nil, fmt.Errorf("get source name: %w", err)
	}
	manifest, err := from.GetManifest()
	if err != nil {
		return nil, fmt.Errorf("get source manifest: %w", err)
	}

	for i, layer := range manifest.Layers {
		if err := copyDescriptor(from, to, layer); err != nil {
			return nil, fmt.Errorf("copy layer %d: %w", i, err)
		}
	}
	if err := copyDescriptor(from, to, manifest.Config); err != nil {
		return nil, fmt.Errorf("copy config: %w", err)
	}

	built, err := to.Build(name, manifest)
	if err != nil {
		return nil, fmt.Errorf("build destination: %w", err)
	}
	return built, nil
}

// copyDescriptor fetches the blob desc points to from the source and
// writes it to the destination, asserting the destination reports
// back the same digest and size. A mismatch is a fatal data-integrity
// violation per spec.md §7, never retried.
func copyDescriptor(from Image, to Builder, desc ocispec.Descriptor) error {
	d, err := FromOCIDigest(desc.Digest)
	if err != nil {
		return fmt.Errorf("source descriptor digest: %w", err)
	}
	blob, err := from.GetBlob(d)
	if err != nil {
		return fmt.Errorf("fetch blob %s: %w", d, err)
	}

	gotDigest, gotSize, err := to.AddBlob(blob)
	if err != nil {
		return fmt.Errorf("write blob %s: %w", d, err)
	}
	if !gotDigest.Equal(d) {
		return &ocierrors.DigestMismatch{Expected: d.String(), Actual: gotDigest.String()}
	}
	if gotSize != desc.Size {
		return fmt.Errorf("size mismatch for %s: expected %d, got %d", d, desc.Size, gotSize)
	}
	return nil
}
