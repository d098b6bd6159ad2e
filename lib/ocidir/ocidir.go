// Package ocidir implements the filesystem-directory-backed image
// layout of spec.md §4.6: blobs/sha256/<hex>, index.json, and
// oci-layout written directly as files under a directory tree. Blob
// writes are atomic (temp file then rename), grounded on the
// teacher's BlobStore.Put (lib/registry/blob_store.go).
package ocidir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/opencontainers/image-spec/specs-go"

	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/image"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/mediatype"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

const layoutVersionJSON = `{"imageLayoutVersion":"1.0.0"}`

const refNameAnnotation = "org.opencontainers.image.ref.name"

// Builder writes blobs as individual files under root, mkdir-p'ing
// blobs/<algorithm>/ as needed.
type Builder struct {
	root     string
	finished bool
	log      *slog.Logger
}

var _ image.Builder = (*Builder)(nil)

// Create ensures root exists and returns a Builder rooted there. If
// root already contains a complete layout (index.json present),
// Create fails with ErrImageAlreadyExists — callers that want to
// overwrite must remove root first (spec.md §4.6).
func Create(root string) (*Builder, error) {
	if _, err := os.Stat(filepath.Join(root, "index.json")); err == nil {
		return nil, fmt.Errorf("%w: %s", ocierrors.ErrImageAlreadyExists, root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create oci-dir: %w", err)
	}
	return &Builder{root: root, log: slog.Default().With("component", "ocidir", "root", root)}, nil
}

// AddBlob atomically writes data to blobs/<algorithm>/<encoded>: a
// temp file is written and hashed while copying, then renamed into
// place only once the digest is confirmed.
func (b *Builder) AddBlob(data []byte) (digest.Digest, int64, error) {
	d, n, err := PutBlob(b.root, data)
	if err != nil {
		return digest.Digest{}, 0, err
	}
	b.log.Debug("added blob", "digest", d.String(), "size", n)
	return d, n, nil
}

// PutBlob atomically writes data under root/blobs/<algorithm>/<encoded>
// without requiring a full Builder/layout (used to populate a bare
// blob-cache directory, such as ocipkg's adjacent .oci-dir cache,
// independent of any index.json/oci-layout). Idempotent: an existing
// blob at the target path is left as is. Not safe for concurrent calls
// that write the same blob, since they share one "<path>.tmp" file.
func PutBlob(root string, data []byte) (digest.Digest, int64, error) {
	d := digest.FromBytes(data)
	path := filepath.Join(root, d.AsPath())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return digest.Digest{}, 0, fmt.Errorf("mkdir blob dir: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return d, int64(len(data)), nil
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return digest.Digest{}, 0, fmt.Errorf("create temp blob file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tempPath)
	}()

	hasher := sha256.New()
	n, err := io.Copy(f, io.TeeReader(bytes.NewReader(data), hasher))
	if err != nil {
		return digest.Digest{}, 0, fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return digest.Digest{}, 0, fmt.Errorf("close blob file: %w", err)
	}

	actual := "sha256:" + hex.EncodeToString(hasher.Sum(nil))
	if actual != d.String() {
		return digest.Digest{}, 0, &ocierrors.DigestMismatch{Expected: d.String(), Actual: actual}
	}
	if err := os.Rename(tempPath, path); err != nil {
		return digest.Digest{}, 0, fmt.Errorf("rename blob into place: %w", err)
	}

	return d, n, nil
}

// Build writes manifest as a blob, then index.json (with the name
// annotation) and oci-layout.
func (b *Builder) Build(name imagename.ImageName, manifest ocispec.Manifest) (image.Image, error) {
	if b.finished {
		return nil, fmt.Errorf("build called twice on the same oci-dir builder")
	}
	manifest.SchemaVersion = 2
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestDigest, manifestSize, err := b.AddBlob(manifestJSON)
	if err != nil {
		return nil, err
	}

	manifestMediaType := manifest.MediaType
	if manifestMediaType == "" {
		manifestMediaType = mediatype.ImageManifest
	}
	manifestDesc := ocispec.Descriptor{
		MediaType: manifestMediaType,
		Digest:    image.ToOCIDigest(manifestDigest),
		Size:      manifestSize,
		Annotations: map[string]string{
			refNameAnnotation: name.String(),
		},
	}

	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: mediatype.ImageIndex,
		Manifests: []ocispec.Descriptor{manifestDesc},
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.root, "index.json"), indexJSON, 0o644); err != nil {
		return nil, fmt.Errorf("write index.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.root, "oci-layout"), []byte(layoutVersionJSON), 0o644); err != nil {
		return nil, fmt.Errorf("write oci-layout: %w", err)
	}

	b.finished = true
	b.log.Debug("build finished", "manifest_digest", manifestDigest.String())
	return Open(b.root)
}

// Close removes root entirely if Build was never called, matching the
// scoped-cleanup contract of spec.md §4.6: an oci-dir that never
// finished building leaves nothing behind. Safe to call after a
// successful Build (no-op).
func (b *Builder) Close() error {
	if b.finished {
		return nil
	}
	if err := os.RemoveAll(b.root); err != nil {
		b.log.Warn("cleanup removal failed", "error", err)
		return err
	}
	return nil
}

// Reader is an Image backed by an on-disk oci-dir layout.
type Reader struct {
	root string
	log  *slog.Logger
}

var _ image.Image = (*Reader)(nil)

// Open returns a Reader over root. It does not validate the layout
// eagerly; GetName/GetManifest/GetBlob do.
func Open(root string) (*Reader, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("open oci-dir: %w", err)
	}
	return &Reader{root: root, log: slog.Default().With("component", "ocidir", "root", root)}, nil
}

func (r *Reader) GetName() (imagename.ImageName, error) {
	idx, err := r.getIndex()
	if err != nil {
		return imagename.ImageName{}, err
	}
	desc, err := singleManifest(idx)
	if err != nil {
		return imagename.ImageName{}, err
	}
	raw, ok := desc.Annotations[refNameAnnotation]
	if !ok {
		return imagename.ImageName{}, fmt.Errorf("%w: missing %s annotation", ocierrors.ErrMissingManifestName, refNameAnnotation)
	}
	return imagename.Parse(raw)
}

func (r *Reader) GetManifest() (ocispec.Manifest, error) {
	idx, err := r.getIndex()
	if err != nil {
		return ocispec.Manifest{}, err
	}
	desc, err := singleManifest(idx)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	d, err := image.FromOCIDigest(desc.Digest)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	blob, err := r.GetBlob(d)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(blob, &manifest); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("%w: manifest: %v", ocierrors.ErrInvalidJSON, err)
	}
	return manifest, nil
}

func (r *Reader) GetBlob(d digest.Digest) ([]byte, error) {
	path := filepath.Join(r.root, d.AsPath())
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ocierrors.UnknownDigest{Digest: d.String()}
		}
		return nil, fmt.Errorf("read blob %s: %w", d, err)
	}
	return data, nil
}

func (r *Reader) getIndex() (ocispec.Index, error) {
	data, err := os.ReadFile(filepath.Join(r.root, "index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return ocispec.Index{}, ocierrors.ErrMissingIndex
		}
		return ocispec.Index{}, fmt.Errorf("read index.json: %w", err)
	}
	var idx ocispec.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return ocispec.Index{}, fmt.Errorf("%w: index.json: %v", ocierrors.ErrInvalidJSON, err)
	}
	return idx, nil
}

func singleManifest(idx ocispec.Index) (ocispec.Descriptor, error) {
	if len(idx.Manifests) != 1 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: got %d", ocierrors.ErrMultipleManifests, len(idx.Manifests))
	}
	return idx.Manifests[0], nil
}
