// Package ociarchive implements the tar-file-backed image layout of
// spec.md §4.5: a single tar archive containing blobs/sha256/<hex>,
// index.json, and oci-layout. The writer streams blob entries as they
// are added (grounded on original_source/src/image/write.rs); the
// reader has no random-access index, so every GetBlob rewinds to
// offset 0 and scans entries linearly (grounded on
// original_source/src/image/read.rs) — acceptable for the archive
// sizes this tool targets (spec.md §4.5).
package ociarchive

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

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

// Builder writes blobs into a tar archive as they are added, then
// assembles the manifest, index.json and oci-layout on Build.
type Builder struct {
	path     string
	file     *os.File
	tw       *tar.Writer
	finished bool
	log      *slog.Logger
}

// Create opens (truncating) the tar archive at path for writing.
func Create(path string) (*Builder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create oci-archive: %w", err)
	}
	return &Builder{
		path: path,
		file: f,
		tw:   tar.NewWriter(f),
		log:  slog.Default().With("component", "ociarchive", "path", path),
	}, nil
}

var _ image.Builder = (*Builder)(nil)

// AddBlob computes the SHA-256 digest of b and appends it as a tar
// entry at blobs/<algorithm>/<encoded>.
func (b *Builder) AddBlob(data []byte) (digest.Digest, int64, error) {
	d := digest.FromBytes(data)
	if err := b.writeEntry(d.AsPath(), data); err != nil {
		return digest.Digest{}, 0, fmt.Errorf("write blob %s: %w", d, err)
	}
	b.log.Debug("added blob", "digest", d.String(), "size", len(data))
	return d, int64(len(data)), nil
}

// Build serializes manifest, appends it as a blob, then index.json
// (with name annotated on the manifest descriptor) and oci-layout,
// and closes the archive. manifest is not mutated.
func (b *Builder) Build(name imagename.ImageName, manifest ocispec.Manifest) (image.Image, error) {
	if b.finished {
		return nil, fmt.Errorf("build called twice on the same oci-archive builder")
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
	if err := b.writeEntry("index.json", indexJSON); err != nil {
		return nil, fmt.Errorf("write index.json: %w", err)
	}
	if err := b.writeEntry("oci-layout", []byte(layoutVersionJSON)); err != nil {
		return nil, fmt.Errorf("write oci-layout: %w", err)
	}

	if err := b.tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize tar: %w", err)
	}
	if err := b.file.Close(); err != nil {
		return nil, fmt.Errorf("close archive file: %w", err)
	}
	b.finished = true
	b.log.Debug("build finished", "manifest_digest", manifestDigest.String())

	return Open(b.path)
}

// Close releases the archive without finalizing it. If Build never
// ran, the file is left on disk but truncated mid-stream — it carries
// no index.json/oci-layout and so is never a valid, "successfully
// named" layout (spec.md §4.4/§8 property 5's filesystem builders are
// oci-dir and archives alike in spirit, though an archive's partial
// file is intentionally left rather than removed, per spec.md §4.5).
func (b *Builder) Close() error {
	if b.finished {
		return nil
	}
	if err := b.file.Close(); err != nil {
		b.log.Warn("cleanup close failed", "error", err)
		return err
	}
	return nil
}

func (b *Builder) writeEntry(name string, data []byte) error {
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Format:   tar.FormatGNU,
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o644,
		ModTime:  time.Now(),
	}
	if err := b.tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := b.tw.Write(data)
	return err
}

// Reader is an Image backed by an on-disk oci-archive. Every GetBlob
// rewinds to offset 0 and scans entries linearly; callers must not
// invoke Reader methods concurrently (spec.md §5).
type Reader struct {
	path string
	log  *slog.Logger
}

var _ image.Image = (*Reader)(nil)

// Open returns a Reader over the oci-archive at path. It does not
// validate the archive eagerly; GetName/GetManifest/GetBlob do.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open oci-archive: %w", err)
	}
	return &Reader{path: path, log: slog.Default().With("component", "ociarchive", "path", path)}, nil
}

// GetName resolves index.json's single manifest annotation.
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

// GetManifest resolves index -> manifest descriptor -> blob -> parse.
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

// GetBlob rewinds to offset 0 and scans tar entries until d's path
// matches or EOF (spec.md §4.5's O(n) rewind-and-scan contract).
func (r *Reader) GetBlob(d digest.Digest) ([]byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open oci-archive: %w", err)
	}
	defer f.Close()

	target := d.AsPath()
	tr := tar.NewReader(f)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, &ocierrors.UnknownDigest{Digest: d.String()}
		}
		if err != nil {
			return nil, fmt.Errorf("scan oci-archive: %w", err)
		}
		if header.Name != target {
			continue
		}
		buf, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read blob %s: %w", d, err)
		}
		return buf, nil
	}
}

func (r *Reader) getIndex() (ocispec.Index, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return ocispec.Index{}, fmt.Errorf("open oci-archive: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return ocispec.Index{}, ocierrors.ErrMissingIndex
		}
		if err != nil {
			return ocispec.Index{}, fmt.Errorf("scan oci-archive: %w", err)
		}
		if header.Name != "index.json" {
			continue
		}
		buf, err := io.ReadAll(tr)
		if err != nil {
			return ocispec.Index{}, fmt.Errorf("read index.json: %w", err)
		}
		var idx ocispec.Index
		if err := json.Unmarshal(buf, &idx); err != nil {
			return ocispec.Index{}, fmt.Errorf("%w: index.json: %v", ocierrors.ErrInvalidJSON, err)
		}
		return idx, nil
	}
}

// singleManifest enforces the at-most-one-manifest invariant
// (spec.md §3, §8 property 6).
func singleManifest(idx ocispec.Index) (ocispec.Descriptor, error) {
	if len(idx.Manifests) != 1 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: got %d", ocierrors.ErrMultipleManifests, len(idx.Manifests))
	}
	return idx.Manifests[0], nil
}
