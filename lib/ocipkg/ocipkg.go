// Package ocipkg implements the domain artifact of spec.md §4.9-§4.10
// (the original "ocipkg" use case this module is named for): packaging
// a set of files or a directory as gzip-compressed tar layers inside a
// generic OCI artifact, alongside a config blob recording which paths
// came from which layer.
// Grounded directly on original_source/ocipkg/src/image/{write,config}.rs.
package ocipkg

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"

	"github.com/ocipkg/ocipkg/lib/artifact"
	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/image"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/mediatype"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
	"github.com/ocipkg/ocipkg/lib/ociarchive"
	"github.com/ocipkg/ocipkg/lib/ocidir"
)

// Config is the `application/vnd.ocipkg.v1.config+json` payload: a map
// from each layer's digest to the relative paths of the files it
// contains, as reported by Reader.Files. Unpack does not read it; it
// extracts the layers' tar entries directly.
type Config struct {
	Layers map[string][]string `json:"layers"`
}

func (c *Config) addLayer(d digest.Digest, paths []string) {
	if c.Layers == nil {
		c.Layers = map[string][]string{}
	}
	c.Layers[d.String()] = paths
}

// Builder composes one or more file sets into gzip tar layers of a
// generic artifact, tracking the layer->paths mapping in Config.
type Builder struct {
	artifact *artifact.Artifact
	config   Config
}

// NewBuilder wraps an image.Builder as an ocipkg artifact builder.
func NewBuilder(b image.Builder) *Builder {
	return &Builder{artifact: artifact.New(b, mediatype.OcipkgArtifact)}
}

// AppendFiles adds paths (each must be a regular file) as a single
// new layer, named by their base name inside the layer's tar.
func (b *Builder) AppendFiles(paths []string) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ocierrors.ErrNotAFile, p)
		}
		name := filepath.Base(p)
		if err := addTarFile(tw, p, name, info); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	d, err := b.artifact.AddLayer(mediatype.OcipkgLayer, buf.Bytes())
	if err != nil {
		return fmt.Errorf("add layer: %w", err)
	}
	b.config.addLayer(d, names)
	return nil
}

// AppendDirAll recursively adds every file under dir as a single new
// layer, preserving paths relative to dir.
func (b *Builder) AppendDirAll(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ocierrors.ErrNotADirectory, dir)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	var names []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if err := addTarFile(tw, path, filepath.ToSlash(rel), fi); err != nil {
			return err
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	d, err := b.artifact.AddLayer(mediatype.OcipkgLayer, buf.Bytes())
	if err != nil {
		return fmt.Errorf("add layer: %w", err)
	}
	b.config.addLayer(d, names)
	return nil
}

func addTarFile(tw *tar.Writer, srcPath, tarName string, info os.FileInfo) error {
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Format:   tar.FormatGNU,
		Name:     tarName,
		Size:     info.Size(),
		Mode:     0o644,
		ModTime:  time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %s: %w", tarName, err)
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data for %s: %w", tarName, err)
	}
	return nil
}

// Build serializes Config as the artifact's config blob and finalizes
// the manifest.
func (b *Builder) Build(name imagename.ImageName) (image.Image, error) {
	data, err := json.Marshal(b.config)
	if err != nil {
		return nil, fmt.Errorf("marshal ocipkg config: %w", err)
	}
	if err := b.artifact.AddConfig(mediatype.OcipkgConfig, data); err != nil {
		return nil, err
	}
	return b.artifact.Build(name)
}

// BuildArchive is a one-shot convenience: create a new oci-archive at
// archivePath, append paths as a single layer, and build it as name.
// Grounded on original_source/src/compose.rs's top-level `compose`.
func BuildArchive(archivePath string, name imagename.ImageName, paths []string) (image.Image, error) {
	archiveBuilder, err := ociarchive.Create(archivePath)
	if err != nil {
		return nil, err
	}
	builder := NewBuilder(archiveBuilder)
	if err := builder.AppendFiles(paths); err != nil {
		return nil, err
	}
	return builder.Build(name)
}

// Reader reads back an ocipkg artifact's config and can unpack its
// layers to disk.
type Reader struct {
	artifact *artifact.Reader
	img      image.Image
}

// NewReader wraps img for ocipkg-level reads.
func NewReader(img image.Image) *Reader {
	return &Reader{artifact: artifact.NewReader(img), img: img}
}

// Files returns the layer-digest -> relative-paths mapping recorded
// in the artifact's config.
func (r *Reader) Files() (map[string][]string, error) {
	data, err := r.artifact.GetConfig()
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: ocipkg config: %v", ocierrors.ErrInvalidJSON, err)
	}
	return cfg.Layers, nil
}

// Unpack extracts every gzip-tar layer into dest. If overwrite is
// false, Unpack refuses to clobber an existing file. Extraction uses
// filepath-securejoin so a maliciously crafted tar entry cannot escape
// dest (spec.md §7: untrusted archive content is never trusted with
// raw path joins). Each ocipkg layer blob is also written, keyed by
// digest, into an ".oci-dir" directory adjacent to dest. Nothing in
// this package reads that directory back: every Unpack fetches its
// layers from the image.
func (r *Reader) Unpack(dest string, overwrite bool) error {
	layers, err := r.artifact.GetLayers()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	cacheDir := filepath.Join(filepath.Dir(filepath.Clean(dest)), ".oci-dir")

	for _, layer := range layers {
		if layer.Descriptor.MediaType != mediatype.OcipkgLayer {
			continue
		}
		d, err := image.FromOCIDigest(layer.Descriptor.Digest)
		if err != nil {
			return err
		}
		if _, _, err := ocidir.PutBlob(cacheDir, layer.Data); err != nil {
			return fmt.Errorf("cache layer %s: %w", d, err)
		}
		if err := unpackLayer(layer.Data, dest, overwrite); err != nil {
			return fmt.Errorf("unpack layer %s: %w", d, err)
		}
	}
	return nil
}

func unpackLayer(blob []byte, dest string, overwrite bool) error {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		target, err := securejoin.SecureJoin(dest, header.Name)
		if err != nil {
			return fmt.Errorf("resolve safe path for %s: %w", header.Name, err)
		}
		if !overwrite {
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%w: %s", ocierrors.ErrImageAlreadyExists, target)
			}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent directory for %s: %w", target, err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", target, err)
		}
	}
}
