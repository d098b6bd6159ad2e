// Package runnable implements the Runnable Artifact of spec.md §4.10:
// wrapping a single statically linked ELF executable as an OCI
// artifact with a synthesized image config (architecture, OS,
// entrypoint) so the result can be pulled and, in principle, run by
// anything that understands a plain OCI image layer. There is no
// original_source analogue for this module; it is built directly from
// spec.md's field mapping, following lib/artifact's descriptor-
// building idiom.
package runnable

import (
	"archive/tar"
	"bytes"
	"debug/elf"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	godigest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocipkg/ocipkg/lib/artifact"
	"github.com/ocipkg/ocipkg/lib/image"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/mediatype"
)

// ArtifactType identifies a runnable artifact's manifest.
const ArtifactType = "application/vnd.ocipkg.v1.runnable"

// Builder wraps a single ELF executable as a runnable artifact. At
// most one executable may be appended per builder (spec.md §4.10).
type Builder struct {
	artifact *artifact.Artifact
	appended bool
}

// NewBuilder wraps b as a runnable-artifact builder.
func NewBuilder(b image.Builder) *Builder {
	return &Builder{artifact: artifact.New(b, ArtifactType)}
}

// AppendExecutable parses path as ELF, rejects it if dynamically
// linked or of an unsupported machine/OS-ABI, and packs it as the
// artifact's single layer plus a synthesized image config.
func (b *Builder) AppendExecutable(path string) error {
	if b.appended {
		return fmt.Errorf("runnable artifact already has an executable")
	}

	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("parse ELF %s: %w", path, err)
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type == elf.PT_INTERP {
			return fmt.Errorf("%s is dynamically linked (has an interpreter segment); runnable artifacts require static binaries", path)
		}
	}

	arch, err := mapMachine(f.Machine)
	if err != nil {
		return err
	}
	os_, err := mapOSABI(f.OSABI)
	if err != nil {
		return err
	}

	info, err := osStat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	base := filepath.Base(path)

	layerData, err := buildLayerTar(path, base, info)
	if err != nil {
		return err
	}
	layerDigest, err := b.artifact.AddLayer(mediatype.ImageLayer, layerData)
	if err != nil {
		return fmt.Errorf("add executable layer: %w", err)
	}

	config := ocispec.Image{
		Architecture: arch,
		OS:           os_,
		Config: ocispec.ImageConfig{
			Entrypoint: []string{"/" + base},
			WorkingDir: "/",
		},
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: []godigest.Digest{image.ToOCIDigest(layerDigest)},
		},
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal image config: %w", err)
	}
	if err := b.artifact.AddConfig(mediatype.ImageConfig, configJSON); err != nil {
		return fmt.Errorf("add image config: %w", err)
	}

	b.appended = true
	return nil
}

// Build finalizes the manifest.
func (b *Builder) Build(name imagename.ImageName) (image.Image, error) {
	if !b.appended {
		return nil, fmt.Errorf("runnable artifact has no executable appended")
	}
	return b.artifact.Build(name)
}

func osStat(path string) (os.FileInfo, error) { return os.Stat(path) }

func buildLayerTar(srcPath, name string, info os.FileInfo) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Format:   tar.FormatGNU,
		Name:     name,
		Size:     info.Size(),
		Mode:     0o755,
		ModTime:  time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return nil, fmt.Errorf("write executable into tar: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return buf.Bytes(), nil
}

func mapMachine(m elf.Machine) (string, error) {
	switch m {
	case elf.EM_X86_64:
		return "amd64", nil
	case elf.EM_AARCH64:
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported ELF machine: %s", m)
	}
}

func mapOSABI(abi elf.OSABI) (string, error) {
	switch abi {
	case elf.ELFOSABI_NONE, elf.ELFOSABI_LINUX:
		return "linux", nil
	default:
		return "", fmt.Errorf("unsupported ELF OS/ABI: %s", abi)
	}
}
