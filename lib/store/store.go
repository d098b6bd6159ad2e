// Package store implements the local store of spec.md §4.11: a
// process-wide base directory resolved from XDG conventions, per-image
// directories keyed by the filesystem-safe encoding of lib/imagename,
// and a staging-directory helper for atomic unpack-then-rename flows.
// Grounded on original_source/ocipkg/src/local/mod.rs's data_dir/
// image_dir/get_image_list, ported from directories::ProjectDirs'
// one-shot OnceLock to sync.Once.
package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nrednav/cuid2"
	"github.com/samber/lo"

	"github.com/ocipkg/ocipkg/lib/imagename"
)

const projectName = "ocipkg"

var (
	baseDirOnce sync.Once
	baseDir     string
	baseDirErr  error
)

// SetBaseDir overrides the process-wide base directory. Only takes
// effect if called before the first resolution (via BaseDir, ImageDir,
// or GetImageList); once resolved, later calls are silently ignored
// (spec.md §4.11: one-shot initialization).
func SetBaseDir(dir string) {
	baseDirOnce.Do(func() {
		baseDir = dir
	})
}

// BaseDir resolves, once per process, the root directory images are
// stored under: $XDG_DATA_HOME/ocipkg if set, else
// ~/.local/share/ocipkg.
func BaseDir() (string, error) {
	baseDirOnce.Do(func() {
		baseDir, baseDirErr = resolveBaseDir()
	})
	return baseDir, baseDirErr
}

func resolveBaseDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, projectName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve local store base directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", projectName), nil
}

// ImageDir returns the directory an image is (or would be) stored
// under: base/<name.AsPath()>.
func ImageDir(name imagename.ImageName) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.FromSlash(name.AsPath())), nil
}

type walkedDir struct {
	path string
	name string
}

// GetImageList walks the store and returns every image name found:
// every directory whose own name is the "__<encoded-reference>"
// leaf segment of an AsPath()-encoded image, decoded back via
// imagename.FromPath.
func GetImageList() ([]imagename.ImageName, error) {
	base, err := BaseDir()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}

	var dirs []walkedDir
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != base {
			dirs = append(dirs, walkedDir{path: path, name: d.Name()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk local store: %w", err)
	}

	refDirs := lo.Filter(dirs, func(d walkedDir, _ int) bool {
		return strings.HasPrefix(d.name, "__")
	})

	images := make([]imagename.ImageName, 0, len(refDirs))
	for _, d := range refDirs {
		rel, err := filepath.Rel(base, d.path)
		if err != nil {
			return nil, fmt.Errorf("relativize %s: %w", d.path, err)
		}
		name, err := imagename.FromPath(filepath.ToSlash(rel))
		if err != nil {
			return nil, fmt.Errorf("parse image path %s: %w", rel, err)
		}
		images = append(images, name)
	}
	return images, nil
}

// NewStagingDir creates a fresh, uniquely named directory under the
// store's base for staging an in-progress unpack before it is renamed
// into place atomically, avoiding a half-written image_dir becoming
// visible to concurrent readers.
func NewStagingDir() (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, ".staging", cuid2.Generate())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return dir, nil
}

// Promote atomically renames a staging directory (from NewStagingDir)
// into place as the image's directory.
func Promote(stagingDir string, name imagename.ImageName) error {
	dest, err := ImageDir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dest, err)
	}
	if err := os.Rename(stagingDir, dest); err != nil {
		return fmt.Errorf("promote staging dir into %s: %w", dest, err)
	}
	return nil
}
