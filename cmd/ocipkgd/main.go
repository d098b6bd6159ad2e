// Command ocipkgd is a minimal demo entrypoint: given an image name
// and a mode in the environment, it either pulls an artifact from a
// registry into the local store and unpacks it, or packs local files
// into the local store and pushes them to a registry. It deliberately
// has no flag parser (spec.md §1's Non-goals exclude a full CLI); the
// wiring shape follows the teacher's cmd/api/main.go run() pattern.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ocipkg/ocipkg/cmd/ocipkgd/config"
	"github.com/ocipkg/ocipkg/lib/image"
	"github.com/ocipkg/ocipkg/lib/imagename"
	"github.com/ocipkg/ocipkg/lib/logger"
	"github.com/ocipkg/ocipkg/lib/ocidir"
	"github.com/ocipkg/ocipkg/lib/ocipkg"
	"github.com/ocipkg/ocipkg/lib/remote"
	"github.com/ocipkg/ocipkg/lib/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("ocipkgd exiting normally")
}

func run() error {
	cfg := config.Load()

	logCfg := logger.NewConfig()
	log := logger.NewSubsystemLogger(logger.SubsystemOcipkg, logCfg)
	slog.SetDefault(log)

	log.Info("starting ocipkgd", "version", cfg.Version, "mode", cfg.Mode)

	if cfg.StoreBaseDir != "" {
		store.SetBaseDir(cfg.StoreBaseDir)
	}

	if cfg.Image == "" {
		return fmt.Errorf("OCIPKGD_IMAGE is required")
	}
	name, err := imagename.Parse(cfg.Image)
	if err != nil {
		return fmt.Errorf("parse OCIPKGD_IMAGE: %w", err)
	}

	switch cfg.Mode {
	case "pull":
		return runPull(name, cfg.Dest)
	case "build":
		return runBuild(name, cfg.Paths)
	default:
		return fmt.Errorf("unknown OCIPKGD_MODE %q (want \"pull\" or \"build\")", cfg.Mode)
	}
}

// runPull fetches name from its registry, copies it into a staging
// directory, unpacks its files into dest, and promotes the staging
// directory into the local store only after both have succeeded.
func runPull(name imagename.ImageName, dest string) error {
	src, err := remote.Open(name)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", name, err)
	}

	staging, err := store.NewStagingDir()
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	local, err := ocidir.Create(staging)
	if err != nil {
		return fmt.Errorf("create local store layout: %w", err)
	}
	built, err := image.Copy(src, local)
	if err != nil {
		return fmt.Errorf("copy %s into local store: %w", name, err)
	}

	reader := ocipkg.NewReader(built)
	if err := reader.Unpack(dest, true); err != nil {
		return fmt.Errorf("unpack %s into %s: %w", name, dest, err)
	}

	if err := promoteStaging(staging, name); err != nil {
		return err
	}
	slog.Info("unpacked image", "image", name.String(), "dest", dest)
	return nil
}

// promoteStaging replaces name's local store directory with staging in
// two steps: it removes any stale copy left from a previous run, then
// renames staging into place.
func promoteStaging(staging string, name imagename.ImageName) error {
	localDir, err := store.ImageDir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(localDir); err == nil {
		if err := os.RemoveAll(localDir); err != nil {
			return fmt.Errorf("clear stale local copy: %w", err)
		}
	}
	if err := store.Promote(staging, name); err != nil {
		return fmt.Errorf("promote staged copy of %s: %w", name, err)
	}
	return nil
}

// runBuild packs paths as an ocipkg artifact in the local store and
// pushes the result to name's registry.
func runBuild(name imagename.ImageName, pathsCSV string) error {
	if pathsCSV == "" {
		return fmt.Errorf("OCIPKGD_PATHS is required in build mode")
	}
	paths := strings.Split(pathsCSV, ",")

	staging, err := store.NewStagingDir()
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	local, err := ocidir.Create(staging)
	if err != nil {
		return fmt.Errorf("create local store layout: %w", err)
	}
	builder := ocipkg.NewBuilder(local)
	if err := builder.AppendFiles(paths); err != nil {
		return fmt.Errorf("pack files: %w", err)
	}
	built, err := builder.Build(name)
	if err != nil {
		return fmt.Errorf("build local artifact: %w", err)
	}

	dst, err := remote.Open(name)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", name, err)
	}
	if _, err := image.Copy(built, dst); err != nil {
		return fmt.Errorf("push %s: %w", name, err)
	}

	if err := promoteStaging(staging, name); err != nil {
		return err
	}
	slog.Info("pushed image", "image", name.String(), "paths", paths)
	return nil
}
