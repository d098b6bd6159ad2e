// Package config loads ocipkgd's environment-variable configuration,
// following the teacher's cmd/api/config package: a .env file is
// loaded if present, then every field reads its own environment
// variable with a default. There is no flag parser here (spec.md §1
// scopes a full CLI out) — ocipkgd is a minimal demo entrypoint.
package config

import (
	"os"
	"runtime/debug"

	"github.com/joho/godotenv"
)

// Config holds ocipkgd's environment-driven configuration.
type Config struct {
	// Image is the "hostname/name:reference" to operate on.
	Image string
	// Mode selects the operation: "pull" (fetch + unpack) or "build"
	// (pack + push/store).
	Mode string
	// Paths is a comma-separated list of files to pack when Mode is
	// "build".
	Paths string
	// Dest is the directory to unpack into when Mode is "pull".
	Dest string
	// StoreBaseDir overrides the local store's base directory
	// (lib/store's one-shot XDG resolution); empty uses the default.
	StoreBaseDir string
	// LogLevel is the default slog level name (debug, info, warn, error).
	LogLevel string
	// Version is this build's version string.
	Version string
}

// Load reads configuration from the environment, loading a .env file
// first if one is present (fails silently if not).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Image:        getEnv("OCIPKGD_IMAGE", ""),
		Mode:         getEnv("OCIPKGD_MODE", "pull"),
		Paths:        getEnv("OCIPKGD_PATHS", ""),
		Dest:         getEnv("OCIPKGD_DEST", "."),
		StoreBaseDir: getEnv("OCIPKGD_STORE_DIR", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Version:      getEnv("VERSION", getBuildVersion()),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBuildVersion extracts version info from Go's embedded build
// info: git short hash plus "-dirty" if uncommitted, else "unknown".
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if revision == "" {
		return "unknown"
	}
	if len(revision) > 8 {
		revision = revision[:8]
	}
	if dirty {
		revision += "-dirty"
	}
	return revision
}
