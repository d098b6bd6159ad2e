package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "pull", cfg.Mode)
	assert.Equal(t, ".", cfg.Dest)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("OCIPKGD_IMAGE", "example.com/repo:tag")
	t.Setenv("OCIPKGD_MODE", "build")
	t.Setenv("OCIPKGD_PATHS", "a.txt,b.txt")

	cfg := Load()
	assert.Equal(t, "example.com/repo:tag", cfg.Image)
	assert.Equal(t, "build", cfg.Mode)
	assert.Equal(t, "a.txt,b.txt", cfg.Paths)
}
