package logger

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaultsToInfo(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelInfo, cfg.LevelFor(SubsystemArtifact))
}

func TestNewConfigReadsSubsystemOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL_"+SubsystemOcipkg, "debug")

	cfg := NewConfig()
	assert.Equal(t, slog.LevelWarn, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor(SubsystemOcipkg))
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor(SubsystemRemote))
}

func TestContextRoundTrip(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := AddToContext(context.Background(), base)
	assert.Same(t, base, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestNewSubsystemLoggerTagsSubsystem(t *testing.T) {
	cfg := NewConfig()
	l := NewSubsystemLogger(SubsystemStore, cfg)
	assert.NotNil(t, l)
}
