// Package logger provides structured logging with per-subsystem
// levels, adapted from the teacher's lib/logger with the
// OpenTelemetry trace-context integration removed: this module has no
// distributed tracing surface to correlate against (see DESIGN.md's
// dropped-dependencies table), so logs carry a subsystem attribute
// only.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

// Subsystem names for per-subsystem logging configuration.
const (
	SubsystemDigest       = "DIGEST"
	SubsystemImageName    = "IMAGENAME"
	SubsystemAuth         = "AUTH"
	SubsystemDistribution = "DISTRIBUTION"
	SubsystemImage        = "IMAGE"
	SubsystemArchive      = "ARCHIVE"
	SubsystemDir          = "DIR"
	SubsystemRemote       = "REMOTE"
	SubsystemArtifact     = "ARTIFACT"
	SubsystemOcipkg       = "OCIPKG"
	SubsystemRunnable     = "RUNNABLE"
	SubsystemStore        = "STORE"
	SubsystemCopy         = "COPY"
)

var allSubsystems = []string{
	SubsystemDigest, SubsystemImageName, SubsystemAuth, SubsystemDistribution,
	SubsystemImage, SubsystemArchive, SubsystemDir, SubsystemRemote,
	SubsystemArtifact, SubsystemOcipkg, SubsystemRunnable, SubsystemStore,
	SubsystemCopy,
}

// Config holds logging configuration.
type Config struct {
	// DefaultLevel is the default log level for all subsystems.
	DefaultLevel slog.Level
	// SubsystemLevels maps subsystem names to their specific log levels.
	// If a subsystem is not in this map, DefaultLevel is used.
	SubsystemLevels map[string]slog.Level
	// AddSource adds source file information to log entries.
	AddSource bool
}

// NewConfig creates a Config from environment variables.
// Reads LOG_LEVEL for default level and LOG_LEVEL_<SUBSYSTEM> for per-subsystem levels.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		AddSource:       false,
	}

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		cfg.DefaultLevel = parseLevel(levelStr)
	}

	for _, subsystem := range allSubsystems {
		envKey := "LOG_LEVEL_" + subsystem
		if levelStr := os.Getenv(envKey); levelStr != "" {
			cfg.SubsystemLevels[subsystem] = parseLevel(levelStr)
		}
	}

	return cfg
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFor returns the log level for the given subsystem.
func (c Config) LevelFor(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

// NewLogger creates a new slog.Logger with JSON output.
func NewLogger(cfg Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.DefaultLevel,
		AddSource: cfg.AddSource,
	}))
}

// NewSubsystemLogger creates a logger for a specific subsystem at its
// configured level, tagged with a "subsystem" attribute.
func NewSubsystemLogger(subsystem string, cfg Config) *slog.Logger {
	level := cfg.LevelFor(subsystem)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	})
	return slog.New(handler).With("subsystem", subsystem)
}

// AddToContext adds a logger to the context.
func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or returns default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With returns a logger with additional attributes.
func With(logger *slog.Logger, args ...any) *slog.Logger {
	return logger.With(args...)
}
