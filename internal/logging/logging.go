// Package logging configures the structured logger shared by the engine,
// the distributed coordinator and worker processes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration
type Config struct {
	Level     string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format    string `json:"format" yaml:"format"` // json, text
	AddSource bool   `json:"add_source" yaml:"add_source"`
}

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to w.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Init installs a logger writing to stderr as the package and slog default.
func Init(cfg Config) *slog.Logger {
	l := New(os.Stderr, cfg)
	Set(l)
	slog.SetDefault(l)
	return l
}

// Set replaces the package logger.
func Set(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Get returns the package logger. Until Init or Set is called it discards
// everything, so library use stays silent.
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

type runIDKey struct{}

// WithRunID returns a context carrying the id of a pass.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// FromContext returns l annotated with the run id carried by ctx, if any.
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	id, ok := ctx.Value(runIDKey{}).(string)
	if !ok || id == "" {
		return l
	}
	return l.With("run_id", id)
}
