package trihard

import (
	"context"
	"log/slog"
	"os"

	"github.com/embedkit/trihard/experiment"
)

// Logger wraps slog.Logger with training-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRunID adds the run ID field to the logger.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run_id", id),
	}
}

// LogCheckpoint logs a checkpoint save.
func (l *Logger) LogCheckpoint(ctx context.Context, iteration uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"iteration", iteration,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"iteration", iteration,
		)
	}
}

// LogResume logs a resumed run.
func (l *Logger) LogResume(ctx context.Context, iteration uint64, runID string) {
	l.InfoContext(ctx, "resuming run",
		"iteration", iteration,
		"run_id", runID,
	)
}

// LogConflicts warns about every argument the persisted run overrides.
func (l *Logger) LogConflicts(ctx context.Context, conflicts []experiment.Conflict) {
	for _, c := range conflicts {
		l.WarnContext(ctx, "persisted argument overrides supplied value",
			"field", c.Field,
			"persisted", c.Persisted,
			"supplied", c.Supplied,
		)
	}
}
