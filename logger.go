package blockcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with blockcache-specific context.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithDevice adds a device id field to the logger.
func (l *Logger) WithDevice(dev uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("dev", dev),
	}
}

// LogFetch logs a Fetch. outcome is "hit", "evicted" or "stolen".
func (l *Logger) LogFetch(ctx context.Context, dev, blockno uint32, outcome string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fetch failed",
			"dev", dev,
			"block", blockno,
			"outcome", outcome,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fetch completed",
			"dev", dev,
			"block", blockno,
			"outcome", outcome,
		)
	}
}

// LogCommit logs a Commit.
func (l *Logger) LogCommit(ctx context.Context, dev, blockno uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"dev", dev,
			"block", blockno,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit completed",
			"dev", dev,
			"block", blockno,
		)
	}
}

// LogExhausted logs a Fetch that found no unreferenced buffer.
func (l *Logger) LogExhausted(ctx context.Context, dev, blockno uint32) {
	l.WarnContext(ctx, "no buffers",
		"dev", dev,
		"block", blockno,
	)
}

// LogDetach logs a Detach.
func (l *Logger) LogDetach(ctx context.Context, dev uint32, busy int, err error) {
	if err != nil {
		l.WarnContext(ctx, "detach failed",
			"dev", dev,
			"busy", busy,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "device detached",
			"dev", dev,
		)
	}
}
