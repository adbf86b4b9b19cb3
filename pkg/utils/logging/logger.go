// Package logging holds the process-wide slog setup. Commands write
// their results to stdout, so every handler built here targets stderr
// unless told otherwise.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
)

// Format selects the handler a logger is built with.
type Format int

const (
	// FormatConsole renders colored, human-oriented lines.
	FormatConsole Format = iota
	// FormatJSON emits one JSON object per record.
	FormatJSON
)

// ParseFormat maps a flag value to a Format. Unknown values fall back
// to console.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatConsole
}

// ParseLevel maps a flag value to a slog.Level. The second return
// reports whether the value was recognized; callers keep the info
// fallback either way.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// New builds a logger at the given level writing to w. A nil writer
// means stderr.
func New(level string, format Format, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	lv, ok := ParseLevel(level)

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	default:
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(lv),
			clog.WithTimeFmt("15:04:05"),
			clog.WithSource(false),
			clog.WithAttrHook(clog.GoerrHook),
		)
	}

	logger := slog.New(handler)
	if !ok {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

var (
	sharedMu sync.RWMutex
	shared   = New("info", FormatConsole, os.Stderr)
)

// Default returns the process-wide logger.
func Default() *slog.Logger {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	return shared
}

// SetDefault replaces the process-wide logger.
func SetDefault(logger *slog.Logger) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	shared = logger
}

type ctxKey struct{}

// With attaches a logger to the context.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger attached to the context, or the process-wide
// logger when none is attached.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
