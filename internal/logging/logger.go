package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON slog logger on stdout at the provided level. If the
// level string is invalid it defaults to info.
func New(level string, attrs ...slog.Attr) *slog.Logger {
	return NewWithWriter(os.Stdout, level, attrs...)
}

// NewWithWriter is New with an explicit destination. Every record carries
// attrs, typically the service name and environment.
func NewWithWriter(w io.Writer, level string, attrs ...slog.Attr) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	if len(attrs) == 0 {
		return slog.New(handler)
	}
	return slog.New(handler.WithAttrs(attrs))
}

// ParseLevel maps debug, info, warn and error onto slog levels, falling back
// to info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
