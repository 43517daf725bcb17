package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger using slog.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Handy in tests where a
// component requires a logger but output is noise.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
