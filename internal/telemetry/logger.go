package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/VCBorges/automatizai-challenge/internal/config"
)

// NewLogger builds the process logger: text in dev, JSON elsewhere unless
// LOG_FORMAT says otherwise.
func NewLogger(cfg config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	format := strings.ToLower(cfg.LogFormat)
	if format == "" {
		format = "json"
		if cfg.IsDev() {
			format = "text"
		}
	}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "analysis", "env", cfg.Env)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
