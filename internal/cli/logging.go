package cli

import (
	"io"
	"log/slog"

	"github.com/galileoChr/ai-model-builder-app/internal/config"
)

// setupLogging installs the default slog logger for cfg; verbose forces debug.
func setupLogging(cfg config.LogConfig, verbose bool, w io.Writer) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
