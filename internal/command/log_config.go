package command

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joeycumines/jsbridge/internal/config"
)

// resolveLogger builds the logger for a command. Flag values take
// precedence, then the environment and config file, then the schema
// defaults (info, text).
func resolveLogger(flagLevel, flagFormat string, cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	schema := config.DefaultSchema()

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = schema.Resolve(cfg, config.KeyLogLevel)
	}
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", levelStr)
	}

	format := flagFormat
	if format == "" {
		format = schema.Resolve(cfg, config.KeyLogFormat)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}
