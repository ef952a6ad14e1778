package app

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/batchsettle/internal/config"
)

// ParseLevel maps a config log level to its slog level. Unknown values are
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the JSON logger the daemon runs with. When lf.Path is set
// every record is also written to a size-rotated file; the returned closer
// releases it and is a no-op otherwise.
func NewLogger(stdout io.Writer, level string, lf config.LogFileConfig) (*slog.Logger, io.Closer) {
	out := stdout
	var closer io.Closer = nopCloser{}
	if lf.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   lf.Path,
			MaxSize:    lf.MaxSizeMB,
			MaxBackups: lf.MaxBackups,
			MaxAge:     lf.MaxAgeDays,
			Compress:   lf.Compress,
		}
		out = io.MultiWriter(stdout, rotated)
		closer = rotated
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(level)})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
