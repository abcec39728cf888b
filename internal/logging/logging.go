// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - LOG_FILE env var for rotating file output
// - Source file:line info with shortened relative paths
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a new configured logger.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. TTY detection (text for TTY, JSON otherwise)
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info).
// When LOG_FILE is set, output goes to a size-rotated file and defaults to JSON.
func New() *slog.Logger {
	var handler slog.Handler

	out, toFile := output()
	logFormat := os.Getenv("LOG_FORMAT")
	useText := logFormat == "text" || (logFormat == "" && !toFile && isatty(os.Stdout))

	// Get working directory for relative path calculation
	wd, _ := os.Getwd()

	// Parse log level from env var
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten source paths to be relative
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					// Try to make the path relative to working directory
					if rel, err := filepath.Rel(wd, src.File); err == nil {
						src.File = rel
					} else {
						// Fallback: just use the filename
						src.File = filepath.Base(src.File)
					}
				}
			}
			return a
		},
	}

	if useText {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

// output returns the log destination. LOG_FILE switches from stdout to a
// rotating file so a long-running crawl daemon cannot fill the disk.
func output() (io.Writer, bool) {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		return os.Stdout, false
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    envInt("LOG_MAX_SIZE_MB", 50),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 5),
		MaxAge:     envInt("LOG_MAX_AGE_DAYS", 14),
		Compress:   true,
	}, true
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// SetDefault creates a new logger and sets it as the default slog logger.
// Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
