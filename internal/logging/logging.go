// Package logging builds the process-wide slog logger and carries job
// correlation IDs through contexts.
//
// Output format follows LOG_FORMAT (text/json) when set, otherwise text on
// a TTY and JSON elsewhere. LOG_LEVEL selects the minimum level
// (debug/info/warn/error, default info).
package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// New creates a configured logger with source locations shortened to
// paths relative to the working directory.
func New() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	useText := logFormat == "text" || (logFormat == "" && isatty(os.Stdout))

	wd, _ := os.Getwd()

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(os.Getenv("LOG_LEVEL")),
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					if rel, err := filepath.Rel(wd, src.File); err == nil {
						src.File = rel
					} else {
						src.File = filepath.Base(src.File)
					}
				}
			}
			return a
		},
	}

	if useText {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

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

// SetDefault creates a logger and installs it as the slog default.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
