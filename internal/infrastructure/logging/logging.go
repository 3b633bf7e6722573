package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Init installs a text slog handler as the default logger and routes the
// standard logger through it. When a file is configured the returned closer
// owns the rotating file and must be closed on shutdown.
func Init(cfg Config) (io.Closer, error) {
	return initWithStdout(cfg, os.Stdout)
}

func initWithStdout(cfg Config, stdout io.Writer) (io.Closer, error) {
	level := parseLevel(cfg.Level)
	writers := []io.Writer{stdout}

	var rotating *lumberjack.Logger
	if strings.TrimSpace(cfg.File) != "" {
		rotating = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, rotating)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	stdLogger := slog.NewLogLogger(handler, level)
	log.SetFlags(0)
	log.SetOutput(stdLogger.Writer())

	if rotating == nil {
		return nopCloser{}, nil
	}
	return rotating, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
