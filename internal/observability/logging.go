package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects level, format and destination for the process logger.
type LogConfig struct {
	Level  string
	Format string
	// File switches output to a size-rotated file when non-empty.
	File string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ConfigureLogger applies cfg to logger. The returned closer flushes the
// rotated log file, if any, and must be closed on shutdown.
func ConfigureLogger(logger *log.Logger, cfg LogConfig) (io.Closer, error) {
	level, err := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q not supported", cfg.Format)
	}

	if cfg.File == "" {
		logger.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	logger.SetOutput(rotator)
	return rotator, nil
}
