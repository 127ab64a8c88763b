package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Context key for storing logger
type contextKey string

const loggerContextKey contextKey = "cf-support-logger"

// LogFileName is the name of the run log, both in the log directory and inside a bundle.
const LogFileName = "cf-support.log"

// ValidLogLevels contains all supported log levels
var ValidLogLevels = map[string]logrus.Level{
	"debug":   logrus.DebugLevel,
	"info":    logrus.InfoLevel,
	"warning": logrus.WarnLevel,
	"error":   logrus.ErrorLevel,
}

// ParseLogLevel converts string log level to logrus.Level with validation
func ParseLogLevel(level string) (logrus.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if lvl, ok := ValidLogLevels[normalized]; ok {
		return lvl, nil
	}
	return logrus.InfoLevel, fmt.Errorf("invalid log level '%s'. Valid levels are: debug, info, warning, error", level)
}

// SetupLogger creates a logger with the given level and optional log directory
// and stores it in the returned context.
func SetupLogger(ctx context.Context, level, logDir string) context.Context {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	logLevel, err := ParseLogLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v. Using 'info' level as default.\n", err)
	}
	logger.SetLevel(logLevel)

	logger.SetReportCaller(logLevel == logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return fmt.Sprintf("[%s:%d]", filepath.Base(f.File), f.Line), ""
		},
	})

	if logDir != "" {
		if _, err := TeeToFile(logger, filepath.Join(logDir, LogFileName)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to setup log file in directory '%s': %v. Logging to console only.\n", logDir, err)
		}
	}

	return context.WithValue(ctx, loggerContextKey, logger)
}

// TeeToFile makes the logger write to path in addition to its current output.
// The returned closer stops writing to the file and restores the previous output.
func TeeToFile(logger *logrus.Logger, path string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", path, err)
	}

	previous := logger.Out
	logger.SetOutput(io.MultiWriter(previous, file))
	return &teeCloser{logger: logger, previous: previous, file: file}, nil
}

type teeCloser struct {
	logger   *logrus.Logger
	previous io.Writer
	file     *os.File
}

func (t *teeCloser) Close() error {
	t.logger.SetOutput(t.previous)
	return t.file.Close()
}

// GetLoggerFromContext retrieves the logger from context
func GetLoggerFromContext(ctx context.Context) *logrus.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*logrus.Logger); ok {
		return logger
	}
	// Fallback to default logger if not found in context
	return logrus.New()
}

// WithLogger stores an existing logger in the context.
func WithLogger(ctx context.Context, logger *logrus.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}
