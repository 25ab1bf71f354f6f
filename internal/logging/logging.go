// Package logging builds the zap loggers used by the daemon and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a logger.
type Options struct {
	Level      string    // debug | info | warn | error
	File       string    // Rotated log file; empty disables file output
	MaxSizeMB  int       // Rotate after this size
	MaxBackups int       // Rotated files kept
	MaxAgeDays int       // Rotated files older than this are removed
	Console    io.Writer // Optional second sink, e.g. os.Stderr in the foreground
}

// New builds a JSON logger with ISO8601 time keys that writes to a rotating file
// and, optionally, to Console. The returned close func flushes and closes the file.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(levelOrDefault(opts.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	var rotator *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}
	if opts.Console != nil {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(opts.Console), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), func() error { return nil }, nil
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() error {
		_ = logger.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

// CLI returns a stderr logger when verbose, otherwise a no-op logger.
func CLI(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, _, err := New(Options{Level: "debug", Console: os.Stderr})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}
