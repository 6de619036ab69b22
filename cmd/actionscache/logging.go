package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/richardartoul/actionscache/pkg/config"
)

// newLogger builds the process logger. Stdout carries the command protocol,
// so logs go to stderr unless a log file is configured, in which case they
// are written as JSON to a rotating file.
func newLogger(cfg *config.Config, debug bool) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	if debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if cfg.LogFilePath == "" {
		return slog.New(slog.NewTextHandler(stdErr, handlerOpts)), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		fmt.Fprintf(stdErr, "logger_fallback: %v\n", err)
		return slog.New(slog.NewTextHandler(stdErr, handlerOpts)), io.NopCloser(nil), nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   true,
		LocalTime:  true,
	}
	return slog.New(slog.NewJSONHandler(rotator, handlerOpts)), rotator, nil
}
