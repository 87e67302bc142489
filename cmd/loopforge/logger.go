package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/redact"
)

// setupLogger builds the driver's logger: a human-readable (or JSON, under
// --json-log) handler to stderr, fanned out with a lumberjack-rotated file
// handler at logPath, both wrapped in redact.Writer so secrets that pass
// through the assistant or research children never reach a log line.
// The returned closer closes the file writer on exit.
func setupLogger(rotation config.LogRotationConfig, logPath string, jsonLog, verbose bool) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}

	dest := io.MultiWriter(redact.NewWriter(os.Stderr), redact.NewWriter(fileWriter))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonLog {
		handler = slog.NewJSONHandler(dest, opts)
	} else {
		handler = slog.NewTextHandler(dest, opts)
	}

	return slog.New(handler), fileWriter
}
