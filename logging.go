package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Two output streams, two jobs. Tutorial narration (the step-by-step
// progress a person reads while training runs) goes to stdout via fmt.
// Operational events (backend selection, downloads, checkpoint writes,
// server requests) go through zap so they carry structured fields and
// survive being piped into log collectors.

// zlog is the process-wide structured logger. It starts as a nop so that
// library-style use (and tests) stay silent until SetupLogging runs.
var zlog = zap.NewNop().Sugar()

// SetupLogging builds the structured logger. verbose drops the level to
// debug. Call once from main before any subcommand runs.
func SetupLogging(verbose bool) error {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.LevelKey = "level"

	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	zlog = logger.Sugar()
	return nil
}

// SyncLogging flushes buffered log entries. Deferred from main;
// the error is ignored because stderr cannot be synced on some platforms.
func SyncLogging() {
	_ = zlog.Sync()
}
