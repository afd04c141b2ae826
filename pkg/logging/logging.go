// Package logging builds the structured logger shared by the server binary
// and its subsystems.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the logger writes.
type Config struct {
	// Verbosity is one of "debug", "info", "warn", "error".
	Verbosity string
	// File is the log file path. Empty means stderr only.
	File string
	// MaxSizeMB is the size in megabytes at which the log file is rotated.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep.
	MaxBackups int
	// MaxAgeDays is how long to keep rotated files.
	MaxAgeDays int
}

// New builds a zap logger per cfg. When cfg.File is set, output is written
// through a lumberjack rolling writer in addition to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Verbosity)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		sinks = append(sinks, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()), nil
}
