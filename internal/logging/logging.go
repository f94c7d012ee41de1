// Package logging builds the process-wide structured logger. It is
// constructed once in cmd/xeondb and threaded down into the executor and
// server rather than referenced as a package global; the catalog and the
// storage engine take no logger.
package logging

import (
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where and how logs are written.
type Options struct {
	// FilePath, if non-empty, routes logs through a rotating file writer.
	// Empty means stderr only.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Debug      bool
}

// New builds a *zap.Logger writing JSON lines, optionally rotated through
// lumberjack. Falls back to stderr when FilePath is empty.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer
	if opts.FilePath != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    maxOr(opts.MaxSizeMB, 100),
			MaxBackups: maxOr(opts.MaxBackups, 5),
			MaxAge:     maxOr(opts.MaxAgeDays, 28),
		})
	} else {
		ws = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, level)
	return zap.New(core), nil
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
