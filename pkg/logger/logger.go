// Package logger builds the zap loggers used across retrace.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option configures the logger built by New.
type Option func(*settings)

type settings struct {
	level   zapcore.Level
	json    bool
	writers []io.Writer
}

// WithDebug lowers the level to debug.
func WithDebug(debug bool) Option {
	return func(s *settings) {
		if debug {
			s.level = zap.DebugLevel
		}
	}
}

// WithJSON switches from console encoding to JSON, for log shippers.
func WithJSON(json bool) Option {
	return func(s *settings) { s.json = json }
}

// WithWriters replaces stdout with the given outputs.
func WithWriters(writers ...io.Writer) Option {
	return func(s *settings) { s.writers = writers }
}

// New builds the retrace logger. Defaults: console encoding, info level,
// stdout.
func New(opts ...Option) *zap.Logger {
	s := settings{level: zap.InfoLevel}
	for _, opt := range opts {
		opt(&s)
	}
	if len(s.writers) == 0 {
		s.writers = []io.Writer{os.Stdout}
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(s.writers))
	for _, w := range s.writers {
		syncers = append(syncers, zapcore.AddSync(w))
	}

	core := zapcore.NewCore(
		newEncoder(s.json),
		zapcore.NewMultiWriteSyncer(syncers...),
		s.level,
	)
	return zap.New(core, zap.AddCaller())
}

func newEncoder(json bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if json {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}
