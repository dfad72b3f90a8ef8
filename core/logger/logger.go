// Package logger provides the structured logging surface used across
// the event pipeline. It wraps a zap.SugaredLogger with the small set
// of methods the pipeline actually calls.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the surface every component in core/services/events logs
// through. Keeping it an interface lets tests substitute a no-op or a
// recording implementation without dragging zap into every test file.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Infof(format string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorf(format string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Tracew(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})

	Named(name string) Logger

	// Sync flushes any buffered log entries. Callers should combine its
	// error with other shutdown errors (e.g. via go.uber.org/multierr)
	// rather than letting it mask them.
	Sync() error
}

type zapLogger struct {
	sl *zap.SugaredLogger
}

// New builds a production-configured JSON logger at the given level,
// matching the verbosity knob chainlink's own core/logger exposes.
func New(level zapcore.Level) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sl: base.Sugar()}, nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() Logger {
	return &zapLogger{sl: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(args ...interface{})                      { l.sl.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})      { l.sl.Debugf(format, args...) }
func (l *zapLogger) Debugw(msg string, kvs ...interface{})          { l.sl.Debugw(msg, kvs...) }
func (l *zapLogger) Infof(format string, args ...interface{})       { l.sl.Infof(format, args...) }
func (l *zapLogger) Infow(msg string, kvs ...interface{})           { l.sl.Infow(msg, kvs...) }
func (l *zapLogger) Warn(args ...interface{})                       { l.sl.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})       { l.sl.Warnf(format, args...) }
func (l *zapLogger) Warnw(msg string, kvs ...interface{})           { l.sl.Warnw(msg, kvs...) }
func (l *zapLogger) Errorf(format string, args ...interface{})      { l.sl.Errorf(format, args...) }
func (l *zapLogger) Errorw(msg string, kvs ...interface{})          { l.sl.Errorw(msg, kvs...) }
func (l *zapLogger) Tracew(msg string, kvs ...interface{})          { l.sl.Debugw(msg, kvs...) }
func (l *zapLogger) Fatal(args ...interface{})                      { l.sl.Fatal(args...) }
func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{sl: l.sl.Named(name)}
}
func (l *zapLogger) Sync() error { return l.sl.Sync() }
