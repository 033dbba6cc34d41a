// Package logging backs the Logger contract every mutable component in
// this module depends on: a minimal Debug/Info/Warn/Error interface
// with key-value args, backed by zap for structured output, lumberjack
// for rotation, and a redaction core that strips PII before anything
// reaches disk.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the contract every mutable component depends on.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; used as the zero-value default when
// no logger is supplied.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{}) {}
func (NoOpLogger) Info(string, ...interface{})  {}
func (NoOpLogger) Warn(string, ...interface{})  {}
func (NoOpLogger) Error(string, ...interface{}) {}

// Level is the configured minimum severity a logger emits.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// FileSink configures log rotation: rotate at a size threshold, retain
// at most N files, delete files older than a retention horizon.
type FileSink struct {
	Directory  string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config is the environment-driven logger configuration: log level and
// log directory are both read from environment variables at startup.
type Config struct {
	Level Level
	Sink  *FileSink // nil disables file output; stderr only
}

// zapLogger adapts *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger from Config. When cfg.Sink is set, output is
// written through a redaction core to a lumberjack-rotated file as well
// as stderr.
func New(cfg Config) (Logger, error) {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(newStderrSyncer())), level),
	}

	if cfg.Sink != nil {
		lj := &lumberjack.Logger{
			Filename:   cfg.Sink.path(),
			MaxSize:    cfg.Sink.MaxSizeMB,
			MaxBackups: cfg.Sink.MaxBackups,
			MaxAge:     cfg.Sink.MaxAgeDays,
			Compress:   cfg.Sink.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(lj), level))
	}

	core := redactingCore{zapcore.NewTee(cores...)}
	zl := zap.New(core)

	return &zapLogger{sugar: zl.Sugar()}, nil
}

func (s *FileSink) path() string {
	if s.Directory == "" {
		return s.Filename
	}
	return s.Directory + "/" + s.Filename
}

func parseLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *zapLogger) Debug(msg string, args ...interface{}) { z.sugar.Debugw(msg, args...) }
func (z *zapLogger) Info(msg string, args ...interface{})  { z.sugar.Infow(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...interface{})  { z.sugar.Warnw(msg, args...) }
func (z *zapLogger) Error(msg string, args ...interface{}) { z.sugar.Errorw(msg, args...) }
