// Package logger provides a thread-safe, levelled, structured logger backed
// by go.uber.org/zap.
//
// A Logger is created once at startup and handed to every component that
// needs one; components derive their own child with Named so log lines carry
// the emitting subsystem.  There is no package-level logger.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO, WARN and ERROR messages.
	LevelInfo
	// LevelWarn emits WARN and ERROR messages.
	LevelWarn
	// LevelError emits only ERROR messages.
	LevelError
)

func (lv Level) zap() zapcore.Level {
	switch lv {
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

// ParseLevel maps "debug", "info", "warn" and "error" (case-insensitive) to a
// Level.  The empty string maps to LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("logger: unknown level %q", s)
}

// Config selects the encoder and optional rotating file output.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"

	// File, when non-empty, receives a JSON copy of every entry through a
	// size-rotated writer.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Logger is a structured, levelled logger.
//
// Thread-safety: zap loggers are safe for concurrent use.  The level is a
// zap.AtomicLevel shared by the logger and all of its Named/With children, so
// SetLevel on any of them applies to the whole tree.
type Logger struct {
	z     *zap.Logger
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

// New creates a console Logger that writes to stderr at the given minimum
// level.
func New(level Level) *Logger {
	l, _ := NewWithConfig(Config{Format: "console"}, zapcore.Lock(os.Stderr))
	l.SetLevel(level)
	return l
}

// NewWithConfig builds a Logger from cfg.  Console output goes to console;
// cfg.File adds a rotating JSON sink.
func NewWithConfig(cfg Config, console zapcore.WriteSyncer) (*Logger, error) {
	lv, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(lv.zap())

	cores := []zapcore.Core{zapcore.NewCore(encoder(cfg.Format), console, level)}
	if cfg.File != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoder("json"), fileWriter, level))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{z: z, s: z.Sugar(), level: level}, nil
}

// FromZap wraps an existing zap logger, typically a zaptest/observer core in
// tests.  Level filtering is left to z's core.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{z: z, s: z.Sugar(), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger { return FromZap(zap.NewNop()) }

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	return zapcore.NewConsoleEncoder(ec)
}

// Named returns a child logger whose entries are tagged with name.
func (l *Logger) Named(name string) *Logger {
	z := l.z.Named(name)
	return &Logger{z: z, s: z.Sugar(), level: l.level}
}

// With returns a child logger that always attaches fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.z.With(fields...)
	return &Logger{z: z, s: z.Sugar(), level: l.level}
}

// WithOptions returns a child with opts applied, sharing l's level.
func (l *Logger) WithOptions(opts ...zap.Option) *Logger {
	z := l.z.WithOptions(opts...)
	return &Logger{z: z, s: z.Sugar(), level: l.level}
}

// SetLevel changes the minimum log level at runtime.  Safe for concurrent use.
func (l *Logger) SetLevel(level Level) { l.level.SetLevel(level.zap()) }

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, fields ...zap.Field) { l.z.Info(msg, fields...) }

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) { l.s.Infof(format, args...) }

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, fields ...zap.Field) { l.z.Warn(msg, fields...) }

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.s.Warnf(format, args...) }

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
