// Package logging provides the bridge's structured, stderr-only logger.
//
// It wraps go.uber.org/zap (the teacher's logging dependency) with the two
// wire formats spec.md §6 requires: a human-friendly text form
// "HH:MM:SS.mmm LEVEL [component:server] message k=v …" and a
// one-JSON-object-per-line form. The level is held in a zap.AtomicLevel so a
// config reload that changes logLevel takes effect on every already-built
// child logger without reconstructing them.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the on-wire log line format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Logger is a thin, child-friendly wrapper around *zap.Logger.
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New builds the process-wide root logger. All output goes to stderr;
// stdout is reserved for the downstream MCP STDIO transport.
func New(levelName string, format Format) (*Logger, error) {
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(level)

	var encoder zapcore.Encoder
	switch format {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(jsonEncoderConfig())
	default:
		encoder = newTextEncoder()
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atom)
	z := zap.New(core)

	return &Logger{z: z, level: atom}, nil
}

// SetLevel atomically changes the level of this logger and every child
// derived from it (they share the same zap.AtomicLevel), satisfying the
// "config reload that changes logLevel takes effect everywhere immediately"
// requirement from spec.md §9.
func (l *Logger) SetLevel(levelName string) error {
	level, err := parseLevel(levelName)
	if err != nil {
		return err
	}
	l.level.SetLevel(level)
	return nil
}

// With returns a child logger that merges component/server context into
// every subsequent log line, e.g. [upstream:linear].
func (l *Logger) With(component, server string) *Logger {
	fields := []zap.Field{zap.String("component", component)}
	if server != "" {
		fields = append(fields, zap.String("server", server))
	}
	return &Logger{z: l.z.With(fields...), level: l.level}
}

// WithFields returns a child logger with arbitrary additional key=value
// fields merged into its default context.
func (l *Logger) WithFields(kv ...any) *Logger {
	return &Logger{z: l.z.Sugar().With(kv...).Desugar(), level: l.level}
}

func (l *Logger) Debug(msg string, kv ...any) { l.z.Sugar().Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.z.Sugar().Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.z.Sugar().Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.z.Sugar().Errorw(msg, kv...) }

// Sync flushes any buffered log entries. Errors from syncing stderr are
// expected on some platforms and are intentionally ignored by callers.
func (l *Logger) Sync() error { return l.z.Sync() }

func parseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (want debug, info, warn, or error)", name)
	}
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.LevelKey = "level"
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
