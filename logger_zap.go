package thingshadow

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to the Logger interface.
type ZapLogger struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// NewZapLogger wraps an existing zap logger. The level only filters calls made
// through the adapter; the core keeps its own level too.
func NewZapLogger(base *zap.Logger, level LogLevel) *ZapLogger {
	return &ZapLogger{
		base:  base,
		level: zap.NewAtomicLevelAt(toZapLevel(level)),
	}
}

// NewConsoleZapLogger builds a console-encoded zap logger on stdout.
func NewConsoleZapLogger(level LogLevel) *ZapLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	atom := zap.NewAtomicLevelAt(toZapLevel(level))
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stdout), atom)

	return &ZapLogger{base: zap.New(core), level: atom}
}

// Debug, Info, Warn and Error write one entry with fields as zap fields.
func (z *ZapLogger) Debug(msg string, fields LogFields) { z.write(zapcore.DebugLevel, msg, fields) }
func (z *ZapLogger) Info(msg string, fields LogFields)  { z.write(zapcore.InfoLevel, msg, fields) }
func (z *ZapLogger) Warn(msg string, fields LogFields)  { z.write(zapcore.WarnLevel, msg, fields) }
func (z *ZapLogger) Error(msg string, fields LogFields) { z.write(zapcore.ErrorLevel, msg, fields) }

// WithFields returns a child logger sharing the same level.
func (z *ZapLogger) WithFields(fields LogFields) Logger {
	return &ZapLogger{base: z.base.With(zapFields(fields)...), level: z.level}
}

// Level maps the zap level back to a LogLevel.
func (z *ZapLogger) Level() LogLevel {
	switch z.level.Level() {
	case zapcore.DebugLevel:
		return LogLevelDebug
	case zapcore.InfoLevel:
		return LogLevelInfo
	case zapcore.WarnLevel:
		return LogLevelWarn
	case zapcore.ErrorLevel:
		return LogLevelError
	default:
		return LogLevelNone
	}
}

// SetLevel changes the shared atomic level of this logger and its children.
func (z *ZapLogger) SetLevel(level LogLevel) {
	z.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.base.Sync()
}

func (z *ZapLogger) write(level zapcore.Level, msg string, fields LogFields) {
	if !z.level.Enabled(level) {
		return
	}
	if ce := z.base.Check(level, msg); ce != nil {
		ce.Write(zapFields(fields)...)
	}
}

func zapFields(fields LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		// above Fatal: nothing passes
		return zapcore.FatalLevel + 1
	}
}
