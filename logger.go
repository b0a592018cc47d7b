package thingshadow

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug is the debug log level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the info log level.
	LogLevelInfo
	// LogLevelWarn is the warn log level.
	LogLevelWarn
	// LogLevelError is the error log level.
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a textual level ("debug", "info", ...) to a LogLevel.
// Unknown values fall back to LogLevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "none", "off":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// Logger defines the interface for logging.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a new logger with the given fields added.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct {
	level LogLevel
}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{level: LogLevelNone}
}

// Debug discards the message.
func (n *NoOpLogger) Debug(_ string, _ LogFields) {}

// Info discards the message.
func (n *NoOpLogger) Info(_ string, _ LogFields) {}

// Warn discards the message.
func (n *NoOpLogger) Warn(_ string, _ LogFields) {}

// Error discards the message.
func (n *NoOpLogger) Error(_ string, _ LogFields) {}

// WithFields returns the same logger.
func (n *NoOpLogger) WithFields(_ LogFields) Logger {
	return n
}

// Level returns the level last set.
func (n *NoOpLogger) Level() LogLevel {
	return n.level
}

// SetLevel stores level without changing what is logged.
func (n *NoOpLogger) SetLevel(level LogLevel) {
	n.level = level
}

// StdLogger writes key=value lines through the standard library log package.
// Fields are printed in key order so output is stable.
type StdLogger struct {
	logger *log.Logger
	level  LogLevel
	fields LogFields
}

// NewStdLogger creates a new standard library based logger.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
		fields: make(LogFields),
	}
}

// Debug logs msg when the level is LogLevelDebug.
func (s *StdLogger) Debug(msg string, fields LogFields) {
	if s.level <= LogLevelDebug {
		s.log(LogLevelDebug, msg, fields)
	}
}

// Info logs msg at info level.
func (s *StdLogger) Info(msg string, fields LogFields) {
	if s.level <= LogLevelInfo {
		s.log(LogLevelInfo, msg, fields)
	}
}

// Warn logs msg at warn level.
func (s *StdLogger) Warn(msg string, fields LogFields) {
	if s.level <= LogLevelWarn {
		s.log(LogLevelWarn, msg, fields)
	}
}

// Error logs msg at error level.
func (s *StdLogger) Error(msg string, fields LogFields) {
	if s.level <= LogLevelError {
		s.log(LogLevelError, msg, fields)
	}
}

// WithFields returns a new logger with the given fields added.
func (s *StdLogger) WithFields(fields LogFields) Logger {
	return &StdLogger{
		logger: s.logger,
		level:  s.level,
		fields: mergeFields(s.fields, fields),
	}
}

// Level returns the current level.
func (s *StdLogger) Level() LogLevel {
	return s.level
}

// SetLevel changes the minimum level logged.
func (s *StdLogger) SetLevel(level LogLevel) {
	s.level = level
}

func (s *StdLogger) log(level LogLevel, msg string, fields LogFields) {
	all := mergeFields(s.fields, fields)
	if len(all) == 0 {
		s.logger.Printf("[%s] %s", level, msg)
		return
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}

	s.logger.Printf("[%s] %s%s", level, msg, b.String())
}

func mergeFields(base, extra LogFields) LogFields {
	out := make(LogFields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Standard field names for shadow logging.
const (
	LogFieldThingName   = "thing_name"
	LogFieldClientID    = "client_id"
	LogFieldClientToken = "client_token"
	LogFieldTopic       = "topic"
	LogFieldAction      = "action"
	LogFieldAckStatus   = "ack_status"
	LogFieldVersion     = "version"
	LogFieldKey         = "key"
	LogFieldState       = "state"
	LogFieldTemperature = "temperature"
	LogFieldDocument    = "document"
	LogFieldError       = "error"
	LogFieldDuration    = "duration"
)
