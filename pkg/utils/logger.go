package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLogLevel parses a level name case-insensitively. Unknown names give
// LevelInfo.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the logging interface every component accepts. Messages are
// printf-style.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// sink serializes writes from a logger and everything derived from it.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// DefaultLogger writes one line per message:
//
//	2024-01-02 15:04:05.000 [INFO] component=session msg
//
// Fields are written sorted by key.
type DefaultLogger struct {
	sink   *sink
	level  LogLevel
	fields string
	keys   map[string]interface{}
	clock  Clock
}

// NewDefaultLogger creates a logger writing to output; nil means stderr.
func NewDefaultLogger(level LogLevel, output io.Writer) *DefaultLogger {
	if output == nil {
		output = os.Stderr
	}
	return &DefaultLogger{
		sink:  &sink{out: output},
		level: level,
		clock: NewRealClock(),
	}
}

// NewFileLogger creates a logger appending to logPath, creating its
// directory if needed.
func NewFileLogger(level LogLevel, logPath string) (*DefaultLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewDefaultLogger(level, file), nil
}

// SetLevel changes the minimum level written by l. Derived loggers keep
// their own level.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level = level
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args) }
func (l *DefaultLogger) Info(msg string, args ...interface{})  { l.log(LevelInfo, msg, args) }
func (l *DefaultLogger) Warn(msg string, args ...interface{})  { l.log(LevelWarn, msg, args) }
func (l *DefaultLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args) }

// WithField returns a logger that adds key=value to every line.
func (l *DefaultLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger that adds fields to every line. Existing
// keys are overwritten.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	keys := make(map[string]interface{}, len(l.keys)+len(fields))
	for k, v := range l.keys {
		keys[k] = v
	}
	for k, v := range fields {
		keys[k] = v
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, k := range names {
		fmt.Fprintf(&b, " %s=%v", k, keys[k])
	}

	return &DefaultLogger{
		sink:   l.sink,
		level:  l.level,
		fields: b.String(),
		keys:   keys,
		clock:  l.clock,
	}
}

func (l *DefaultLogger) log(level LogLevel, msg string, args []interface{}) {
	if level < l.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line := fmt.Sprintf("%s [%s]%s %s\n", l.clock.Now().Format("2006-01-02 15:04:05.000"), level, l.fields, msg)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_, _ = io.WriteString(l.sink.out, line)
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewDefaultLogger(LevelInfo, os.Stderr)
)

// SetGlobalLogger sets the logger returned by GetGlobalLogger.
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// NullLogger discards everything.
type NullLogger struct{}

func (*NullLogger) Debug(string, ...interface{}) {}
func (*NullLogger) Info(string, ...interface{})  {}
func (*NullLogger) Warn(string, ...interface{})  {}
func (*NullLogger) Error(string, ...interface{}) {}

func (l *NullLogger) WithField(string, interface{}) Logger { return l }

func (l *NullLogger) WithFields(map[string]interface{}) Logger { return l }
