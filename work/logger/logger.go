// Package logger is the leveled logger used across the player. Records are structured
// zerolog JSON; the printf-style helpers remain for call sites without fields.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}

// String returns the level name, INFO for out-of-range values.
func (lvl LogLevel) String() string {
	if lvl < DEBUG || lvl > ERROR {
		return "INFO"
	}
	return levelNames[lvl]
}

func (lvl LogLevel) zerolog() zerolog.Level {
	switch lvl {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLogLevel converts a level name to a LogLevel. Unknown names mean INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes leveled records through zerolog.
type Logger struct {
	level atomic.Int32
	mu    sync.RWMutex
	zl    zerolog.Logger
}

// New creates a Logger writing to stdout.
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a Logger writing JSON records to w.
func NewWithWriter(level string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	l := &Logger{zl: zerolog.New(w).With().Timestamp().Str("service", "kptv-player").Logger()}
	l.SetLevel(level)
	return l
}

// SetLevel changes the minimum level; unknown names mean INFO.
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLogLevel(level)))
}

// GetLevel returns the name of the current minimum level.
func (l *Logger) GetLevel() string {
	return LogLevel(l.level.Load()).String()
}

func (l *Logger) enabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

func (l *Logger) base() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

func (l *Logger) log(level LogLevel, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	zl := l.base()
	zl.WithLevel(level.zerolog()).Msg(fmt.Sprintf(format, v...))
}

// Debug, Info, Warn and Error write a printf-formatted record at their level.
func (l *Logger) Debug(format string, v ...interface{}) { l.log(DEBUG, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.log(INFO, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.log(WARN, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.log(ERROR, format, v...) }

var (
	defaultLogger *Logger
	once          sync.Once
)

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
	return defaultLogger
}

// SetLogLevel sets the level of the package logger and of every component logger.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
	zerolog.SetGlobalLevel(ParseLogLevel(level).zerolog())
}

// GetLogLevel returns the level of the package logger.
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetOutput redirects the package logger. Component loggers created afterwards follow.
func SetOutput(w io.Writer) {
	l := getDefaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Output(w)
}

// WithComponent returns a structured child of the package logger tagged with component.
// Its level is governed by SetLogLevel.
func WithComponent(component string) zerolog.Logger {
	return getDefaultLogger().base().With().Str("component", component).Logger()
}

// Package-level helpers writing through the default logger.
func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }
func Info(format string, v ...interface{})  { getDefaultLogger().Info(format, v...) }
func Warn(format string, v ...interface{})  { getDefaultLogger().Warn(format, v...) }
func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
