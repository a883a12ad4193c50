// Package logging provides structured logging for vaultsync.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Config controls the global logger output.
type Config struct {
	Level LogLevel

	// File enables rotated file output when non-empty; otherwise logs
	// go to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps a logrus logger with map-based context fields.
type Logger struct {
	l *logrus.Logger
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// Init initializes the global logger. Subsequent calls are no-ops.
func Init(cfg Config) {
	once.Do(func() {
		global = newLogger(cfg)
	})
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init(Config{Level: LevelInfo})
	}
	return global
}

func newLogger(cfg Config) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	l.SetLevel(parseLevel(cfg.Level))

	if cfg.File != "" {
		l.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	} else {
		l.SetOutput(os.Stdout)
	}

	return &Logger{l: l}
}

// NewLogger creates a standalone logger, mainly for tests.
func NewLogger(out io.Writer, minLevel LogLevel) *Logger {
	lg := newLogger(Config{Level: minLevel})
	lg.l.SetOutput(out)
	return lg
}

func parseLevel(level LogLevel) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetOutput redirects the logger output.
func (lg *Logger) SetOutput(out io.Writer) {
	lg.l.SetOutput(out)
}

// SetLevel changes the minimum logged level.
func (lg *Logger) SetLevel(level LogLevel) {
	lg.l.SetLevel(parseLevel(level))
}

func (lg *Logger) entry(context ...map[string]interface{}) *logrus.Entry {
	if len(context) == 0 {
		return logrus.NewEntry(lg.l)
	}
	fields := logrus.Fields{}
	for _, c := range context {
		for k, v := range c {
			fields[k] = v
		}
	}
	return lg.l.WithFields(fields)
}

// Debug logs a debug message.
func (lg *Logger) Debug(message string, context ...map[string]interface{}) {
	lg.entry(context...).Debug(message)
}

// Info logs an info message.
func (lg *Logger) Info(message string, context ...map[string]interface{}) {
	lg.entry(context...).Info(message)
}

// Warn logs a warning message.
func (lg *Logger) Warn(message string, context ...map[string]interface{}) {
	lg.entry(context...).Warn(message)
}

// Error logs an error message.
func (lg *Logger) Error(message string, err error, context ...map[string]interface{}) {
	e := lg.entry(context...)
	if err != nil {
		e = e.WithField("error", err.Error())
	}
	e.Error(message)
}

// ErrorWithCode logs an error message tagged with a stable error code.
func (lg *Logger) ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	e := lg.entry(context...).WithField("error_code", code)
	if err != nil {
		e = e.WithField("error", err.Error())
	}
	e.Error(message)
}

// Convenience functions using the global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
