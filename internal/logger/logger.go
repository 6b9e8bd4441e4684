/**
 * @description
 * Structured logger for the KRX collector.
 * Info/debug go to stdout, warnings and errors to stderr, so schedulers that
 * treat stderr as failure output only see real problems.
 *
 * @dependencies
 * - github.com/rs/zerolog
 */

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu        sync.RWMutex
	infoLog   zerolog.Logger
	errorLog  zerolog.Logger
	baseLevel = zerolog.InfoLevel
)

func init() {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && lvl != zerolog.NoLevel {
		baseLevel = lvl
	}
	infoLog = newLogger(console(os.Stdout))
	errorLog = newLogger(console(os.Stderr))
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime, NoColor: true}
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(baseLevel).With().Timestamp().Logger()
}

// SetOutput routes every level to w as JSON lines. Used by tests and by
// deployments that ship logs to a collector.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	infoLog = newLogger(w)
	errorLog = infoLog
}

// SetLevel changes the minimum level ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	baseLevel = lvl
	infoLog = infoLog.Level(lvl)
	errorLog = errorLog.Level(lvl)
	return nil
}

func loggers() (zerolog.Logger, zerolog.Logger) {
	mu.RLock()
	defer mu.RUnlock()
	return infoLog, errorLog
}

// Debug logs a debug message to stdout
func Debug(format string, v ...interface{}) {
	l, _ := loggers()
	l.Debug().Msg(fmt.Sprintf(format, v...))
}

// Info logs an info message to stdout
func Info(format string, v ...interface{}) {
	l, _ := loggers()
	l.Info().Msg(fmt.Sprintf(format, v...))
}

// Warn logs a warning to stderr
func Warn(format string, v ...interface{}) {
	_, l := loggers()
	l.Warn().Msg(fmt.Sprintf(format, v...))
}

// Error logs an error message to stderr
func Error(format string, v ...interface{}) {
	_, l := loggers()
	l.Error().Msg(fmt.Sprintf(format, v...))
}

// Fatal logs an error and exits
func Fatal(format string, v ...interface{}) {
	_, l := loggers()
	l.Fatal().Msg(fmt.Sprintf(format, v...))
}

// Fields are structured key/value pairs attached to an Entry.
type Fields map[string]interface{}

// Entry is a logger scoped to a set of fields.
type Entry struct {
	fields Fields
}

// With returns an Entry carrying fields on every message.
func With(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// With returns a copy of e with extra fields merged in.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

func (e *Entry) Info(format string, v ...interface{}) {
	l, _ := loggers()
	l.Info().Fields(map[string]interface{}(e.fields)).Msg(fmt.Sprintf(format, v...))
}

func (e *Entry) Warn(format string, v ...interface{}) {
	_, l := loggers()
	l.Warn().Fields(map[string]interface{}(e.fields)).Msg(fmt.Sprintf(format, v...))
}

func (e *Entry) Error(err error, format string, v ...interface{}) {
	_, l := loggers()
	l.Error().Err(err).Fields(map[string]interface{}(e.fields)).Msg(fmt.Sprintf(format, v...))
}

func (e *Entry) Debug(format string, v ...interface{}) {
	l, _ := loggers()
	l.Debug().Fields(map[string]interface{}(e.fields)).Msg(fmt.Sprintf(format, v...))
}
