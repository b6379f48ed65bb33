package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog levels with the small set palmchat actually uses.
type Level int8

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
)

// SetLevel adjusts the global log level.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	switch level {
	case DEBUG:
		log = log.Level(zerolog.DebugLevel)
	case INFO:
		log = log.Level(zerolog.InfoLevel)
	case WARN:
		log = log.Level(zerolog.WarnLevel)
	case ERROR:
		log = log.Level(zerolog.ErrorLevel)
	}
}

// SetOutput redirects log output, mainly for tests and the REPL
// (which wants the terminal free for chat bubbles).
func SetOutput(w *os.File) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func event(e *zerolog.Event, component, msg string, fields map[string]interface{}) {
	e = e.Str("component", component)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

// DebugC logs a component-scoped debug message.
func DebugC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Debug(), component, msg, nil)
}

// DebugCF logs a component-scoped debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Debug(), component, msg, fields)
}

// InfoC logs a component-scoped info message.
func InfoC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Info(), component, msg, nil)
}

// InfoCF logs a component-scoped info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Info(), component, msg, fields)
}

// WarnC logs a component-scoped warning.
func WarnC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Warn(), component, msg, nil)
}

// WarnCF logs a component-scoped warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Warn(), component, msg, fields)
}

// ErrorC logs a component-scoped error message.
func ErrorC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Error(), component, msg, nil)
}

// ErrorCF logs a component-scoped error message with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Error(), component, msg, fields)
}
