// Package logging provides the logging interface used by the inspector core.
// Implement Logger to plug in a custom backend (e.g., logrus, zap).
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is the interface the core packages log through. The core never
// writes to terminals directly; everything goes through a Logger.
type Logger interface {
	// Debug logs per-region and per-call diagnostics
	Debug(format string, args ...interface{})

	// Info logs scan progress
	Info(format string, args ...interface{})

	// Warn logs degraded states (unreadable PEB, failed translation, ...)
	Warn(format string, args ...interface{})

	// Error logs fatal scan failures
	Error(format string, args ...interface{})
}

// Verbosity is the user-facing output tier of the inspector.
type Verbosity int

const (
	// VerbositySurface prints entity lines and suspicions only.
	VerbositySurface Verbosity = iota

	// VerbosityDetail additionally prints per-subregion attribute breakdowns.
	VerbosityDetail

	// VerbosityDebug additionally prints region walk and OS call diagnostics.
	VerbosityDebug
)

// Level gates which Logger calls a StderrLogger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

// LevelFor maps a Verbosity tier to the logger level it implies.
func LevelFor(v Verbosity) Level {
	switch v {
	case VerbosityDebug:
		return LevelDebug
	case VerbosityDetail:
		return LevelInfo
	default:
		return LevelWarn
	}
}

// StderrLogger is the default Logger, writing leveled lines to stderr.
type StderrLogger struct {
	level  Level
	prefix string
	logger *log.Logger
}

// NewStderrLogger creates a stderr logger gated at the given level.
func NewStderrLogger(prefix string, level Level) *StderrLogger {
	return &StderrLogger{
		level:  level,
		prefix: prefix,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetOutput redirects the logger output.
func (l *StderrLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// SetLevel changes the gating level.
func (l *StderrLogger) SetLevel(level Level) {
	l.level = level
}

func (l *StderrLogger) Debug(format string, args ...interface{}) {
	if l.level <= LevelDebug {
		l.log("DEBUG", format, args...)
	}
}

func (l *StderrLogger) Info(format string, args ...interface{}) {
	if l.level <= LevelInfo {
		l.log("INFO", format, args...)
	}
}

func (l *StderrLogger) Warn(format string, args ...interface{}) {
	if l.level <= LevelWarn {
		l.log("WARN", format, args...)
	}
}

func (l *StderrLogger) Error(format string, args ...interface{}) {
	if l.level <= LevelError {
		l.log("ERROR", format, args...)
	}
}

func (l *StderrLogger) log(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		l.logger.Printf("[%s] [%s] %s", l.prefix, level, msg)
	} else {
		l.logger.Printf("[%s] %s", level, msg)
	}
}

// NopLogger discards all messages.
type NopLogger struct{}

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}

// Ensure implementations satisfy the interface
var (
	_ Logger = (*StderrLogger)(nil)
	_ Logger = NopLogger{}
)
