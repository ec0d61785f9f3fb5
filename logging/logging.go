// Package logging provides the logger handle passed to every component of
// the daemon.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
)

// Verbosity selects which messages are printed.
type Verbosity int

// The verbosity levels. Errors are always printed.
const (
	None Verbosity = iota
	Info
	Debug
)

func (v Verbosity) String() string {
	switch v {
	case None:
		return "none"
	case Info:
		return "verbose"
	default:
		return "debug"
	}
}

// Logger is a leveled wrapper around a standard library logger. A nil
// *Logger discards everything.
type Logger struct {
	*log.Logger
	verbosity Verbosity
}

// New creates a logger writing to w.
func New(w io.Writer, verbosity Verbosity) *Logger {
	return &Logger{
		Logger:    log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		verbosity: verbosity,
	}
}

// NewConsole creates a logger writing to stderr.
func NewConsole(verbosity Verbosity) *Logger {
	return New(os.Stderr, verbosity)
}

// NewSyslog creates a logger writing to the system log as a daemon.
func NewSyslog(tag string, verbosity Verbosity) (*Logger, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:    log.New(w, "", 0),
		verbosity: verbosity,
	}, nil
}

// Discard returns a logger that prints nothing.
func Discard() *Logger {
	return New(io.Discard, None)
}

// Verbosity returns the current verbosity.
func (l *Logger) Verbosity() Verbosity {
	if l == nil {
		return None
	}

	return l.verbosity
}

// SetVerbosity changes the verbosity.
func (l *Logger) SetVerbosity(v Verbosity) {
	l.verbosity = v
}

func (l *Logger) print(level Verbosity, prefix, format string, args ...any) {
	if l == nil || l.verbosity < level {
		return
	}

	_ = l.Output(3, prefix+fmt.Sprintf(format, args...))
}

// Errorf prints a message at every verbosity.
func (l *Logger) Errorf(format string, args ...any) {
	l.print(None, "E: ", format, args...)
}

// Warnf prints a warning at every verbosity.
func (l *Logger) Warnf(format string, args ...any) {
	l.print(None, "W: ", format, args...)
}

// Infof prints a message when verbose.
func (l *Logger) Infof(format string, args ...any) {
	l.print(Info, "I: ", format, args...)
}

// Debugf prints a message when debugging.
func (l *Logger) Debugf(format string, args ...any) {
	l.print(Debug, "D: ", format, args...)
}
