// Package logging is the shared console logger used by all three
// strim binaries, adapted from the teacher's log.go: timestamped
// single-line records, no structured fields, a mutex around the
// shared writer, and env-gated debug verbosity.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger writes timestamped lines to a single writer, tagged with the
// binary's component name (ingestd, strim-reconciler, strim-uploader).
type Logger struct {
	mu        sync.Mutex
	component string
	debug     bool
}

// New builds a Logger for component, reading LOG_DEBUG the same way
// the teacher's log.go does.
func New(component string) *Logger {
	return &Logger{
		component: component,
		debug:     os.Getenv("LOG_DEBUG") == "YES",
	}
}

func (l *Logger) line(level, msg string) {
	tm := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Printf("[%s] [%s] [%s] %s\n", tm.Format("2006-01-02 15:04:05"), l.component, level, msg)
}

func (l *Logger) Info(msg string) {
	l.line("INFO", msg)
}

func (l *Logger) Infof(format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warning(msg string) {
	l.line("WARNING", msg)
}

func (l *Logger) Warningf(format string, args ...any) {
	l.Warning(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(err error) {
	if err == nil {
		return
	}
	l.line("ERROR", err.Error())
}

func (l *Logger) Errorf(format string, args ...any) {
	l.line("ERROR", fmt.Sprintf(format, args...))
}

// Debug only prints when LOG_DEBUG=YES, matching the teacher's
// LogDebug gate.
func (l *Logger) Debug(msg string) {
	if l.debug {
		l.line("DEBUG", msg)
	}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.Debug(fmt.Sprintf(format, args...))
	}
}

// Fatal logs an error and exits the process, used for unrecoverable
// startup failures (missing required env vars, listener bind errors).
func (l *Logger) Fatal(msg string) {
	l.line("FATAL", msg)
	os.Exit(1)
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.Fatal(fmt.Sprintf(format, args...))
}
