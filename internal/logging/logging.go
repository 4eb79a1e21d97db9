// Package logging provides the stderr debug logger shared by the driver
// and engine. No structured logging library appears anywhere in the
// retrieved example pack, so this wraps the stdlib log.Logger the same
// way _examples/other_examples/mewmew-x__main.go wraps its "x:"-prefixed
// dbg logger: a prefix, stderr, and a gate on whether debug output runs.
package logging

import (
	"log"
	"os"
)

// Logger gates debug output behind general.debug / --debug.
type Logger struct {
	debug *log.Logger
	warn  *log.Logger
	on    bool
}

// New returns a Logger. When enabled is false, Debugf is a no-op; Warnf
// always writes (cache-downgrade and cancellation warnings are visible
// regardless of --debug, matching spec.md §7's "log warning" language).
func New(enabled bool) *Logger {
	return &Logger{
		debug: log.New(os.Stderr, "binlex: debug: ", 0),
		warn:  log.New(os.Stderr, "binlex: warning: ", 0),
		on:    enabled,
	}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.on {
		return
	}
	l.debug.Printf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.warn.Printf(format, args...)
}
