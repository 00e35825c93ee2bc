package model

import (
	"fmt"

	"github.com/syssam/vela"
)

// Log collects the messages of a model build.
type Log struct {
	Entries []vela.LogEntry
}

// Info appends an informational entry.
func (l *Log) Info(format string, args ...any) {
	l.Entries = append(l.Entries, vela.LogEntry{Level: vela.LevelInfo, Message: fmt.Sprintf(format, args...)})
}

// Warn appends a warning.
func (l *Log) Warn(format string, args ...any) {
	l.Entries = append(l.Entries, vela.LogEntry{Level: vela.LevelWarning, Message: fmt.Sprintf(format, args...)})
}

// Error appends an error.
func (l *Log) Error(format string, args ...any) {
	l.Entries = append(l.Entries, vela.LogEntry{Level: vela.LevelError, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any error was logged.
func (l *Log) HasErrors() bool {
	for _, e := range l.Entries {
		if e.Level == vela.LevelError {
			return true
		}
	}
	return false
}

// Errors returns the error entries.
func (l *Log) Errors() []vela.LogEntry {
	var errs []vela.LogEntry
	for _, e := range l.Entries {
		if e.Level == vela.LevelError {
			errs = append(errs, e)
		}
	}
	return errs
}

// Err returns a *vela.ModelError holding the error entries, or nil.
func (l *Log) Err() error {
	errs := l.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &vela.ModelError{Entries: errs}
}
