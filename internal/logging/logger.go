// Package logging provides the process-wide structured logger: slog with a
// JSON or text handler picked from configuration, constructed once in main
// and handed to every subsystem. Subsystems derive a component-tagged child
// via Named so fleet-wide log streams are filterable per subsystem.
package logging

import (
	"log/slog"
	"os"
)

// Logger is a thin wrapper over slog.Logger so call sites depend on this
// package rather than on the handler choice.
type Logger struct {
	*slog.Logger
}

// New builds the root Logger. jsonMode selects the JSON handler (the
// default for container deployments); otherwise a human-readable text
// handler is used.
func New(jsonMode bool) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var handler slog.Handler
	if jsonMode {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return &Logger{slog.New(handler)}
}

// Named returns a child logger tagging every record with the component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{l.With("component", component)}
}
