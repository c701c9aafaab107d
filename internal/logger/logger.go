// Package logger provides structured logging for the service. It wraps
// log/slog: human-readable text output in development, JSON elsewhere.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger so components can attach domain-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger for the given environment.
func New(env string) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithComponent returns a logger tagged with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// StoreError logs a datastore failure.
func (l *Logger) StoreError(op string, err error) {
	l.Error("store_error",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// DeliveryError logs an outbound provider failure. Delivery is fire and
// forget relative to the live chat view, so this is the only trace left.
func (l *Logger) DeliveryError(phone string, err error) {
	l.Error("delivery_error",
		slog.String("phone", phone),
		slog.String("error", err.Error()),
	)
}

// AuthEvent logs a login or admin-gate outcome.
func (l *Logger) AuthEvent(event, name string, success bool, reason string) {
	if success {
		l.Info("auth_event",
			slog.String("event", event),
			slog.String("agent", name),
			slog.Bool("success", true),
		)
		return
	}
	l.Warn("auth_event",
		slog.String("event", event),
		slog.String("agent", name),
		slog.Bool("success", false),
		slog.String("reason", reason),
	)
}
