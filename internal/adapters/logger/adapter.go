// Package logger provides adapters for the logging interface.
package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// redacted replaces secret values in log output.
const redacted = "***REDACTED***"

// Logger defines the logging interface used throughout the application.
// External loggers that implement these methods can be wrapped with ZapAdapter.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// ZapAdapter adapts a Logger to the application's logging interface.
// It attaches base fields to every entry and scrubs registered secret values
// from messages, string fields and errors.
type ZapAdapter struct {
	log  Logger
	base map[string]any

	// Shared with adapters derived through With.
	mu      *sync.RWMutex
	secrets map[string]struct{}
}

// NewZapAdapter creates a new ZapAdapter wrapping the given logger.
func NewZapAdapter(log Logger) *ZapAdapter {
	return &ZapAdapter{
		log:     log,
		mu:      &sync.RWMutex{},
		secrets: make(map[string]struct{}),
	}
}

// With returns an adapter that adds fields to every entry.
// Secrets registered on either adapter are redacted by both.
func (a *ZapAdapter) With(fields map[string]any) *ZapAdapter {
	base := make(map[string]any, len(a.base)+len(fields))
	for k, v := range a.base {
		base[k] = v
	}
	for k, v := range fields {
		base[k] = v
	}
	return &ZapAdapter{log: a.log, base: base, mu: a.mu, secrets: a.secrets}
}

// AddSecret registers a value to be redacted from log output.
func (a *ZapAdapter) AddSecret(value string) {
	if value == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.secrets[value] = struct{}{}
}

// Redact replaces any registered secret values in s.
func (a *ZapAdapter) Redact(s string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for secret := range a.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// Info logs an info message.
func (a *ZapAdapter) Info(ctx context.Context, msg string, fields map[string]any) {
	a.log.Info(ctx, a.Redact(msg), a.fields(fields))
}

// Debug logs a debug message.
func (a *ZapAdapter) Debug(ctx context.Context, msg string, fields map[string]any) {
	a.log.Debug(ctx, a.Redact(msg), a.fields(fields))
}

// Warn logs a warning message.
func (a *ZapAdapter) Warn(ctx context.Context, msg string, fields map[string]any) {
	a.log.Warn(ctx, a.Redact(msg), a.fields(fields))
}

// Error logs an error message.
func (a *ZapAdapter) Error(ctx context.Context, msg string, err error, fields map[string]any) {
	if err != nil {
		if scrubbed := a.Redact(err.Error()); scrubbed != err.Error() {
			err = errors.New(scrubbed)
		}
	}
	a.log.Error(ctx, a.Redact(msg), err, a.fields(fields))
}

func (a *ZapAdapter) fields(fields map[string]any) map[string]any {
	if len(a.base) == 0 && len(fields) == 0 {
		return fields
	}

	out := make(map[string]any, len(a.base)+len(fields))
	for k, v := range a.base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = a.redactValue(v)
	}
	return out
}

func (a *ZapAdapter) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return a.Redact(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = a.Redact(s)
		}
		return out
	case error:
		return a.Redact(val.Error())
	case fmt.Stringer:
		return a.Redact(val.String())
	default:
		return v
	}
}
