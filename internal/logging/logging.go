// Package logging provides the structured logger shared by every component.
package logging

import (
	"context"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Logger wraps slog with the component-tagged convenience methods the rest
// of the runtime calls (Debug/Info/Warn/Error, plus domain-specific
// shorthands for tool and security events).
type Logger struct {
	base *slog.Logger
}

// Option configures a Logger at construction time.
type Option func(*config)

type config struct {
	level    slog.Level
	sessionH slog.Handler // optional extra sink, e.g. a session JSONL writer
}

// WithLevel sets the minimum level emitted to stderr.
func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

// WithSessionSink fans every record out to an additional handler, such as
// the one backing a run's trace log.
func WithSessionSink(h slog.Handler) Option {
	return func(c *config) { c.sessionH = h }
}

// New builds a Logger writing structured JSON to stderr, and to any
// additional sink supplied via WithSessionSink, fanned out with slog-multi.
func New(component string, opts ...Option) *Logger {
	cfg := config{level: slog.LevelInfo}
	for _, o := range opts {
		o(&cfg)
	}

	stderrHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level})

	var handler slog.Handler
	if cfg.sessionH != nil {
		handler = slogmulti.Fanout(stderrHandler, cfg.sessionH)
	} else {
		handler = stderrHandler
	}

	return &Logger{base: slog.New(handler).With("component", component)}
}

func toAttrs(fields map[string]interface{}) []any {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, toAttrs(fields)...)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, toAttrs(fields)...)
}

func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, toAttrs(fields)...)
}

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.base.Error(msg, toAttrs(fields)...)
}

// SecurityWarning tags a record as belonging to the policy/approval surfaces
// so operators can grep for it independent of level.
func (l *Logger) SecurityWarning(msg string, fields map[string]interface{}) {
	attrs := append(toAttrs(fields), "class", "security")
	l.base.Warn(msg, attrs...)
}

// With returns a child logger carrying additional fixed fields, mirroring
// slog.Logger.With but preserving the Logger wrapper type.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{base: l.base.With(toAttrs(fields)...)}
}

// Ctx returns the logger, ignoring ctx for now; kept as a seam so callers
// can later thread span/correlation IDs without changing call sites.
func (l *Logger) Ctx(_ context.Context) *Logger { return l }
