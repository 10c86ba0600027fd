package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	dialogIDKey ctxKey = iota
	stepKey
	templateKey
)

// WithDialogID returns a context with the dialog ID set.
func WithDialogID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, dialogIDKey, id)
}

// WithStep returns a context with the step name set.
func WithStep(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, stepKey, name)
}

// WithTemplate returns a context with the template name set.
func WithTemplate(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, templateKey, name)
}

// DialogID extracts the dialog ID from the context, or "" if absent.
func DialogID(ctx context.Context) string {
	v, _ := ctx.Value(dialogIDKey).(string)
	return v
}

// Step extracts the step name from the context, or "" if absent.
func Step(ctx context.Context) string {
	v, _ := ctx.Value(stepKey).(string)
	return v
}

// Template extracts the template name from the context, or "" if absent.
func Template(ctx context.Context) string {
	v, _ := ctx.Value(templateKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation attributes from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and the IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation
// attribute injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := DialogID(ctx); v != "" {
		r.AddAttrs(slog.String("dialog_id", v))
	}
	if v := Step(ctx); v != "" {
		r.AddAttrs(slog.String("step", v))
	}
	if v := Template(ctx); v != "" {
		r.AddAttrs(slog.String("template", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
