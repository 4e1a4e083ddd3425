package logging

import (
	"context"
	"log/slog"
	"strconv"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	stepKey
	attemptKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithStep returns a context with the pipeline step ordinal set.
func WithStep(ctx context.Context, step int) context.Context {
	return context.WithValue(ctx, stepKey, step)
}

// WithAttempt returns a context with the execution attempt number set.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// Step extracts the step ordinal from the context, or 0 if absent.
func Step(ctx context.Context) int {
	v, _ := ctx.Value(stepKey).(int)
	return v
}

// Attempt extracts the attempt number from the context, or 0 if absent.
func Attempt(ctx context.Context) int {
	v, _ := ctx.Value(attemptKey).(int)
	return v
}

// WithRunStep sets run ID and step ordinal on the context at once.
func WithRunStep(ctx context.Context, runID string, step int) context.Context {
	return WithStep(WithRunID(ctx, runID), step)
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only present values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := RunID(ctx); id != "" {
		logger = logger.With(slog.String("run_id", id))
	}
	if step := Step(ctx); step > 0 {
		logger = logger.With(slog.Int("step", step))
	}
	if attempt := Attempt(ctx); attempt > 0 {
		logger = logger.With(slog.Int("attempt", attempt))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	if v := Step(ctx); v > 0 {
		r.AddAttrs(slog.Int("step", v))
	}
	if v := Attempt(ctx); v > 0 {
		r.AddAttrs(slog.Int("attempt", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// StepLabel renders a step ordinal for log and message text.
func StepLabel(step int) string {
	return "step " + strconv.Itoa(step)
}
