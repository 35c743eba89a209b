package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds the bootstrap-scoped fields attached to every *Ctx record.
type LogContext struct {
	RunID     string // bootstrap run identifier, shared by all child processes
	Stage     string // probe, migrate, launch
	TraceID   string
	SpanID    string
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for the given run.
func NewLogContext(runID string) *LogContext {
	return &LogContext{
		RunID:     runID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithStage returns a copy with the stage set
func (lc *LogContext) WithStage(stage string) *LogContext {
	clone := lc.Clone()
	if clone == nil {
		clone = &LogContext{StartTime: time.Now()}
	}
	clone.Stage = stage
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// StageContext is a shorthand for attaching a stage name to whatever
// LogContext ctx already carries.
func StageContext(ctx context.Context, stage string) context.Context {
	return WithContext(ctx, FromContext(ctx).WithStage(stage))
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
