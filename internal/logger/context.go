package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context.
//
// The HTTP middleware creates one per request; the upload pipeline fills in
// the wallpaper id once an intent row exists so every subsequent line can be
// correlated with the row.
type LogContext struct {
	TraceID     string    // OpenTelemetry trace ID
	SpanID      string    // OpenTelemetry span ID
	RequestID   string    // HTTP request ID (chi middleware)
	UserID      string    // uploading user
	WallpaperID string    // wallpaper row id once known
	StartTime   time.Time // for duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext stamped with the current time.
func NewLogContext(requestID string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	cp := *lc
	return &cp
}

// WithUser returns a copy with the user id set.
func (lc *LogContext) WithUser(userID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.UserID = userID
	}
	return clone
}

// WithWallpaper returns a copy with the wallpaper id set.
func (lc *LogContext) WithWallpaper(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.WallpaperID = id
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
