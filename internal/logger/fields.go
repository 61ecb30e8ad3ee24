package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently across
// all log statements so lines aggregate cleanly in the log pipeline.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Request / actor
	KeyRequestID = "request_id"
	KeyUserID    = "user_id"
	KeyClientIP  = "client_ip"

	// Wallpaper lifecycle
	KeyWallpaperID = "wallpaper_id"
	KeyState       = "state"
	KeyFromState   = "from_state"
	KeyToState     = "to_state"
	KeyContentHash = "content_hash"
	KeyAttempt     = "attempt"
	KeyMaxRetries  = "max_retries"

	// Object storage
	KeyBucket = "bucket"
	KeyKey    = "key"
	KeySize   = "size"

	// Eventing
	KeyEventID   = "event_id"
	KeyEventType = "event_type"
	KeySubject   = "subject"
	KeyStream    = "stream"
	KeyDurable   = "durable"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyComponent  = "component"
	KeyInstanceID = "instance_id"
)

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// WallpaperID returns a slog.Attr for a wallpaper row id.
func WallpaperID(id string) slog.Attr {
	return slog.String(KeyWallpaperID, id)
}

// EventID returns a slog.Attr for an event envelope id.
func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

// State returns a slog.Attr for an upload state.
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
