// Package ratelimit implements a distributed fixed-window rate limiter on a
// shared counter backend.
//
// Windows are aligned to wall-clock multiples of the window size, so every
// instance computes the same window key for the same instant and the counter
// is shared across the fleet. When the backend is unreachable the limiter
// fails open: admitting a burst is preferable to rejecting every upload.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/store/kv"
)

// Config holds the rate limiter configuration.
type Config struct {
	// Enabled turns the limiter on. When false every check is allowed and
	// the backend is never consulted.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Limit is the number of requests admitted per window per user.
	// Default: 10.
	Limit int64 `mapstructure:"limit" yaml:"limit"`

	// Window is the fixed window size. Default: 10s.
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
}

// Decision is the outcome of a rate limit check. The fields map directly to
// the X-RateLimit-* response headers.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time

	// RetryAfter is the wait until the next window. Only meaningful when
	// the request was denied.
	RetryAfter time.Duration
}

// Limiter checks per-user upload rates against a shared counter.
type Limiter struct {
	counter kv.Counter
	cfg     Config
	metrics *metrics.RateLimitMetrics
	now     func() time.Time
}

// New creates a limiter. counter may be nil when the limiter is disabled.
func New(counter kv.Counter, cfg Config) *Limiter {
	cfg.ApplyDefaults()
	return &Limiter{
		counter: counter,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetMetrics attaches the rate limit instrument set. m may be nil.
func (l *Limiter) SetMetrics(m *metrics.RateLimitMetrics) {
	l.metrics = m
}

// SetClock overrides the limiter's clock. Test helper.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Enabled reports whether checks consult the backend.
func (l *Limiter) Enabled() bool {
	return l.cfg.Enabled && l.counter != nil
}

// Check records one request for userID and decides whether it is admitted.
func (l *Limiter) Check(ctx context.Context, userID string) Decision {
	now := l.now()
	windowStart := now.Truncate(l.cfg.Window)
	resetAt := windowStart.Add(l.cfg.Window)

	if !l.Enabled() {
		return Decision{
			Allowed:   true,
			Limit:     l.cfg.Limit,
			Remaining: l.cfg.Limit,
			ResetAt:   resetAt,
		}
	}

	key := fmt.Sprintf("ratelimit:upload:%s:%d", userID, windowStart.Unix())

	// Keys expire two windows out; the alignment makes stale windows
	// unreachable long before that.
	count, err := l.counter.Incr(ctx, key, 2*l.cfg.Window)
	if err != nil {
		logger.WarnCtx(ctx, "Rate limit backend unavailable, failing open",
			"user_id", userID, "error", err)
		l.metrics.RecordCheck("failopen")
		return Decision{
			Allowed:   true,
			Limit:     l.cfg.Limit,
			Remaining: l.cfg.Limit,
			ResetAt:   resetAt,
		}
	}

	remaining := l.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= l.cfg.Limit,
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if d.Allowed {
		l.metrics.RecordCheck("allowed")
	} else {
		d.RetryAfter = resetAt.Sub(now)
		l.metrics.RecordCheck("denied")
	}
	return d
}
