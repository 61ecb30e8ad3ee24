package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	kvmemory "github.com/wallvault/wallvault/pkg/store/kv/memory"
)

func newLimiter(t *testing.T, limit int64, window time.Duration) (*Limiter, *kvmemory.Counter) {
	t.Helper()

	counter := kvmemory.New()
	l := New(counter, Config{Enabled: true, Limit: limit, Window: window})
	return l, counter
}

func TestAllowsUpToLimit(t *testing.T) {
	l, _ := newLimiter(t, 3, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := l.Check(ctx, "user-1")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if want := int64(3 - i - 1); d.Remaining != want {
			t.Errorf("request %d: expected remaining %d, got %d", i+1, want, d.Remaining)
		}
	}

	d := l.Check(ctx, "user-1")
	if d.Allowed {
		t.Fatal("request over the limit should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", d.Remaining)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected positive RetryAfter, got %v", d.RetryAfter)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, 1, 10*time.Second)
	ctx := context.Background()

	if d := l.Check(ctx, "user-1"); !d.Allowed {
		t.Fatal("first request for user-1 should be allowed")
	}
	if d := l.Check(ctx, "user-1"); d.Allowed {
		t.Fatal("second request for user-1 should be denied")
	}
	if d := l.Check(ctx, "user-2"); !d.Allowed {
		t.Fatal("user-2 should not be affected by user-1's counter")
	}
}

func TestWindowRollover(t *testing.T) {
	l, counter := newLimiter(t, 1, 10*time.Second)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	now := base
	l.SetClock(func() time.Time { return now })
	counter.SetClock(func() time.Time { return now })

	if d := l.Check(ctx, "user-1"); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d := l.Check(ctx, "user-1"); d.Allowed {
		t.Fatal("second request in the same window should be denied")
	}

	// Cross the aligned window boundary: counter starts fresh.
	now = base.Add(6 * time.Second) // 12:00:11, next 10s window
	if d := l.Check(ctx, "user-1"); !d.Allowed {
		t.Fatal("request in the next window should be allowed")
	}
}

func TestWindowIsSharedAcrossInstances(t *testing.T) {
	// Three limiters over one counter backend stand in for three replicas:
	// the wall-clock-aligned keys make them claim the same window.
	counter := kvmemory.New()
	cfg := Config{Enabled: true, Limit: 3, Window: time.Hour}

	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	limiters := []*Limiter{New(counter, cfg), New(counter, cfg), New(counter, cfg)}
	for _, l := range limiters {
		l.SetClock(func() time.Time { return now })
	}
	ctx := context.Background()

	for i, l := range limiters {
		if d := l.Check(ctx, "user-1"); !d.Allowed {
			t.Fatalf("upload %d should be admitted", i+1)
		}
	}
	if d := limiters[0].Check(ctx, "user-1"); d.Allowed {
		t.Fatal("fourth upload in the shared window should be denied, the budget is fleet-wide")
	}

	wantReset := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	for i, l := range limiters {
		if d := l.Check(ctx, "user-2"); !d.ResetAt.Equal(wantReset) {
			t.Errorf("instance %d: expected reset at %v, got %v", i, wantReset, d.ResetAt)
		}
	}
}

func TestResetAtIsWindowAligned(t *testing.T) {
	l, _ := newLimiter(t, 5, 10*time.Second)

	now := time.Date(2026, 3, 1, 12, 0, 7, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	d := l.Check(context.Background(), "user-1")
	want := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	if !d.ResetAt.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, d.ResetAt)
	}
}

func TestFailsOpenWhenBackendDown(t *testing.T) {
	l, counter := newLimiter(t, 1, 10*time.Second)
	ctx := context.Background()

	counter.Fail(errors.New("connection refused"))

	for i := 0; i < 5; i++ {
		if d := l.Check(ctx, "user-1"); !d.Allowed {
			t.Fatalf("request %d should be admitted while the backend is down", i+1)
		}
	}
}

func TestDisabledLimiterAdmitsEverything(t *testing.T) {
	l := New(nil, Config{Enabled: false, Limit: 1, Window: time.Second})

	for i := 0; i < 10; i++ {
		if d := l.Check(context.Background(), "user-1"); !d.Allowed {
			t.Fatalf("request %d should be admitted with the limiter disabled", i+1)
		}
	}
}
