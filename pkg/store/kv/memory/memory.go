// Package memory implements the shared counter in process memory for tests
// and single-instance deployments without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wallvault/wallvault/pkg/store/kv"
)

type entry struct {
	count     int64
	expiresAt time.Time
}

// Counter is an in-memory kv.Counter.
type Counter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time

	// err, when set, is returned by Incr. Test hook for fail-open checks.
	err error
}

var _ kv.Counter = (*Counter)(nil)

// New creates an empty in-memory counter.
func New() *Counter {
	return &Counter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock overrides the counter's clock. Test helper.
func (c *Counter) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Fail makes subsequent Incr calls return err. Pass nil to heal.
func (c *Counter) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Counter) Incr(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return 0, c.err
	}

	now := c.now()
	e, ok := c.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = &entry{}
		c.entries[key] = e
	}
	e.count++
	e.expiresAt = now.Add(expiry)
	return e.count, nil
}

func (c *Counter) Healthcheck(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Counter) Close() error { return nil }
