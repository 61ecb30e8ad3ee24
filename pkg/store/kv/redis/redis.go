// Package redis implements the shared counter on Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/store/kv"
)

// Config holds the Redis connection configuration.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// Password authenticates the connection. Empty for no auth.
	Password string `mapstructure:"password" yaml:"password"`

	// DB selects the logical database.
	DB int `mapstructure:"db" yaml:"db"`

	// DialTimeout bounds connection establishment. Default: 5s.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`

	// OpTimeout bounds individual commands. Kept short so a slow Redis
	// stalls requests minimally before the limiter fails open. Default: 500ms.
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

// Counter is the Redis implementation of kv.Counter.
type Counter struct {
	client    *redis.Client
	opTimeout time.Duration
}

var _ kv.Counter = (*Counter)(nil)

// New creates the counter and verifies connectivity.
func New(ctx context.Context, cfg *Config) (*Counter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	opTimeout := cfg.OpTimeout
	if opTimeout == 0 {
		opTimeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
		ReadTimeout: opTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Redis counter initialized", "addr", cfg.Addr, "db", cfg.DB)

	return &Counter{client: client, opTimeout: opTimeout}, nil
}

// Incr increments the key and refreshes its expiry in one round trip.
// Window keys are time-aligned, so re-setting the expiry on every hit is
// harmless; it only delays garbage collection of the key.
func (c *Counter) Incr(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incr.Val(), nil
}

// Healthcheck verifies connectivity.
func (c *Counter) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Counter) Close() error {
	return c.client.Close()
}
