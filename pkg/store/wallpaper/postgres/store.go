// Package postgres implements the wallpaper store on PostgreSQL using pgx.
//
// All state transitions run inside transactions with row locks (FOR UPDATE,
// FOR UPDATE SKIP LOCKED for reconciler claims) so concurrent instances
// coordinate through the database rather than through any shared process
// state.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// Store is the PostgreSQL implementation of wallpaper.Store.
type Store struct {
	pool *pgxpool.Pool
	cfg  *Config
}

// Compile-time interface check.
var _ wallpaper.Store = (*Store)(nil)

// New creates the store, optionally runs migrations and verifies
// connectivity.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, cfg.URL); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool, err := createConnectionPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("PostgreSQL wallpaper store initialized")

	return &Store{pool: pool, cfg: cfg}, nil
}

// Healthcheck verifies database connectivity.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", wallpaper.ErrUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
