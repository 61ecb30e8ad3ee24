package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// mapPgError translates driver errors into the store's sentinel errors so
// callers never need to import pgx.
func mapPgError(err error, op string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return wallpaper.ErrNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation: the (user_id, content_hash) dedup index
			return wallpaper.ErrDuplicate
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: transaction conflict, retry may succeed: %w", op, wallpaper.ErrUnavailable)
		case "53100", "53200", "53300": // disk full, out of memory, too many connections
			return fmt.Errorf("%s: resource exhausted: %w", op, wallpaper.ErrUnavailable)
		case "57014": // query_canceled (statement timeout)
			return fmt.Errorf("%s: query canceled: %w", op, wallpaper.ErrUnavailable)
		case "08000", "08003", "08006": // connection errors
			return fmt.Errorf("%s: connection error: %w", op, wallpaper.ErrUnavailable)
		default:
			return fmt.Errorf("%s: database error %s: %w", op, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
