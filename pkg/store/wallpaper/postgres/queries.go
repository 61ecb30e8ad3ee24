package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// wallpaperColumns is the canonical column list, matching scanWallpaper.
const wallpaperColumns = `
	id, user_id, content_hash, upload_state, state_changed_at,
	upload_attempts, processing_error, file_type, mime_type,
	file_size_bytes, width, height, aspect_ratio, original_filename,
	storage_key, storage_bucket, uploaded_at, updated_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanWallpaper reads one row in wallpaperColumns order. Nullable columns
// collapse to the domain type's zero values.
func scanWallpaper(row rowScanner) (*wallpaper.Wallpaper, error) {
	var (
		w                wallpaper.Wallpaper
		contentHash      sql.NullString
		processingError  sql.NullString
		fileType         sql.NullString
		mimeType         sql.NullString
		fileSizeBytes    sql.NullInt64
		width            sql.NullInt32
		height           sql.NullInt32
		aspectRatio      sql.NullFloat64
		originalFilename sql.NullString
		storageKey       sql.NullString
		storageBucket    sql.NullString
		uploadedAt       sql.NullTime
	)

	err := row.Scan(
		&w.ID, &w.UserID, &contentHash, &w.UploadState, &w.StateChangedAt,
		&w.UploadAttempts, &processingError, &fileType, &mimeType,
		&fileSizeBytes, &width, &height, &aspectRatio, &originalFilename,
		&storageKey, &storageBucket, &uploadedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.ContentHash = contentHash.String
	w.ProcessingError = processingError.String
	w.FileType = wallpaper.FileType(fileType.String)
	w.MimeType = mimeType.String
	w.FileSizeBytes = fileSizeBytes.Int64
	w.Width = int(width.Int32)
	w.Height = int(height.Int32)
	w.AspectRatio = aspectRatio.Float64
	w.OriginalFilename = originalFilename.String
	w.StorageKey = storageKey.String
	w.StorageBucket = storageBucket.String
	if uploadedAt.Valid {
		w.UploadedAt = uploadedAt.Time
	}

	return &w, nil
}

// nullStr maps the empty string to SQL NULL.
func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertIntent persists a fresh row in the initiated state.
func (s *Store) InsertIntent(ctx context.Context, w *wallpaper.Wallpaper) error {
	const query = `
		INSERT INTO wallpapers (
			id, user_id, content_hash, upload_state, original_filename
		) VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		w.ID, w.UserID, nullStr(w.ContentHash),
		string(wallpaper.StateInitiated), nullStr(w.OriginalFilename),
	)
	if err != nil {
		return mapPgError(err, "insert intent")
	}
	return nil
}

// GetByID fetches one row by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*wallpaper.Wallpaper, error) {
	query := `SELECT` + wallpaperColumns + ` FROM wallpapers WHERE id = $1`

	w, err := scanWallpaper(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapPgError(err, "get by id")
	}
	return w, nil
}

// FindByUserHash looks up the deduplication anchor: the (user, hash) row in a
// successful state. The partial unique index guarantees at most one match.
func (s *Store) FindByUserHash(ctx context.Context, userID, contentHash string) (*wallpaper.Wallpaper, error) {
	query := `SELECT` + wallpaperColumns + `
		FROM wallpapers
		WHERE user_id = $1
		  AND content_hash = $2
		  AND upload_state IN ('stored', 'processing', 'completed')`

	w, err := scanWallpaper(s.pool.QueryRow(ctx, query, userID, contentHash))
	if err != nil {
		return nil, mapPgError(err, "find by user hash")
	}
	return w, nil
}

// UpdateState conditionally advances one row inside a transaction: lock the
// row, verify the current state, apply the patch. Returns (false, nil) when
// the row is no longer in the from state (a concurrent actor won).
func (s *Store) UpdateState(ctx context.Context, id string, from, to wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	if !wallpaper.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", wallpaper.ErrInvalidTransition, from, to)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, mapPgError(err, "update state: begin")
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT upload_state FROM wallpapers WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		return false, mapPgError(err, "update state: lock")
	}
	if wallpaper.UploadState(current) != from {
		return false, nil
	}

	if err := execStateUpdate(ctx, tx, id, to, patch); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, mapPgError(err, "update state: commit")
	}
	return true, nil
}

// execStateUpdate applies the transition UPDATE on the given transaction.
// The caller has already verified the current state under a row lock.
func execStateUpdate(ctx context.Context, tx pgx.Tx, id string, to wallpaper.UploadState, patch *wallpaper.StatePatch) error {
	set, args := buildPatchSet(
		"upload_state = $2, state_changed_at = now(), updated_at = now()",
		[]any{id, string(to)},
		patch,
	)

	query := "UPDATE wallpapers SET " + set + " WHERE id = $1"
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return mapPgError(err, "update state: apply")
	}
	return nil
}

// execPatchUpdate applies a patch-only UPDATE: columns change but the state
// and state_changed_at stay put. The caller has verified the current state.
func execPatchUpdate(ctx context.Context, tx pgx.Tx, id string, patch *wallpaper.StatePatch) error {
	set, args := buildPatchSet("updated_at = now()", []any{id}, patch)

	query := "UPDATE wallpapers SET " + set + " WHERE id = $1"
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return mapPgError(err, "patch: apply")
	}
	return nil
}

// buildPatchSet appends the patch's columns to a base SET clause and
// argument list.
func buildPatchSet(set string, args []any, patch *wallpaper.StatePatch) (string, []any) {
	if patch != nil {
		add := func(column string, value any) {
			args = append(args, value)
			set += fmt.Sprintf(", %s = $%d", column, len(args))
		}

		if patch.IncrementAttempts {
			set += ", upload_attempts = upload_attempts + 1"
		}
		if patch.ProcessingError != nil {
			add("processing_error", *patch.ProcessingError)
		}
		if patch.ContentHash != nil {
			add("content_hash", *patch.ContentHash)
		}
		if patch.FileType != nil {
			add("file_type", string(*patch.FileType))
		}
		if patch.MimeType != nil {
			add("mime_type", *patch.MimeType)
		}
		if patch.FileSizeBytes != nil {
			add("file_size_bytes", *patch.FileSizeBytes)
		}
		if patch.Width != nil {
			add("width", *patch.Width)
		}
		if patch.Height != nil {
			add("height", *patch.Height)
		}
		if patch.AspectRatio != nil {
			add("aspect_ratio", *patch.AspectRatio)
		}
		if patch.OriginalFilename != nil {
			add("original_filename", *patch.OriginalFilename)
		}
		if patch.StorageKey != nil {
			add("storage_key", *patch.StorageKey)
		}
		if patch.StorageBucket != nil {
			add("storage_bucket", *patch.StorageBucket)
		}
		if patch.UploadedAt != nil {
			add("uploaded_at", *patch.UploadedAt)
		}
	}

	return set, args
}

// Patch applies column updates without a state transition, conditional on the
// row still being in state.
func (s *Store) Patch(ctx context.Context, id string, state wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, mapPgError(err, "patch: begin")
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT upload_state FROM wallpapers WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		return false, mapPgError(err, "patch: lock")
	}
	if wallpaper.UploadState(current) != state {
		return false, nil
	}

	if err := execPatchUpdate(ctx, tx, id, patch); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, mapPgError(err, "patch: commit")
	}
	return true, nil
}

// claim implements wallpaper.Claim on the claiming transaction. The row
// locks taken by the SELECT ... FOR UPDATE SKIP LOCKED stay held until the
// transaction ends, so mutations through the claim cannot race with other
// instances.
type claim struct {
	tx   pgx.Tx
	rows []*wallpaper.Wallpaper
}

var _ wallpaper.Claim = (*claim)(nil)

func (c *claim) Rows() []*wallpaper.Wallpaper {
	return c.rows
}

func (c *claim) UpdateState(ctx context.Context, id string, from, to wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	if !wallpaper.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", wallpaper.ErrInvalidTransition, from, to)
	}

	// The row is already locked; re-check the state without FOR UPDATE.
	var current string
	err := c.tx.QueryRow(ctx, `SELECT upload_state FROM wallpapers WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return false, mapPgError(err, "claim update: check")
	}
	if wallpaper.UploadState(current) != from {
		return false, nil
	}

	if err := execStateUpdate(ctx, c.tx, id, to, patch); err != nil {
		return false, err
	}
	return true, nil
}

func (c *claim) Patch(ctx context.Context, id string, state wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	var current string
	err := c.tx.QueryRow(ctx, `SELECT upload_state FROM wallpapers WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return false, mapPgError(err, "claim patch: check")
	}
	if wallpaper.UploadState(current) != state {
		return false, nil
	}

	if err := execPatchUpdate(ctx, c.tx, id, patch); err != nil {
		return false, err
	}
	return true, nil
}

func (c *claim) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := c.tx.Exec(ctx, `DELETE FROM wallpapers WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, mapPgError(err, "claim delete")
	}
	return tag.RowsAffected(), nil
}

// ClaimStuck locks up to limit rows stuck in state longer than olderThan and
// hands them to fn. SKIP LOCKED makes concurrent instances claim disjoint
// batches; an instance that dies mid-claim releases its locks with the
// connection and the rows become claimable again.
func (s *Store) ClaimStuck(ctx context.Context, state wallpaper.UploadState, olderThan time.Duration, limit int, fn func(ctx context.Context, c wallpaper.Claim) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgError(err, "claim stuck: begin")
	}
	defer tx.Rollback(ctx)

	query := `SELECT` + wallpaperColumns + `
		FROM wallpapers
		WHERE upload_state = $1
		  AND state_changed_at < $2
		ORDER BY state_changed_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	cutoff := time.Now().Add(-olderThan)
	rows, err := tx.Query(ctx, query, string(state), cutoff, limit)
	if err != nil {
		return mapPgError(err, "claim stuck: select")
	}

	claimed := make([]*wallpaper.Wallpaper, 0, limit)
	for rows.Next() {
		w, err := scanWallpaper(rows)
		if err != nil {
			rows.Close()
			return mapPgError(err, "claim stuck: scan")
		}
		claimed = append(claimed, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapPgError(err, "claim stuck: rows")
	}

	if len(claimed) == 0 {
		return nil
	}

	if err := fn(ctx, &claim{tx: tx, rows: claimed}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err, "claim stuck: commit")
	}
	return nil
}
