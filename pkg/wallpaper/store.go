package wallpaper

import (
	"context"
	"errors"
	"time"
)

// Standard wallpaper store errors. Adapters map backend failures onto these
// so callers can branch without importing driver packages.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("wallpaper not found")

	// ErrDuplicate indicates the (user_id, content_hash) deduplication
	// anchor rejected an insert or update. Callers resolve it by re-running
	// the dedup lookup and answering already_uploaded.
	ErrDuplicate = errors.New("duplicate wallpaper for user and content hash")

	// ErrInvalidTransition indicates a requested state change the state
	// machine forbids. This is a programming error, not a race; races
	// surface as UpdateState returning applied=false.
	ErrInvalidTransition = errors.New("invalid upload state transition")

	// ErrUnavailable indicates the backing store is temporarily unreachable.
	// Retrying may succeed.
	ErrUnavailable = errors.New("wallpaper store unavailable")
)

// StatePatch carries the column updates applied together with a state
// transition. Nil fields are left untouched.
type StatePatch struct {
	IncrementAttempts bool
	ProcessingError   *string

	ContentHash      *string
	FileType         *FileType
	MimeType         *string
	FileSizeBytes    *int64
	Width            *int
	Height           *int
	AspectRatio      *float64
	OriginalFilename *string
	StorageKey       *string
	StorageBucket    *string
	UploadedAt       *time.Time
}

// Claim is a batch of rows locked by ClaimStuck. Mutations through the claim
// run inside the claiming transaction, so the row locks span the work and
// concurrent instances cannot double-process the batch.
type Claim interface {
	// Rows returns the claimed rows, oldest state change first.
	Rows() []*Wallpaper

	// UpdateState conditionally advances one claimed row. It returns
	// (false, nil) when the row is no longer in the from state.
	UpdateState(ctx context.Context, id string, from, to UploadState, patch *StatePatch) (bool, error)

	// Patch applies column updates to one claimed row without a state
	// transition, conditional on the row still being in state.
	// state_changed_at is left untouched; only transitions move it.
	Patch(ctx context.Context, id string, state UploadState, patch *StatePatch) (bool, error)

	// Delete removes claimed rows by id and returns the count removed.
	Delete(ctx context.Context, ids []string) (int64, error)
}

// Store is the relational adapter for wallpaper rows.
//
// UpdateState is the only mutation path after insert: it locks the row,
// verifies the current state equals from, applies the patch plus
// state_changed_at/updated_at, and reports whether the update applied.
type Store interface {
	// InsertIntent persists a fresh row in the initiated state.
	InsertIntent(ctx context.Context, w *Wallpaper) error

	// GetByID fetches one row. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*Wallpaper, error)

	// FindByUserHash looks up the deduplication anchor: the row for
	// (userID, contentHash) in a successful state. Returns ErrNotFound
	// when no such row exists.
	FindByUserHash(ctx context.Context, userID, contentHash string) (*Wallpaper, error)

	// UpdateState conditionally advances one row (see Store doc).
	UpdateState(ctx context.Context, id string, from, to UploadState, patch *StatePatch) (bool, error)

	// Patch applies column updates without a state transition, conditional
	// on the row still being in state. Returns (false, nil) when the row
	// has moved on.
	Patch(ctx context.Context, id string, state UploadState, patch *StatePatch) (bool, error)

	// ClaimStuck locks up to limit rows in state whose state_changed_at is
	// older than olderThan, skipping rows locked by other instances, and
	// invokes fn with the claim. The locks are released when fn returns.
	ClaimStuck(ctx context.Context, state UploadState, olderThan time.Duration, limit int, fn func(ctx context.Context, c Claim) error) error

	// Healthcheck verifies connectivity with a lightweight round trip.
	Healthcheck(ctx context.Context) error

	// Close releases the underlying pool.
	Close()
}
