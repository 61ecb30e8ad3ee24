// Package memory implements the wallpaper store in process memory.
//
// It mirrors the PostgreSQL adapter's semantics closely enough for unit
// tests: conditional state updates, the partial-unique deduplication rule and
// claim batches that are invisible to concurrent claimers until released.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// Store is an in-memory wallpaper.Store.
type Store struct {
	mu      sync.Mutex
	rows    map[string]*wallpaper.Wallpaper
	claimed map[string]bool

	// now is swappable in tests to control stuck-row cutoffs.
	now func() time.Time
}

var _ wallpaper.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		rows:    make(map[string]*wallpaper.Wallpaper),
		claimed: make(map[string]bool),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test helper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func copyRow(w *wallpaper.Wallpaper) *wallpaper.Wallpaper {
	c := *w
	return &c
}

// hasDuplicate reports whether another row holds the (user, hash) anchor in a
// successful state. Mirrors the partial unique index.
func (s *Store) hasDuplicate(exceptID, userID, contentHash string) bool {
	if contentHash == "" {
		return false
	}
	for _, row := range s.rows {
		if row.ID != exceptID && row.UserID == userID &&
			row.ContentHash == contentHash && row.UploadState.Successful() {
			return true
		}
	}
	return false
}

// InsertIntent persists a fresh row in the initiated state.
func (s *Store) InsertIntent(_ context.Context, w *wallpaper.Wallpaper) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[w.ID]; exists {
		return wallpaper.ErrDuplicate
	}

	now := s.now()
	row := copyRow(w)
	row.UploadState = wallpaper.StateInitiated
	row.StateChangedAt = now
	row.UpdatedAt = now
	s.rows[row.ID] = row
	return nil
}

// GetByID fetches one row.
func (s *Store) GetByID(_ context.Context, id string) (*wallpaper.Wallpaper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, wallpaper.ErrNotFound
	}
	return copyRow(row), nil
}

// FindByUserHash looks up the deduplication anchor.
func (s *Store) FindByUserHash(_ context.Context, userID, contentHash string) (*wallpaper.Wallpaper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.UserID == userID && row.ContentHash == contentHash && row.UploadState.Successful() {
			return copyRow(row), nil
		}
	}
	return nil, wallpaper.ErrNotFound
}

// applyPatch mutates row with the transition and patch. Caller holds mu.
func (s *Store) applyPatch(row *wallpaper.Wallpaper, to wallpaper.UploadState, patch *wallpaper.StatePatch) {
	now := s.now()
	row.UploadState = to
	row.StateChangedAt = now
	row.UpdatedAt = now
	s.applyPatchColumns(row, patch)
}

// applyPatchColumns mutates row's columns only. Caller holds mu.
func (s *Store) applyPatchColumns(row *wallpaper.Wallpaper, patch *wallpaper.StatePatch) {
	if patch == nil {
		return
	}
	if patch.IncrementAttempts {
		row.UploadAttempts++
	}
	if patch.ProcessingError != nil {
		row.ProcessingError = *patch.ProcessingError
	}
	if patch.ContentHash != nil {
		row.ContentHash = *patch.ContentHash
	}
	if patch.FileType != nil {
		row.FileType = *patch.FileType
	}
	if patch.MimeType != nil {
		row.MimeType = *patch.MimeType
	}
	if patch.FileSizeBytes != nil {
		row.FileSizeBytes = *patch.FileSizeBytes
	}
	if patch.Width != nil {
		row.Width = *patch.Width
	}
	if patch.Height != nil {
		row.Height = *patch.Height
	}
	if patch.AspectRatio != nil {
		row.AspectRatio = *patch.AspectRatio
	}
	if patch.OriginalFilename != nil {
		row.OriginalFilename = *patch.OriginalFilename
	}
	if patch.StorageKey != nil {
		row.StorageKey = *patch.StorageKey
	}
	if patch.StorageBucket != nil {
		row.StorageBucket = *patch.StorageBucket
	}
	if patch.UploadedAt != nil {
		row.UploadedAt = *patch.UploadedAt
	}
}

// updateStateLocked is the shared conditional transition. Caller holds mu.
func (s *Store) updateStateLocked(id string, from, to wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	if !wallpaper.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", wallpaper.ErrInvalidTransition, from, to)
	}

	row, ok := s.rows[id]
	if !ok {
		return false, wallpaper.ErrNotFound
	}
	if row.UploadState != from {
		return false, nil
	}

	// Entering a successful state makes the row visible to the dedup rule.
	hash := row.ContentHash
	if patch != nil && patch.ContentHash != nil {
		hash = *patch.ContentHash
	}
	if to.Successful() && !from.Successful() && s.hasDuplicate(id, row.UserID, hash) {
		return false, wallpaper.ErrDuplicate
	}

	s.applyPatch(row, to, patch)
	return true, nil
}

// UpdateState conditionally advances one row.
func (s *Store) UpdateState(_ context.Context, id string, from, to wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimed[id] {
		// A claim holds the row; a relational store would block here. The
		// in-memory adapter reports a lost race instead, which exercises
		// the same caller path.
		return false, nil
	}
	return s.updateStateLocked(id, from, to, patch)
}

// patchLocked applies a patch-only update. The state and state_changed_at
// stay put. Caller holds mu.
func (s *Store) patchLocked(id string, state wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	row, ok := s.rows[id]
	if !ok {
		return false, wallpaper.ErrNotFound
	}
	if row.UploadState != state {
		return false, nil
	}

	s.applyPatchColumns(row, patch)
	row.UpdatedAt = s.now()
	return true, nil
}

// Patch applies column updates without a state transition.
func (s *Store) Patch(_ context.Context, id string, state wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimed[id] {
		return false, nil
	}
	return s.patchLocked(id, state, patch)
}

// claim implements wallpaper.Claim over a snapshot of claimed ids.
type claim struct {
	store *Store
	rows  []*wallpaper.Wallpaper
	ids   map[string]bool
}

var _ wallpaper.Claim = (*claim)(nil)

func (c *claim) Rows() []*wallpaper.Wallpaper {
	return c.rows
}

func (c *claim) UpdateState(_ context.Context, id string, from, to wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if !c.ids[id] {
		return false, fmt.Errorf("wallpaper %s is not part of this claim", id)
	}
	return c.store.updateStateLocked(id, from, to, patch)
}

func (c *claim) Patch(_ context.Context, id string, state wallpaper.UploadState, patch *wallpaper.StatePatch) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if !c.ids[id] {
		return false, fmt.Errorf("wallpaper %s is not part of this claim", id)
	}
	return c.store.patchLocked(id, state, patch)
}

func (c *claim) Delete(_ context.Context, ids []string) (int64, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if !c.ids[id] {
			return deleted, fmt.Errorf("wallpaper %s is not part of this claim", id)
		}
		if _, ok := c.store.rows[id]; ok {
			delete(c.store.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// ClaimStuck claims up to limit unclaimed rows stuck in state and hands them
// to fn. Claimed rows are skipped by concurrent claimers until fn returns,
// matching FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimStuck(ctx context.Context, state wallpaper.UploadState, olderThan time.Duration, limit int, fn func(ctx context.Context, c wallpaper.Claim) error) error {
	s.mu.Lock()
	cutoff := s.now().Add(-olderThan)

	candidates := make([]*wallpaper.Wallpaper, 0)
	for _, row := range s.rows {
		if row.UploadState == state && row.StateChangedAt.Before(cutoff) && !s.claimed[row.ID] {
			candidates = append(candidates, row)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StateChangedAt.Before(candidates[j].StateChangedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	if len(candidates) == 0 {
		s.mu.Unlock()
		return nil
	}

	c := &claim{
		store: s,
		rows:  make([]*wallpaper.Wallpaper, 0, len(candidates)),
		ids:   make(map[string]bool, len(candidates)),
	}
	for _, row := range candidates {
		s.claimed[row.ID] = true
		c.ids[row.ID] = true
		c.rows = append(c.rows, copyRow(row))
	}
	s.mu.Unlock()

	err := fn(ctx, c)

	s.mu.Lock()
	for id := range c.ids {
		delete(s.claimed, id)
	}
	s.mu.Unlock()

	return err
}

// Healthcheck always succeeds.
func (s *Store) Healthcheck(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// Len returns the number of rows. Test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Put inserts or replaces a row verbatim. Test helper for seeding arbitrary
// states without walking the state machine.
func (s *Store) Put(w *wallpaper.Wallpaper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[w.ID] = copyRow(w)
}
