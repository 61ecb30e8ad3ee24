package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wallvault/wallvault/pkg/wallpaper"
)

func newIntent(t *testing.T, s *Store, userID string) *wallpaper.Wallpaper {
	t.Helper()

	w := &wallpaper.Wallpaper{
		ID:               wallpaper.NewID(),
		UserID:           userID,
		OriginalFilename: "sunset.jpg",
	}
	if err := s.InsertIntent(context.Background(), w); err != nil {
		t.Fatalf("failed to insert intent: %v", err)
	}
	return w
}

// advance walks a row through the state machine up to target.
func advance(t *testing.T, s *Store, id string, target wallpaper.UploadState, patch *wallpaper.StatePatch) {
	t.Helper()
	ctx := context.Background()

	path := []wallpaper.UploadState{
		wallpaper.StateInitiated,
		wallpaper.StateUploading,
		wallpaper.StateStored,
		wallpaper.StateProcessing,
		wallpaper.StateCompleted,
	}
	for i := 0; i+1 < len(path); i++ {
		var p *wallpaper.StatePatch
		if path[i+1] == target {
			p = patch
		}
		applied, err := s.UpdateState(ctx, id, path[i], path[i+1], p)
		if err != nil {
			t.Fatalf("failed to advance %s -> %s: %v", path[i], path[i+1], err)
		}
		if !applied {
			t.Fatalf("transition %s -> %s did not apply", path[i], path[i+1])
		}
		if path[i+1] == target {
			return
		}
	}
	t.Fatalf("unreachable target state %s", target)
}

func strPtr(s string) *string { return &s }

func storedPatch(hash string) *wallpaper.StatePatch {
	ft := wallpaper.FileTypeImage
	size := int64(2048)
	width, height := 1920, 1080
	ratio := 16.0 / 9.0
	key := "wlpr_x/original.jpg"
	bucket := "wallpapers"
	now := time.Now()
	return &wallpaper.StatePatch{
		ContentHash:   &hash,
		FileType:      &ft,
		MimeType:      strPtr("image/jpeg"),
		FileSizeBytes: &size,
		Width:         &width,
		Height:        &height,
		AspectRatio:   &ratio,
		StorageKey:    &key,
		StorageBucket: &bucket,
		UploadedAt:    &now,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := New()
	w := newIntent(t, s, "user-1")

	got, err := s.GetByID(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("failed to get wallpaper: %v", err)
	}
	if got.UploadState != wallpaper.StateInitiated {
		t.Errorf("expected state initiated, got %s", got.UploadState)
	}
	if got.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", got.UserID)
	}
	if got.StateChangedAt.IsZero() {
		t.Error("expected state_changed_at to be set")
	}
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := s.GetByID(context.Background(), "wlpr_missing")
	if !errors.Is(err, wallpaper.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStateConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := newIntent(t, s, "user-1")

	applied, err := s.UpdateState(ctx, w.ID, wallpaper.StateInitiated, wallpaper.StateUploading, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to apply")
	}

	// The row left initiated; a second identical transition loses the race.
	applied, err = s.UpdateState(ctx, w.ID, wallpaper.StateInitiated, wallpaper.StateUploading, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected stale transition to report applied=false")
	}
}

func TestUpdateStateInvalidTransition(t *testing.T) {
	s := New()
	w := newIntent(t, s, "user-1")

	_, err := s.UpdateState(context.Background(), w.ID, wallpaper.StateInitiated, wallpaper.StateCompleted, nil)
	if !errors.Is(err, wallpaper.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestFailedIsTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := newIntent(t, s, "user-1")
	advance(t, s, w.ID, wallpaper.StateUploading, nil)

	msg := wallpaper.ErrMaxRetries
	applied, err := s.UpdateState(ctx, w.ID, wallpaper.StateUploading, wallpaper.StateFailed,
		&wallpaper.StatePatch{ProcessingError: &msg})
	if err != nil || !applied {
		t.Fatalf("failed to mark failed: applied=%v err=%v", applied, err)
	}

	_, err = s.UpdateState(ctx, w.ID, wallpaper.StateFailed, wallpaper.StateUploading, nil)
	if !errors.Is(err, wallpaper.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition leaving failed, got %v", err)
	}

	got, err := s.GetByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("failed to get wallpaper: %v", err)
	}
	if got.ProcessingError != wallpaper.ErrMaxRetries {
		t.Errorf("expected processing error %q, got %q", wallpaper.ErrMaxRetries, got.ProcessingError)
	}
}

func TestIncrementAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := newIntent(t, s, "user-1")

	applied, err := s.UpdateState(ctx, w.ID, wallpaper.StateInitiated, wallpaper.StateUploading,
		&wallpaper.StatePatch{IncrementAttempts: true})
	if err != nil || !applied {
		t.Fatalf("failed to transition: applied=%v err=%v", applied, err)
	}

	got, _ := s.GetByID(ctx, w.ID)
	if got.UploadAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.UploadAttempts)
	}
}

func TestFindByUserHash(t *testing.T) {
	s := New()
	ctx := context.Background()

	w := newIntent(t, s, "user-1")
	advance(t, s, w.ID, wallpaper.StateStored, storedPatch("abc123"))

	got, err := s.FindByUserHash(ctx, "user-1", "abc123")
	if err != nil {
		t.Fatalf("expected dedup hit: %v", err)
	}
	if got.ID != w.ID {
		t.Errorf("expected %s, got %s", w.ID, got.ID)
	}

	// Different user, same hash: no hit.
	if _, err := s.FindByUserHash(ctx, "user-2", "abc123"); !errors.Is(err, wallpaper.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestFindByUserHashIgnoresFailedRows(t *testing.T) {
	s := New()
	ctx := context.Background()

	w := newIntent(t, s, "user-1")
	advance(t, s, w.ID, wallpaper.StateUploading, nil)
	hash := "abc123"
	msg := wallpaper.ErrMaxRetries
	applied, err := s.UpdateState(ctx, w.ID, wallpaper.StateUploading, wallpaper.StateFailed,
		&wallpaper.StatePatch{ContentHash: &hash, ProcessingError: &msg})
	if err != nil || !applied {
		t.Fatalf("failed to mark failed: applied=%v err=%v", applied, err)
	}

	if _, err := s.FindByUserHash(ctx, "user-1", "abc123"); !errors.Is(err, wallpaper.ErrNotFound) {
		t.Fatalf("expected failed rows to be invisible to dedup, got %v", err)
	}
}

func TestDuplicateOnEnteringStored(t *testing.T) {
	s := New()

	first := newIntent(t, s, "user-1")
	advance(t, s, first.ID, wallpaper.StateStored, storedPatch("samehash"))

	second := newIntent(t, s, "user-1")
	advance(t, s, second.ID, wallpaper.StateUploading, nil)
	_, err := s.UpdateState(context.Background(), second.ID, wallpaper.StateUploading, wallpaper.StateStored, storedPatch("samehash"))
	if !errors.Is(err, wallpaper.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestClaimStuckSelectsOldRows(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := &wallpaper.Wallpaper{
		ID:             wallpaper.NewID(),
		UserID:         "user-1",
		UploadState:    wallpaper.StateUploading,
		StateChangedAt: time.Now().Add(-20 * time.Minute),
	}
	fresh := &wallpaper.Wallpaper{
		ID:             wallpaper.NewID(),
		UserID:         "user-1",
		UploadState:    wallpaper.StateUploading,
		StateChangedAt: time.Now().Add(-time.Minute),
	}
	s.Put(old)
	s.Put(fresh)

	var claimed []string
	err := s.ClaimStuck(ctx, wallpaper.StateUploading, 10*time.Minute, 50, func(_ context.Context, c wallpaper.Claim) error {
		for _, row := range c.Rows() {
			claimed = append(claimed, row.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != old.ID {
		t.Fatalf("expected only the old row claimed, got %v", claimed)
	}
}

func TestClaimStuckHonorsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Put(&wallpaper.Wallpaper{
			ID:             wallpaper.NewID(),
			UserID:         "user-1",
			UploadState:    wallpaper.StateStored,
			StateChangedAt: time.Now().Add(-time.Hour),
		})
	}

	err := s.ClaimStuck(ctx, wallpaper.StateStored, 10*time.Minute, 2, func(_ context.Context, c wallpaper.Claim) error {
		if len(c.Rows()) != 2 {
			t.Errorf("expected 2 claimed rows, got %d", len(c.Rows()))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
}

func TestClaimStuckDisjointBatches(t *testing.T) {
	s := New()
	ctx := context.Background()

	const rows = 20
	for i := 0; i < rows; i++ {
		s.Put(&wallpaper.Wallpaper{
			ID:             wallpaper.NewID(),
			UserID:         "user-1",
			UploadState:    wallpaper.StateUploading,
			StateChangedAt: time.Now().Add(-time.Hour),
		})
	}

	// Two claimers race; claimed rows must not overlap while held.
	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	barrier := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ClaimStuck(ctx, wallpaper.StateUploading, 10*time.Minute, rows, func(_ context.Context, c wallpaper.Claim) error {
				mu.Lock()
				for _, row := range c.Rows() {
					seen[row.ID]++
				}
				mu.Unlock()
				<-barrier // hold the claim until both claimers selected
				return nil
			})
			if err != nil {
				t.Errorf("claim failed: %v", err)
			}
		}()
	}

	// Give both claimers time to select, then release.
	time.Sleep(50 * time.Millisecond)
	close(barrier)
	wg.Wait()

	for id, n := range seen {
		if n > 1 {
			t.Errorf("row %s claimed by %d claimers concurrently", id, n)
		}
	}
}

func TestClaimDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	w := &wallpaper.Wallpaper{
		ID:             wallpaper.NewID(),
		UserID:         "user-1",
		UploadState:    wallpaper.StateInitiated,
		StateChangedAt: time.Now().Add(-2 * time.Hour),
	}
	s.Put(w)

	err := s.ClaimStuck(ctx, wallpaper.StateInitiated, time.Hour, 50, func(ctx context.Context, c wallpaper.Claim) error {
		n, err := c.Delete(ctx, []string{w.ID})
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected 1 deleted, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if _, err := s.GetByID(ctx, w.ID); !errors.Is(err, wallpaper.ErrNotFound) {
		t.Fatalf("expected row deleted, got %v", err)
	}
}

func TestClaimBlocksDirectUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	w := &wallpaper.Wallpaper{
		ID:             wallpaper.NewID(),
		UserID:         "user-1",
		UploadState:    wallpaper.StateUploading,
		StateChangedAt: time.Now().Add(-time.Hour),
	}
	s.Put(w)

	err := s.ClaimStuck(ctx, wallpaper.StateUploading, 10*time.Minute, 1, func(ctx context.Context, c wallpaper.Claim) error {
		applied, err := s.UpdateState(ctx, w.ID, wallpaper.StateUploading, wallpaper.StateStored, storedPatch("h"))
		if err != nil {
			return err
		}
		if applied {
			t.Error("direct update applied while row was claimed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
}
