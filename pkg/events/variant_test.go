package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wallvault/wallvault/pkg/events"
	storemem "github.com/wallvault/wallvault/pkg/store/wallpaper/memory"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

func variantEventData(t *testing.T, wallpaperID string) (events.Envelope, []byte) {
	t.Helper()

	ev := events.VariantAvailable{
		Envelope: events.Envelope{
			EventID:   events.NewEventID(),
			EventType: events.SubjectVariantAvailable,
			Timestamp: time.Now().UTC(),
		},
		Variant: events.Variant{
			WallpaperID:   wallpaperID,
			Width:         1280,
			Height:        720,
			AspectRatio:   16.0 / 9.0,
			Format:        "image/webp",
			FileSizeBytes: 512,
			CreatedAt:     time.Now().UTC(),
		},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return ev.Envelope, data
}

func TestVariantCompletesProcessingRow(t *testing.T) {
	store := storemem.New()
	ctx := context.Background()

	w := &wallpaper.Wallpaper{
		ID:             wallpaper.NewID(),
		UserID:         "user-1",
		UploadState:    wallpaper.StateProcessing,
		StateChangedAt: time.Now(),
	}
	store.Put(w)

	handler := events.NewVariantHandler(store, nil)
	env, data := variantEventData(t, w.ID)

	if err := handler(ctx, env, data); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	got, err := store.GetByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("failed to get wallpaper: %v", err)
	}
	if got.UploadState != wallpaper.StateCompleted {
		t.Errorf("expected completed, got %s", got.UploadState)
	}
}

func TestVariantIsIdempotent(t *testing.T) {
	store := storemem.New()
	ctx := context.Background()

	w := &wallpaper.Wallpaper{
		ID:             wallpaper.NewID(),
		UserID:         "user-1",
		UploadState:    wallpaper.StateCompleted,
		StateChangedAt: time.Now(),
	}
	store.Put(w)

	handler := events.NewVariantHandler(store, nil)
	env, data := variantEventData(t, w.ID)

	// Redelivery after completion must not error (the message gets acked).
	if err := handler(ctx, env, data); err != nil {
		t.Fatalf("expected idempotent success, got %v", err)
	}

	got, _ := store.GetByID(ctx, w.ID)
	if got.UploadState != wallpaper.StateCompleted {
		t.Errorf("state changed unexpectedly to %s", got.UploadState)
	}
}

func TestVariantForUnknownWallpaper(t *testing.T) {
	store := storemem.New()
	handler := events.NewVariantHandler(store, nil)

	env, data := variantEventData(t, "wlpr_gone")
	if err := handler(context.Background(), env, data); err != nil {
		t.Fatalf("expected deleted wallpaper to be ignored, got %v", err)
	}
}
