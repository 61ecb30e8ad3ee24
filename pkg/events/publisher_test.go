package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wallvault/wallvault/pkg/events"
	eventsmem "github.com/wallvault/wallvault/pkg/events/memory"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

func storedRow() *wallpaper.Wallpaper {
	return &wallpaper.Wallpaper{
		ID:               "wlpr_01HTEST",
		UserID:           "user-1",
		UploadState:      wallpaper.StateStored,
		FileType:         wallpaper.FileTypeImage,
		MimeType:         "image/jpeg",
		FileSizeBytes:    2048,
		Width:            1920,
		Height:           1080,
		AspectRatio:      16.0 / 9.0,
		OriginalFilename: "sunset.jpg",
		StorageKey:       "wlpr_01HTEST/original.jpg",
		StorageBucket:    "wallpapers",
		UploadedAt:       time.Now().UTC(),
	}
}

func TestPublishWallpaperUploaded(t *testing.T) {
	stream := eventsmem.New()
	pub := events.NewPublisher(stream, nil)

	if err := pub.PublishWallpaperUploaded(context.Background(), storedRow()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msgs := stream.Published(events.SubjectWallpaperUploaded)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}

	var ev events.WallpaperUploaded
	if err := json.Unmarshal(msgs[0].Data, &ev); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if ev.EventID == "" {
		t.Error("expected eventId to be filled")
	}
	if ev.EventType != events.SubjectWallpaperUploaded {
		t.Errorf("expected eventType %s, got %s", events.SubjectWallpaperUploaded, ev.EventType)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled")
	}
	if ev.Wallpaper.ID != "wlpr_01HTEST" {
		t.Errorf("expected wallpaper id to round-trip, got %s", ev.Wallpaper.ID)
	}

	// The event id also travels in a header for consumer-side dedup.
	if got := msgs[0].Headers[events.HeaderEventID]; got != ev.EventID {
		t.Errorf("expected %s header %q, got %q", events.HeaderEventID, ev.EventID, got)
	}
	if got := msgs[0].Headers[events.HeaderEventType]; got != events.SubjectWallpaperUploaded {
		t.Errorf("expected %s header, got %q", events.HeaderEventType, got)
	}
}

func TestPublishRejectsIncompletePayload(t *testing.T) {
	stream := eventsmem.New()
	pub := events.NewPublisher(stream, nil)

	row := storedRow()
	row.Width = 0 // metadata incomplete

	if err := pub.PublishWallpaperUploaded(context.Background(), row); err == nil {
		t.Fatal("expected schema validation error")
	}
	if n := len(stream.Published("")); n != 0 {
		t.Fatalf("expected nothing published, got %d messages", n)
	}
}

func TestPublishVariantAvailableRoundTrip(t *testing.T) {
	stream := eventsmem.New()
	pub := events.NewPublisher(stream, nil)

	v := events.Variant{
		WallpaperID:   "wlpr_01HTEST",
		Width:         1280,
		Height:        720,
		AspectRatio:   16.0 / 9.0,
		Format:        "image/webp",
		FileSizeBytes: 512,
		CreatedAt:     time.Now().UTC(),
	}
	if err := pub.PublishVariantAvailable(context.Background(), v); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msgs := stream.Published(events.SubjectVariantAvailable)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}

	var ev events.VariantAvailable
	if err := json.Unmarshal(msgs[0].Data, &ev); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if ev.Variant.WallpaperID != v.WallpaperID {
		t.Errorf("expected wallpaper id %s, got %s", v.WallpaperID, ev.Variant.WallpaperID)
	}
}
