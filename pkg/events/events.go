// Package events defines the typed event contracts of the ingestion core
// and the publisher/consumer bases that enforce them: envelope generation,
// schema validation, trace-context header propagation and the
// retry/termination policy for consumers.
package events

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// Subjects carried on the wallpaper stream.
const (
	SubjectWallpaperUploaded = "wallpaper.uploaded"
	SubjectVariantAvailable  = "wallpaper.variant.available"
)

// SubjectWildcard covers every subject of the stream.
const SubjectWildcard = "wallpaper.>"

// Message header names. The event id travels both in the payload and in a
// header so consumers can deduplicate without parsing the body.
const (
	HeaderEventID     = "Event-Id"
	HeaderEventType   = "Event-Type"
	HeaderTraceParent = "traceparent"
)

// Envelope is the common leading shape of every event payload.
type Envelope struct {
	EventID   string    `json:"eventId"   validate:"required"`
	EventType string    `json:"eventType" validate:"required"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// UploadedWallpaper is the wallpaper body of a wallpaper.uploaded event.
type UploadedWallpaper struct {
	ID               string    `json:"id"               validate:"required"`
	UserID           string    `json:"userId"           validate:"required"`
	FileType         string    `json:"fileType"         validate:"required,oneof=image video"`
	MimeType         string    `json:"mimeType"         validate:"required"`
	FileSizeBytes    int64     `json:"fileSizeBytes"    validate:"required,gt=0"`
	Width            int       `json:"width"            validate:"required,gt=0"`
	Height           int       `json:"height"           validate:"required,gt=0"`
	AspectRatio      float64   `json:"aspectRatio"      validate:"required,gt=0"`
	StorageKey       string    `json:"storageKey"       validate:"required"`
	StorageBucket    string    `json:"storageBucket"    validate:"required"`
	OriginalFilename string    `json:"originalFilename"`
	UploadedAt       time.Time `json:"uploadedAt"       validate:"required"`
}

// WallpaperUploaded announces a durably stored original.
type WallpaperUploaded struct {
	Envelope
	Wallpaper UploadedWallpaper `json:"wallpaper" validate:"required"`
}

// Variant is the variant body of a wallpaper.variant.available event.
type Variant struct {
	WallpaperID   string    `json:"wallpaperId"   validate:"required"`
	Width         int       `json:"width"         validate:"required,gt=0"`
	Height        int       `json:"height"        validate:"required,gt=0"`
	AspectRatio   float64   `json:"aspectRatio"   validate:"required,gt=0"`
	Format        string    `json:"format"        validate:"required,oneof=image/jpeg image/png image/webp"`
	FileSizeBytes int64     `json:"fileSizeBytes" validate:"required,gt=0"`
	CreatedAt     time.Time `json:"createdAt"     validate:"required"`
}

// VariantAvailable announces a resized variant produced by the media
// service. The core consumes it to close out processing rows; publishing
// support exists for round-trip tests.
type VariantAvailable struct {
	Envelope
	Variant Variant `json:"variant" validate:"required"`
}

// UploadedFromRow builds the event body from a wallpaper row.
func UploadedFromRow(w *wallpaper.Wallpaper) UploadedWallpaper {
	return UploadedWallpaper{
		ID:               w.ID,
		UserID:           w.UserID,
		FileType:         string(w.FileType),
		MimeType:         w.MimeType,
		FileSizeBytes:    w.FileSizeBytes,
		Width:            w.Width,
		Height:           w.Height,
		AspectRatio:      w.AspectRatio,
		StorageKey:       w.StorageKey,
		StorageBucket:    w.StorageBucket,
		OriginalFilename: w.OriginalFilename,
		UploadedAt:       w.UploadedAt,
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(crand.Reader, 0)
)

// NewEventID generates a fresh event identifier (a bare ULID).
func NewEventID() string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return id.String()
}
