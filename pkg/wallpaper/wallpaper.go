// Package wallpaper defines the domain model for the ingestion core: the
// wallpaper record, its upload lifecycle and the identifier/key schemes.
package wallpaper

import (
	crand "crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDPrefix is prepended to every wallpaper identifier.
const IDPrefix = "wlpr_"

// MaxUploadAttempts is the number of object-store write attempts before a
// row is moved to the failed state.
const MaxUploadAttempts = 3

// ErrMaxRetries is the processing error recorded when the attempt budget is
// exhausted. Stored verbatim on the row so operators can query for it.
const ErrMaxRetries = "Max retries exceeded"

// FileType classifies the uploaded media.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

// Wallpaper is the sole persistent entity of the ingestion core.
//
// File attributes (FileType through StorageBucket) are populated once the
// object is durably written; rows in stored, processing or completed always
// carry them (enforced by the state machine and the schema).
type Wallpaper struct {
	ID             string
	UserID         string
	ContentHash    string // hex SHA-256, empty until known
	UploadState    UploadState
	StateChangedAt time.Time
	UploadAttempts int
	ProcessingError string

	FileType         FileType
	MimeType         string
	FileSizeBytes    int64
	Width            int
	Height           int
	AspectRatio      float64
	OriginalFilename string
	StorageKey       string
	StorageBucket    string

	UploadedAt time.Time
	UpdatedAt  time.Time
}

// HasMetadata reports whether all file attributes required for a successful
// state are present on the row.
func (w *Wallpaper) HasMetadata() bool {
	return w.StorageKey != "" &&
		w.StorageBucket != "" &&
		w.FileType != "" &&
		w.MimeType != "" &&
		w.FileSizeBytes > 0 &&
		w.Width > 0 &&
		w.Height > 0
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(crand.Reader, 0)
)

// NewID generates a fresh wallpaper identifier: "wlpr_" + ULID.
// ULIDs sort by creation time, which keeps the primary key index append-mostly.
func NewID() string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return IDPrefix + id.String()
}

// mimeExtensions maps the accepted MIME types to the object key extension.
var mimeExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// ExtensionForMime returns the storage key extension for an accepted MIME
// type, or "bin" for anything else.
func ExtensionForMime(mime string) string {
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	return "bin"
}

// ObjectKey returns the content-addressed object key for a wallpaper:
// "{id}/original.{ext}". The single configured bucket holds all originals.
func ObjectKey(id, mimeType string) string {
	return fmt.Sprintf("%s/original.%s", id, ExtensionForMime(mimeType))
}

// IDFromObjectKey extracts the wallpaper id from an object key of the shape
// "{id}/original.{ext}". Returns ("", false) for keys the core did not write.
func IDFromObjectKey(key string) (string, bool) {
	id, rest, ok := strings.Cut(key, "/")
	if !ok || !strings.HasPrefix(id, IDPrefix) {
		return "", false
	}
	if !strings.HasPrefix(rest, "original.") || strings.Contains(rest, "/") {
		return "", false
	}
	return id, true
}
