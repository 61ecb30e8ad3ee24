// Package validate implements the upload validation engine. Checks run in a
// fixed order and the first failure short-circuits; every failure carries the
// machine-readable code, HTTP status and extension fields for the RFC 7807
// response.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"

	_ "image/jpeg" // header-only dimension decoding
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// Failure codes. Each becomes the final segment of the problem type URI.
const (
	CodeMissingUserID      = "missing-user-id"
	CodeMissingFile        = "missing-file"
	CodeInvalidFileFormat  = "invalid-file-format"
	CodeFileTooLarge       = "file-too-large"
	CodeDimensionsOOB      = "dimensions-out-of-bounds"
	CodeUnreadableImage    = "unreadable-image"
)

// Error is a validation failure.
type Error struct {
	Code       string
	Status     int
	Detail     string
	Extensions map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Code, e.Detail)
}

// acceptedMimeTypes are the formats the core ingests.
var acceptedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// LimitSet is one user's effective validation limits.
type LimitSet struct {
	MaxFileSizeBytes int64
	MinWidth         int
	MinHeight        int
	MaxWidth         int
	MaxHeight        int
}

// DefaultLimitSet returns the global defaults: 50 MiB, 1280x720 (720p) to
// 7680x4320 (8K).
func DefaultLimitSet() LimitSet {
	return LimitSet{
		MaxFileSizeBytes: 50 * 1024 * 1024,
		MinWidth:         1280,
		MinHeight:        720,
		MaxWidth:         7680,
		MaxHeight:        4320,
	}
}

// Limits resolves the validation limits for a user. The default
// implementation returns globals; a premium-tier implementation can widen
// them per user.
type Limits interface {
	For(ctx context.Context, userID string) LimitSet
}

// GlobalLimits is the default Limits implementation: the same set for
// everyone.
type GlobalLimits struct {
	Set LimitSet
}

func (g GlobalLimits) For(context.Context, string) LimitSet {
	return g.Set
}

// Upload is the raw upload input to the engine.
type Upload struct {
	UserID string

	// HasFile is false when the multipart form had no file part at all.
	HasFile  bool
	Filename string
	Data     []byte
}

// Result carries everything the pipeline needs from a validated upload.
type Result struct {
	MimeType    string
	FileType    wallpaper.FileType
	Width       int
	Height      int
	AspectRatio float64

	// Filename is sanitized: no path separators or control characters,
	// at most 255 bytes. Never a rejection reason.
	Filename string
}

// Engine runs the validation checks.
type Engine struct {
	limits Limits
}

// NewEngine creates an engine with the given limits contract. A nil limits
// falls back to the global defaults.
func NewEngine(limits Limits) *Engine {
	if limits == nil {
		limits = GlobalLimits{Set: DefaultLimitSet()}
	}
	return &Engine{limits: limits}
}

// Validate runs the checks in order and returns the first failure.
func (e *Engine) Validate(ctx context.Context, up Upload) (*Result, *Error) {
	// 1. Presence.
	if up.UserID == "" {
		return nil, &Error{
			Code:   CodeMissingUserID,
			Status: http.StatusBadRequest,
			Detail: "userId form field is required",
		}
	}
	if !up.HasFile {
		return nil, &Error{
			Code:   CodeMissingFile,
			Status: http.StatusBadRequest,
			Detail: "file form field is required",
		}
	}

	// 2. Non-empty.
	if len(up.Data) == 0 {
		return nil, &Error{
			Code:   CodeMissingFile,
			Status: http.StatusBadRequest,
			Detail: "uploaded file is empty",
		}
	}

	// 3. Format, sniffed from the leading bytes rather than the filename.
	mimeType := sniffMime(up.Data)
	if !acceptedMimeTypes[mimeType] {
		return nil, &Error{
			Code:   CodeInvalidFileFormat,
			Status: http.StatusBadRequest,
			Detail: "file format must be JPEG, PNG or WebP",
			Extensions: map[string]any{
				"receivedMimeType": mimeType,
			},
		}
	}

	limits := e.limits.For(ctx, up.UserID)

	// 4. Size.
	if int64(len(up.Data)) > limits.MaxFileSizeBytes {
		return nil, &Error{
			Code:   CodeFileTooLarge,
			Status: http.StatusRequestEntityTooLarge,
			Detail: "uploaded file exceeds the maximum allowed size",
			Extensions: map[string]any{
				"fileSizeBytes":    int64(len(up.Data)),
				"maxFileSizeBytes": limits.MaxFileSizeBytes,
				"fileType":         string(wallpaper.FileTypeImage),
			},
		}
	}

	// 5. Dimensions, decoded header-only.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(up.Data))
	if err != nil {
		// The sniff accepted the format but the header is broken.
		return nil, &Error{
			Code:   CodeUnreadableImage,
			Status: http.StatusBadRequest,
			Detail: "image header could not be decoded",
		}
	}
	if cfg.Width < limits.MinWidth || cfg.Height < limits.MinHeight ||
		cfg.Width > limits.MaxWidth || cfg.Height > limits.MaxHeight {
		return nil, &Error{
			Code:   CodeDimensionsOOB,
			Status: http.StatusBadRequest,
			Detail: "image dimensions are outside the accepted range",
			Extensions: map[string]any{
				"width":     cfg.Width,
				"height":    cfg.Height,
				"minWidth":  limits.MinWidth,
				"minHeight": limits.MinHeight,
				"maxWidth":  limits.MaxWidth,
				"maxHeight": limits.MaxHeight,
			},
		}
	}

	// 6. Filename sanitisation; never rejects.
	return &Result{
		MimeType:    mimeType,
		FileType:    wallpaper.FileTypeImage,
		Width:       cfg.Width,
		Height:      cfg.Height,
		AspectRatio: float64(cfg.Width) / float64(cfg.Height),
		Filename:    SanitizeFilename(up.Filename),
	}, nil
}

// ProbeImage derives format and dimension metadata from raw bytes without
// applying limits. Recovery paths use it for rows whose metadata never made
// it to the database.
func ProbeImage(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, errors.New("empty object")
	}

	mimeType := sniffMime(data)
	if !acceptedMimeTypes[mimeType] {
		return nil, fmt.Errorf("unsupported format %s", mimeType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}

	return &Result{
		MimeType:    mimeType,
		FileType:    wallpaper.FileTypeImage,
		Width:       cfg.Width,
		Height:      cfg.Height,
		AspectRatio: float64(cfg.Width) / float64(cfg.Height),
	}, nil
}
