package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// WallpaperHandler serves wallpaper row lookups.
type WallpaperHandler struct {
	store wallpaper.Store
}

// NewWallpaperHandler creates the handler.
func NewWallpaperHandler(store wallpaper.Store) *WallpaperHandler {
	return &WallpaperHandler{store: store}
}

type wallpaperResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	UploadState      string     `json:"uploadState"`
	UploadAttempts   int        `json:"uploadAttempts"`
	ProcessingError  string     `json:"processingError,omitempty"`
	FileType         string     `json:"fileType,omitempty"`
	MimeType         string     `json:"mimeType,omitempty"`
	FileSizeBytes    int64      `json:"fileSizeBytes,omitempty"`
	Width            int        `json:"width,omitempty"`
	Height           int        `json:"height,omitempty"`
	AspectRatio      float64    `json:"aspectRatio,omitempty"`
	OriginalFilename string     `json:"originalFilename,omitempty"`
	StorageKey       string     `json:"storageKey,omitempty"`
	StorageBucket    string     `json:"storageBucket,omitempty"`
	UploadedAt       *time.Time `json:"uploadedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Get handles GET /wallpapers/{id}.
func (h *WallpaperHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	row, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, wallpaper.ErrNotFound) {
		writeProblem(w, r, http.StatusNotFound, "wallpaper-not-found",
			"no wallpaper exists with this id", map[string]any{"id": id})
		return
	}
	if err != nil {
		logger.ErrorCtx(r.Context(), "wallpaper lookup failed",
			logger.WallpaperID(id), logger.Err(err))
		writeProblem(w, r, http.StatusServiceUnavailable, "service-unavailable",
			"the wallpaper store is unavailable, retry later", nil)
		return
	}

	resp := wallpaperResponse{
		ID:               row.ID,
		UserID:           row.UserID,
		UploadState:      string(row.UploadState),
		UploadAttempts:   row.UploadAttempts,
		ProcessingError:  row.ProcessingError,
		FileType:         string(row.FileType),
		MimeType:         row.MimeType,
		FileSizeBytes:    row.FileSizeBytes,
		Width:            row.Width,
		Height:           row.Height,
		AspectRatio:      row.AspectRatio,
		OriginalFilename: row.OriginalFilename,
		StorageKey:       row.StorageKey,
		StorageBucket:    row.StorageBucket,
		UpdatedAt:        row.UpdatedAt,
	}
	if !row.UploadedAt.IsZero() {
		t := row.UploadedAt
		resp.UploadedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}
