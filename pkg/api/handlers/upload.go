package handlers

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/ratelimit"
	"github.com/wallvault/wallvault/pkg/upload"
	"github.com/wallvault/wallvault/pkg/validate"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// multipartMemoryLimit is the in-memory threshold for multipart parsing;
// larger file parts spill to temp files.
const multipartMemoryLimit = 32 << 20

// UploadHandler handles POST /upload.
type UploadHandler struct {
	service      *upload.Service
	maxBodyBytes int64
}

// NewUploadHandler creates the handler.
func NewUploadHandler(service *upload.Service, maxBodyBytes int64) *UploadHandler {
	return &UploadHandler{service: service, maxBodyBytes: maxBodyBytes}
}

type uploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Upload handles POST /upload: multipart/form-data with a userId text field
// and a file part, in either order.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "file-too-large",
				"request body exceeds the maximum allowed size",
				map[string]any{"maxBodyBytes": tooLarge.Limit})
			return
		}
		writeProblem(w, r, http.StatusBadRequest, "invalid-multipart",
			"request body is not valid multipart/form-data", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	up := validate.Upload{UserID: r.FormValue("userId")}
	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		part, err := files[0].Open()
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, "invalid-multipart",
				"file part could not be read", nil)
			return
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, "invalid-multipart",
				"file part could not be read", nil)
			return
		}
		up.HasFile = true
		up.Filename = files[0].Filename
		up.Data = data
	}

	out, err := h.service.Process(r.Context(), up)
	setRateLimitHeaders(w, out.RateLimit)

	if err == nil {
		writeJSON(w, http.StatusOK, uploadResponse{ID: out.ID, Status: out.Status})
		return
	}

	var rle *upload.RateLimitedError
	if errors.As(err, &rle) {
		retryAfter := int(math.Ceil(rle.Decision.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeProblem(w, r, http.StatusTooManyRequests, "rate-limit-exceeded",
			"upload rate limit exceeded for this user",
			map[string]any{"retryAfter": retryAfter})
		return
	}

	var verr *validate.Error
	if errors.As(err, &verr) {
		writeProblem(w, r, verr.Status, verr.Code, verr.Detail, verr.Extensions)
		return
	}

	logger.ErrorCtx(r.Context(), "upload pipeline failed",
		logger.WallpaperID(out.ID), logger.Err(err))
	if errors.Is(err, wallpaper.ErrUnavailable) {
		writeProblem(w, r, http.StatusServiceUnavailable, "service-unavailable",
			"a required dependency is unavailable, retry later", nil)
		return
	}
	writeProblem(w, r, http.StatusInternalServerError, "upload-failed",
		"the upload could not be completed, retry later", nil)
}

// setRateLimitHeaders emits the X-RateLimit-* trio on every response that
// went through the limiter. X-RateLimit-Reset is the unix-ms window end.
func setRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.UnixMilli(), 10))
}
