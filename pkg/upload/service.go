// Package upload implements the ingestion pipeline: rate limiting,
// validation, deduplication, intent creation, object write, metadata commit
// and event publication, in that order. Each step leaves the row in a state
// the reconcilers know how to recover, so a crash between any two steps is
// converged later instead of lost.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/events"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/ratelimit"
	"github.com/wallvault/wallvault/pkg/store/object"
	"github.com/wallvault/wallvault/pkg/validate"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// Statuses reported to the client.
const (
	StatusAlreadyUploaded = "already_uploaded"
	StatusStored          = "stored"
	StatusProcessing      = "processing"
)

// Outcome is the pipeline result for one request. RateLimit is populated
// whenever the limiter ran, including on failures, so the handler can emit
// the X-RateLimit-* headers on every response.
type Outcome struct {
	ID     string
	Status string

	RateLimit *ratelimit.Decision
}

// RateLimitedError signals a denied rate-limit check. The decision carries
// the reset time for the Retry-After header.
type RateLimitedError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.Decision.ResetAt.Format(time.RFC3339))
}

// Service runs the upload pipeline.
type Service struct {
	store   wallpaper.Store
	objects object.Store
	pub     *events.Publisher
	limiter *ratelimit.Limiter
	engine  *validate.Engine
	metrics *metrics.UploadMetrics

	bucket string
	now    func() time.Time
}

// NewService wires the pipeline. metrics may be nil.
func NewService(
	store wallpaper.Store,
	objects object.Store,
	pub *events.Publisher,
	limiter *ratelimit.Limiter,
	engine *validate.Engine,
	m *metrics.UploadMetrics,
	bucket string,
) *Service {
	return &Service{
		store:   store,
		objects: objects,
		pub:     pub,
		limiter: limiter,
		engine:  engine,
		metrics: m,
		bucket:  bucket,
		now:     time.Now,
	}
}

// Process runs one upload through the pipeline. The returned error is either
// a *RateLimitedError, a *validate.Error, or an internal failure; the Outcome
// carries the rate-limit decision in every case.
func (s *Service) Process(ctx context.Context, up validate.Upload) (Outcome, error) {
	start := s.now()
	var out Outcome

	// 1. Rate limit. Fail-open inside the limiter: a broken counter never
	// blocks uploads.
	decision := s.limiter.Check(ctx, up.UserID)
	out.RateLimit = &decision
	if !decision.Allowed {
		s.observe("rate_limited", start, int64(len(up.Data)))
		return out, &RateLimitedError{Decision: decision}
	}

	// 2. Validation.
	res, verr := s.engine.Validate(ctx, up)
	if verr != nil {
		s.observe("rejected", start, int64(len(up.Data)))
		return out, verr
	}

	// 3. Deduplication.
	sum := sha256.Sum256(up.Data)
	contentHash := hex.EncodeToString(sum[:])

	existing, err := s.store.FindByUserHash(ctx, up.UserID, contentHash)
	switch {
	case err == nil:
		out.ID = existing.ID
		out.Status = StatusAlreadyUploaded
		s.observe("deduplicated", start, int64(len(up.Data)))
		logger.InfoCtx(ctx, "duplicate upload collapsed",
			logger.WallpaperID(existing.ID))
		return out, nil
	case !errors.Is(err, wallpaper.ErrNotFound):
		s.observe("error", start, int64(len(up.Data)))
		return out, fmt.Errorf("dedup lookup: %w", err)
	}

	// 4. Intent row.
	w := &wallpaper.Wallpaper{
		ID:               wallpaper.NewID(),
		UserID:           up.UserID,
		UploadState:      wallpaper.StateInitiated,
		OriginalFilename: res.Filename,
	}
	if err := s.store.InsertIntent(ctx, w); err != nil {
		s.observe("error", start, int64(len(up.Data)))
		return out, fmt.Errorf("insert intent: %w", err)
	}
	out.ID = w.ID

	// 5. initiated -> uploading.
	applied, err := s.store.UpdateState(ctx, w.ID, wallpaper.StateInitiated, wallpaper.StateUploading, nil)
	if err != nil {
		s.observe("error", start, int64(len(up.Data)))
		return out, fmt.Errorf("begin upload: %w", err)
	}
	if !applied {
		s.observe("error", start, int64(len(up.Data)))
		return out, fmt.Errorf("begin upload: wallpaper %s left initiated unexpectedly", w.ID)
	}
	s.metrics.RecordTransition(string(wallpaper.StateInitiated), string(wallpaper.StateUploading))

	// 6. Object write. On failure the row stays in uploading with the
	// attempt recorded; the stuck-uploads reconciler takes it from there.
	key := wallpaper.ObjectKey(w.ID, res.MimeType)
	if err := s.objects.Put(ctx, key, res.MimeType, up.Data); err != nil {
		s.observe("error", start, int64(len(up.Data)))
		return out, s.recordWriteFailure(ctx, w.ID, err)
	}

	// 7. Metadata commit: uploading -> stored in one guarded update.
	uploadedAt := s.now().UTC()
	size := int64(len(up.Data))
	patch := &wallpaper.StatePatch{
		ContentHash:      &contentHash,
		FileType:         &res.FileType,
		MimeType:         &res.MimeType,
		FileSizeBytes:    &size,
		Width:            &res.Width,
		Height:           &res.Height,
		AspectRatio:      &res.AspectRatio,
		OriginalFilename: &res.Filename,
		StorageKey:       &key,
		StorageBucket:    &s.bucket,
		UploadedAt:       &uploadedAt,
	}
	applied, err = s.store.UpdateState(ctx, w.ID, wallpaper.StateUploading, wallpaper.StateStored, patch)
	if errors.Is(err, wallpaper.ErrDuplicate) {
		// A concurrent upload of the same bytes won the anchor. Abandon this
		// row and answer with the winner.
		return s.resolveDuplicate(ctx, up.UserID, contentHash, w.ID, key, out, start, size)
	}
	if err != nil {
		s.observe("error", start, size)
		return out, fmt.Errorf("commit metadata: %w", err)
	}
	if !applied {
		s.observe("error", start, size)
		return out, fmt.Errorf("commit metadata: wallpaper %s left uploading unexpectedly", w.ID)
	}
	s.metrics.RecordTransition(string(wallpaper.StateUploading), string(wallpaper.StateStored))

	w.UploadState = wallpaper.StateStored
	w.ContentHash = contentHash
	w.FileType = res.FileType
	w.MimeType = res.MimeType
	w.FileSizeBytes = size
	w.Width = res.Width
	w.Height = res.Height
	w.AspectRatio = res.AspectRatio
	w.StorageKey = key
	w.StorageBucket = s.bucket
	w.UploadedAt = uploadedAt

	// 8. Publish. A publish failure is not a request failure: the row is
	// durable in stored and the missing-events reconciler retries.
	out.Status = StatusStored
	if err := s.pub.PublishWallpaperUploaded(ctx, w); err != nil {
		logger.WarnCtx(ctx, "event publish failed, reconciler will retry",
			logger.WallpaperID(w.ID), logger.Err(err))
	} else {
		applied, err := s.store.UpdateState(ctx, w.ID, wallpaper.StateStored, wallpaper.StateProcessing, nil)
		if err != nil {
			logger.WarnCtx(ctx, "transition to processing failed after publish",
				logger.WallpaperID(w.ID), logger.Err(err))
		} else if applied {
			out.Status = StatusProcessing
			s.metrics.RecordTransition(string(wallpaper.StateStored), string(wallpaper.StateProcessing))
		}
	}

	s.observe("accepted", start, size)
	logger.InfoCtx(ctx, "upload accepted",
		logger.WallpaperID(w.ID),
		logger.State(out.Status),
		"fileSizeBytes", size,
		"mimeType", res.MimeType,
	)
	return out, nil
}

// recordWriteFailure counts a failed object write against the row's attempt
// budget. At the budget the row goes terminal; below it the row stays in
// uploading for the stuck-uploads reconciler.
func (s *Service) recordWriteFailure(ctx context.Context, id string, cause error) error {
	patched, err := s.store.Patch(ctx, id, wallpaper.StateUploading, &wallpaper.StatePatch{IncrementAttempts: true})
	if err != nil || !patched {
		logger.WarnCtx(ctx, "failed to record upload attempt",
			logger.WallpaperID(id), logger.Err(err))
		return fmt.Errorf("object write: %w", cause)
	}

	row, err := s.store.GetByID(ctx, id)
	if err == nil && row.UploadAttempts >= wallpaper.MaxUploadAttempts {
		reason := wallpaper.ErrMaxRetries
		applied, ferr := s.store.UpdateState(ctx, id, wallpaper.StateUploading, wallpaper.StateFailed,
			&wallpaper.StatePatch{ProcessingError: &reason})
		if ferr != nil {
			logger.WarnCtx(ctx, "failed to mark upload as failed",
				logger.WallpaperID(id), logger.Err(ferr))
		} else if applied {
			s.metrics.RecordTransition(string(wallpaper.StateUploading), string(wallpaper.StateFailed))
		}
	}
	return fmt.Errorf("object write: %w", cause)
}

// resolveDuplicate answers a lost dedup race: the anchor row belongs to a
// concurrent request, so this request's row and object are abandoned and the
// winner's id is returned.
func (s *Service) resolveDuplicate(ctx context.Context, userID, contentHash, loserID, key string, out Outcome, start time.Time, size int64) (Outcome, error) {
	reason := "Duplicate upload"
	if _, err := s.store.UpdateState(ctx, loserID, wallpaper.StateUploading, wallpaper.StateFailed,
		&wallpaper.StatePatch{ProcessingError: &reason}); err != nil {
		logger.WarnCtx(ctx, "failed to retire duplicate row",
			logger.WallpaperID(loserID), logger.Err(err))
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		// The orphaned-blobs reconciler sweeps it up later.
		logger.WarnCtx(ctx, "failed to delete duplicate object",
			"storageKey", key, logger.Err(err))
	}

	winner, err := s.store.FindByUserHash(ctx, userID, contentHash)
	if err != nil {
		s.observe("error", start, size)
		return out, fmt.Errorf("resolve duplicate: %w", err)
	}
	out.ID = winner.ID
	out.Status = StatusAlreadyUploaded
	s.observe("deduplicated", start, size)
	return out, nil
}

func (s *Service) observe(outcome string, start time.Time, bytes int64) {
	s.metrics.ObserveUpload(outcome, s.now().Sub(start), bytes)
}
