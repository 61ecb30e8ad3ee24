package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/store/object"
	"github.com/wallvault/wallvault/pkg/validate"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// StuckUploads recovers rows left in uploading past the timeout. The object
// store is the source of truth: if the original made it to the bucket the row
// advances to stored, otherwise the attempt counter burns down to failed.
type StuckUploads struct {
	store   wallpaper.Store
	objects object.Store
	bucket  string
	timeout time.Duration
	batch   int
	metrics *metrics.ReconcileMetrics
}

// NewStuckUploads creates the reconciler. metrics may be nil.
func NewStuckUploads(store wallpaper.Store, objects object.Store, bucket string, timeout time.Duration, batch int, m *metrics.ReconcileMetrics) *StuckUploads {
	return &StuckUploads{
		store:   store,
		objects: objects,
		bucket:  bucket,
		timeout: timeout,
		batch:   batch,
		metrics: m,
	}
}

func (r *StuckUploads) Name() string { return "stuck_uploads" }

// Run claims one batch of stuck rows and converges each one.
func (r *StuckUploads) Run(ctx context.Context) (Stats, error) {
	var st Stats

	err := r.store.ClaimStuck(ctx, wallpaper.StateUploading, r.timeout, r.batch, func(ctx context.Context, c wallpaper.Claim) error {
		for _, row := range c.Rows() {
			st.Claimed++
			if err := r.converge(ctx, c, row, &st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return st, err
	}

	r.metrics.RecordItems(r.Name(), "advanced", st.Advanced)
	r.metrics.RecordItems(r.Name(), "retried", st.Retried)
	r.metrics.RecordItems(r.Name(), "failed", st.Failed)
	return st, nil
}

func (r *StuckUploads) converge(ctx context.Context, c wallpaper.Claim, row *wallpaper.Wallpaper, st *Stats) error {
	key, err := r.locateObject(ctx, row)
	if err != nil {
		// Object store trouble; leave the row for the next cycle.
		logger.WarnCtx(ctx, "stuck upload probe failed",
			logger.WallpaperID(row.ID), logger.Err(err))
		st.Retried++
		return nil
	}

	if key == "" {
		// The original never made it to the bucket.
		if row.UploadAttempts >= wallpaper.MaxUploadAttempts {
			reason := wallpaper.ErrMaxRetries
			applied, err := c.UpdateState(ctx, row.ID, wallpaper.StateUploading, wallpaper.StateFailed,
				&wallpaper.StatePatch{ProcessingError: &reason})
			if err != nil {
				return err
			}
			if applied {
				st.Failed++
				logger.InfoCtx(ctx, "stuck upload failed permanently",
					logger.WallpaperID(row.ID), "uploadAttempts", row.UploadAttempts)
			}
			return nil
		}

		if _, err := c.Patch(ctx, row.ID, wallpaper.StateUploading,
			&wallpaper.StatePatch{IncrementAttempts: true}); err != nil {
			return err
		}
		st.Retried++
		return nil
	}

	patch, err := r.recoverMetadata(ctx, row, key)
	if err != nil {
		logger.WarnCtx(ctx, "stuck upload metadata recovery failed",
			logger.WallpaperID(row.ID), "storageKey", key, logger.Err(err))
		st.Retried++
		return nil
	}

	applied, err := c.UpdateState(ctx, row.ID, wallpaper.StateUploading, wallpaper.StateStored, patch)
	if errors.Is(err, wallpaper.ErrDuplicate) {
		// The user re-uploaded the same bytes in the meantime and that row
		// took the dedup anchor. Retire this one.
		reason := "Duplicate upload"
		if _, ferr := c.UpdateState(ctx, row.ID, wallpaper.StateUploading, wallpaper.StateFailed,
			&wallpaper.StatePatch{ProcessingError: &reason}); ferr != nil {
			return ferr
		}
		st.Failed++
		return nil
	}
	if err != nil {
		return err
	}
	if applied {
		st.Advanced++
		logger.InfoCtx(ctx, "stuck upload recovered",
			logger.WallpaperID(row.ID), logger.State(string(wallpaper.StateStored)))
	}
	return nil
}

// locateObject finds the row's original in the bucket. Rows interrupted
// before the metadata commit have no storage key, so the {id}/ prefix is
// listed instead. Returns "" when no object exists.
func (r *StuckUploads) locateObject(ctx context.Context, row *wallpaper.Wallpaper) (string, error) {
	if row.StorageKey != "" {
		_, err := r.objects.Head(ctx, row.StorageKey)
		if errors.Is(err, object.ErrObjectNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return row.StorageKey, nil
	}

	page, err := r.objects.List(ctx, row.ID+"/", "", 2)
	if err != nil {
		return "", err
	}
	if len(page.Objects) == 0 {
		return "", nil
	}
	return page.Objects[0].Key, nil
}

// recoverMetadata builds the stored-transition patch. Rows that already carry
// their file attributes need only the key fields confirmed; otherwise the
// attributes are re-derived from the object bytes.
func (r *StuckUploads) recoverMetadata(ctx context.Context, row *wallpaper.Wallpaper, key string) (*wallpaper.StatePatch, error) {
	uploadedAt := time.Now().UTC()
	patch := &wallpaper.StatePatch{
		StorageKey:    &key,
		StorageBucket: &r.bucket,
		UploadedAt:    &uploadedAt,
	}

	if row.HasMetadata() && row.ContentHash != "" {
		return patch, nil
	}

	data, _, err := r.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	probe, err := validate.ProbeImage(data)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	size := int64(len(data))

	patch.ContentHash = &hash
	patch.FileType = &probe.FileType
	patch.MimeType = &probe.MimeType
	patch.FileSizeBytes = &size
	patch.Width = &probe.Width
	patch.Height = &probe.Height
	patch.AspectRatio = &probe.AspectRatio
	return patch, nil
}
