package reconcile

import (
	"context"
	"errors"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/store/object"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// OrphanedBlobs sweeps the bucket for objects whose owning row is gone or
// terminally failed. It is deliberately conservative: an object is deleted
// only when its row is provably absent or failed, so a freshly written
// object whose row is still converging is never lost.
type OrphanedBlobs struct {
	store    wallpaper.Store
	objects  object.Store
	pageSize int32
	metrics  *metrics.ReconcileMetrics
}

// NewOrphanedBlobs creates the reconciler. metrics may be nil.
func NewOrphanedBlobs(store wallpaper.Store, objects object.Store, pageSize int32, m *metrics.ReconcileMetrics) *OrphanedBlobs {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &OrphanedBlobs{
		store:    store,
		objects:  objects,
		pageSize: pageSize,
		metrics:  m,
	}
}

func (r *OrphanedBlobs) Name() string { return "orphaned_blobs" }

// Run pages through the whole bucket once.
func (r *OrphanedBlobs) Run(ctx context.Context) (Stats, error) {
	var st Stats

	token := ""
	for {
		page, err := r.objects.List(ctx, "", token, r.pageSize)
		if err != nil {
			return st, err
		}

		for _, obj := range page.Objects {
			st.Claimed++

			id, ok := wallpaper.IDFromObjectKey(obj.Key)
			if !ok {
				// Not a key this service writes; leave it alone.
				st.Kept++
				continue
			}

			row, err := r.store.GetByID(ctx, id)
			switch {
			case errors.Is(err, wallpaper.ErrNotFound):
				// no owning row; delete below
			case err != nil:
				return st, err
			case row.UploadState == wallpaper.StateFailed:
				// terminal row; delete below
			default:
				st.Kept++
				continue
			}

			if err := r.objects.Delete(ctx, obj.Key); err != nil {
				logger.WarnCtx(ctx, "orphaned blob delete failed",
					"storageKey", obj.Key, logger.Err(err))
				continue
			}
			st.Deleted++
			logger.InfoCtx(ctx, "orphaned blob deleted", "storageKey", obj.Key)
		}

		token = page.NextToken
		if token == "" {
			break
		}
	}

	r.metrics.RecordItems(r.Name(), "deleted", st.Deleted)
	r.metrics.RecordItems(r.Name(), "kept", st.Kept)
	return st, nil
}
