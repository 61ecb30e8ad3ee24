package reconcile

import (
	"context"
	"time"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/events"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// MissingEvents re-publishes wallpaper.uploaded for rows parked in stored
// past the timeout, which happens when the pipeline's publish failed after
// the metadata commit. The claim locks make the publish exactly-once under
// contention: a concurrent instance cannot see the row until this claim
// commits, and by then it is in processing.
type MissingEvents struct {
	store   wallpaper.Store
	pub     *events.Publisher
	timeout time.Duration
	batch   int
	metrics *metrics.ReconcileMetrics
}

// NewMissingEvents creates the reconciler. metrics may be nil.
func NewMissingEvents(store wallpaper.Store, pub *events.Publisher, timeout time.Duration, batch int, m *metrics.ReconcileMetrics) *MissingEvents {
	return &MissingEvents{
		store:   store,
		pub:     pub,
		timeout: timeout,
		batch:   batch,
		metrics: m,
	}
}

func (r *MissingEvents) Name() string { return "missing_events" }

// Run claims one batch of stored rows and retries their publishes. Publish
// failures never abort the claim: a published event whose transition already
// committed must not be rolled back into a re-publish.
func (r *MissingEvents) Run(ctx context.Context) (Stats, error) {
	var st Stats

	err := r.store.ClaimStuck(ctx, wallpaper.StateStored, r.timeout, r.batch, func(ctx context.Context, c wallpaper.Claim) error {
		for _, row := range c.Rows() {
			st.Claimed++

			if err := r.pub.PublishWallpaperUploaded(ctx, row); err != nil {
				logger.WarnCtx(ctx, "event republish failed",
					logger.WallpaperID(row.ID), logger.Err(err))
				st.Retried++
				continue
			}

			applied, err := c.UpdateState(ctx, row.ID, wallpaper.StateStored, wallpaper.StateProcessing, nil)
			if err != nil {
				return err
			}
			if applied {
				st.Advanced++
				logger.InfoCtx(ctx, "missing event republished",
					logger.WallpaperID(row.ID))
			}
		}
		return nil
	})
	if err != nil {
		return st, err
	}

	r.metrics.RecordItems(r.Name(), "advanced", st.Advanced)
	r.metrics.RecordItems(r.Name(), "retried", st.Retried)
	return st, nil
}
