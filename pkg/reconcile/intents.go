package reconcile

import (
	"context"
	"time"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// OrphanedIntents deletes rows abandoned in initiated past the timeout. No
// object was ever written for an initiated row, so this is a pure row delete.
type OrphanedIntents struct {
	store   wallpaper.Store
	timeout time.Duration
	batch   int
	metrics *metrics.ReconcileMetrics
}

// NewOrphanedIntents creates the reconciler. metrics may be nil.
func NewOrphanedIntents(store wallpaper.Store, timeout time.Duration, batch int, m *metrics.ReconcileMetrics) *OrphanedIntents {
	return &OrphanedIntents{
		store:   store,
		timeout: timeout,
		batch:   batch,
		metrics: m,
	}
}

func (r *OrphanedIntents) Name() string { return "orphaned_intents" }

// Run deletes one batch of abandoned intents.
func (r *OrphanedIntents) Run(ctx context.Context) (Stats, error) {
	var st Stats

	err := r.store.ClaimStuck(ctx, wallpaper.StateInitiated, r.timeout, r.batch, func(ctx context.Context, c wallpaper.Claim) error {
		rows := c.Rows()
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		st.Claimed = len(ids)

		deleted, err := c.Delete(ctx, ids)
		if err != nil {
			return err
		}
		st.Deleted = int(deleted)
		return nil
	})
	if err != nil {
		return st, err
	}

	if st.Deleted > 0 {
		logger.Info("orphaned intents deleted", "count", st.Deleted)
	}
	r.metrics.RecordItems(r.Name(), "deleted", st.Deleted)
	return st, nil
}
