package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// NewVariantHandler returns the handler for wallpaper.variant.available.
// The first variant produced by the media service closes out the row:
// processing → completed. Later variants for the same wallpaper find the row
// already completed and ack without effect, which keeps the handler
// idempotent under at-least-once delivery.
func NewVariantHandler(store wallpaper.Store, m *metrics.UploadMetrics) Handler {
	validate := validator.New()

	return func(ctx context.Context, env Envelope, data []byte) error {
		var ev VariantAvailable
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal variant event: %w", err)
		}
		if err := validate.Struct(&ev); err != nil {
			return fmt.Errorf("variant event failed schema validation: %w", err)
		}

		id := ev.Variant.WallpaperID
		row, err := store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, wallpaper.ErrNotFound) {
				// The wallpaper was deleted after the variant was cut.
				logger.WarnCtx(ctx, "Variant for unknown wallpaper",
					logger.WallpaperID(id), logger.EventID(env.EventID))
				return nil
			}
			return fmt.Errorf("failed to load wallpaper %s: %w", id, err)
		}

		if row.UploadState != wallpaper.StateProcessing {
			logger.DebugCtx(ctx, "Variant for wallpaper not in processing, ignoring",
				logger.WallpaperID(id), logger.State(row.UploadState.String()))
			return nil
		}

		applied, err := store.UpdateState(ctx, id, wallpaper.StateProcessing, wallpaper.StateCompleted, nil)
		if err != nil {
			return fmt.Errorf("failed to complete wallpaper %s: %w", id, err)
		}
		if applied {
			m.RecordTransition(wallpaper.StateProcessing.String(), wallpaper.StateCompleted.String())
			logger.InfoCtx(ctx, "Wallpaper completed",
				logger.WallpaperID(id), logger.EventID(env.EventID))
		}
		return nil
	}
}
