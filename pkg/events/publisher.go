package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/internal/telemetry"
	"github.com/wallvault/wallvault/pkg/metrics"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// Publisher emits typed events: it fills missing envelope fields, validates
// the payload against its schema, injects trace context into headers and
// records publish metrics.
type Publisher struct {
	stream   Stream
	validate *validator.Validate
	metrics  *metrics.EventMetrics
	now      func() time.Time
	newID    func() string
}

// NewPublisher creates a publisher on the given stream. m may be nil.
func NewPublisher(stream Stream, m *metrics.EventMetrics) *Publisher {
	return &Publisher{
		stream:   stream,
		validate: validator.New(),
		metrics:  m,
		now:      time.Now,
		newID:    NewEventID,
	}
}

// PublishWallpaperUploaded emits a wallpaper.uploaded event for a stored row.
func (p *Publisher) PublishWallpaperUploaded(ctx context.Context, w *wallpaper.Wallpaper) error {
	ev := &WallpaperUploaded{
		Envelope: Envelope{
			EventType: SubjectWallpaperUploaded,
		},
		Wallpaper: UploadedFromRow(w),
	}
	return p.publish(ctx, SubjectWallpaperUploaded, &ev.Envelope, ev)
}

// PublishVariantAvailable emits a wallpaper.variant.available event. The
// core itself does not produce variants; this exists for round-trip tests
// and tooling.
func (p *Publisher) PublishVariantAvailable(ctx context.Context, v Variant) error {
	ev := &VariantAvailable{
		Envelope: Envelope{
			EventType: SubjectVariantAvailable,
		},
		Variant: v,
	}
	return p.publish(ctx, SubjectVariantAvailable, &ev.Envelope, ev)
}

// publish completes the envelope, validates and emits one event. env must
// point into payload so the filled fields are serialized.
func (p *Publisher) publish(ctx context.Context, subject string, env *Envelope, payload any) error {
	start := p.now()
	var err error
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordPublish(subject, time.Since(start), err)
		}
	}()

	if env.EventID == "" {
		env.EventID = p.newID()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = p.now().UTC()
	}

	if err = p.validate.Struct(payload); err != nil {
		return fmt.Errorf("event failed schema validation: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := map[string]string{
		HeaderEventID:   env.EventID,
		HeaderEventType: env.EventType,
	}
	carrier := propagation.MapCarrier{}
	telemetry.Propagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers[k] = v
	}

	if err = p.stream.Publish(ctx, subject, data, headers); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	logger.DebugCtx(ctx, "Published event",
		logger.EventID(env.EventID),
		"subject", subject,
	)
	return nil
}
