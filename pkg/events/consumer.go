package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/internal/telemetry"
	"github.com/wallvault/wallvault/pkg/metrics"
)

// MaxDeliveries is the failed-delivery budget: a message failing past this
// many deliveries is terminated instead of redelivered.
const MaxDeliveries = 3

// Handler processes one decoded event. env carries the common envelope;
// data is the full payload for typed unmarshalling. A nil error acks the
// message; an error naks it until the delivery budget is exhausted.
type Handler func(ctx context.Context, env Envelope, data []byte) error

// Consumer dispatches stream messages to typed handlers with the standard
// disposition policy:
//
//   - malformed JSON: Term (redelivery cannot fix it)
//   - schema-invalid envelope: Term
//   - no handler for the event type: Ack (not ours to process)
//   - handler error: Nak, then Term once the delivery count exceeds
//     MaxDeliveries
type Consumer struct {
	stream   Stream
	validate *validator.Validate
	metrics  *metrics.EventMetrics

	maxDeliveries int

	// OnTerminated is invoked after a message is terminated for exhausting
	// its delivery budget. Optional.
	OnTerminated func(env Envelope, err error)

	handlers map[string]Handler
}

// NewConsumer creates a consumer base. m may be nil.
func NewConsumer(stream Stream, m *metrics.EventMetrics) *Consumer {
	return &Consumer{
		stream:        stream,
		validate:      validator.New(),
		metrics:       m,
		maxDeliveries: MaxDeliveries,
		handlers:      make(map[string]Handler),
	}
}

// Handle registers a handler for an event type (subject).
func (c *Consumer) Handle(eventType string, h Handler) {
	c.handlers[eventType] = h
}

// Start begins consuming under the durable name. The returned stop function
// drains in-flight messages.
func (c *Consumer) Start(ctx context.Context, durable string) (func(), error) {
	if len(c.handlers) == 0 {
		return nil, fmt.Errorf("no handlers registered")
	}

	stop, err := c.stream.Consume(ctx, durable, c.dispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer %q: %w", durable, err)
	}

	logger.Info("Event consumer started", logger.KeyDurable, durable)
	return stop, nil
}

// dispatch applies the disposition policy to one message.
func (c *Consumer) dispatch(msg Msg) {
	// Restore the publisher's trace context from headers.
	carrier := propagation.MapCarrier{}
	if tp := msg.Header(HeaderTraceParent); tp != "" {
		carrier[HeaderTraceParent] = tp
	}
	ctx := telemetry.Propagator().Extract(context.Background(), carrier)

	var probe struct {
		Envelope
	}
	if err := json.Unmarshal(msg.Data(), &probe); err != nil {
		logger.WarnCtx(ctx, "Terminating malformed event",
			"subject", msg.Subject(), logger.Err(err))
		c.record(msg.Subject(), "term")
		_ = msg.Term()
		return
	}
	env := probe.Envelope

	if err := c.validate.Struct(env); err != nil {
		logger.WarnCtx(ctx, "Terminating event with invalid envelope",
			"subject", msg.Subject(), logger.EventID(env.EventID), logger.Err(err))
		c.record(env.EventType, "term")
		_ = msg.Term()
		return
	}

	handler, ok := c.handlers[env.EventType]
	if !ok {
		// Not an event type this consumer processes.
		c.record(env.EventType, "ack")
		_ = msg.Ack()
		return
	}

	if err := handler(ctx, env, msg.Data()); err != nil {
		if msg.DeliveryAttempt() > c.maxDeliveries {
			logger.ErrorCtx(ctx, "Terminating event after exhausting deliveries",
				logger.EventID(env.EventID),
				logger.KeyAttempt, msg.DeliveryAttempt(),
				logger.Err(err))
			c.record(env.EventType, "term")
			_ = msg.Term()
			if c.OnTerminated != nil {
				c.OnTerminated(env, err)
			}
			return
		}

		logger.WarnCtx(ctx, "Event handler failed, requesting redelivery",
			logger.EventID(env.EventID),
			logger.KeyAttempt, msg.DeliveryAttempt(),
			logger.Err(err))
		c.record(env.EventType, "nak")
		_ = msg.Nak()
		return
	}

	c.record(env.EventType, "ack")
	_ = msg.Ack()
}

func (c *Consumer) record(eventType, disposition string) {
	if c.metrics != nil {
		c.metrics.RecordConsume(eventType, disposition)
	}
}
