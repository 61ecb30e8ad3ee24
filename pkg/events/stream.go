package events

import "context"

// Msg is one delivered message. The disposition methods follow JetStream
// semantics: Ack completes delivery, Nak requests redelivery, Term stops
// redelivery permanently.
type Msg interface {
	Subject() string
	Data() []byte
	Header(name string) string

	// DeliveryAttempt is 1 for the first delivery.
	DeliveryAttempt() int

	Ack() error
	Nak() error
	Term() error
}

// Stream is the event bus adapter. Implementations live in subpackages
// (nats, memory).
type Stream interface {
	// Publish emits a message on subject with headers.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error

	// Consume starts a durable push consumer delivering every subject of
	// the stream to handler. The returned stop function drains the
	// consumer; the durable name survives for resumption.
	Consume(ctx context.Context, durable string, handler func(msg Msg)) (stop func(), err error)

	// Healthcheck verifies connectivity to the bus.
	Healthcheck(ctx context.Context) error

	// Close releases the connection.
	Close()
}
