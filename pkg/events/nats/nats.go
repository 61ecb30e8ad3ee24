// Package nats implements the event stream on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/events"
)

// Config holds the JetStream connection configuration.
type Config struct {
	// URL is the NATS server URL (nats://host:4222).
	URL string `mapstructure:"url" yaml:"url"`

	// Stream is the JetStream stream name holding the wallpaper subjects.
	Stream string `mapstructure:"stream" yaml:"stream"`

	// ClientName identifies the connection on the server.
	ClientName string `mapstructure:"client_name" yaml:"client_name"`

	// MaxAckPending bounds unacknowledged deliveries per consumer.
	// Default: 256.
	MaxAckPending int `mapstructure:"max_ack_pending" yaml:"max_ack_pending"`

	// AckWait is how long the server waits for an ack before redelivering.
	// Default: 30s.
	AckWait time.Duration `mapstructure:"ack_wait" yaml:"ack_wait"`
}

// Stream is the JetStream implementation of events.Stream.
type Stream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    *Config
}

var _ events.Stream = (*Stream)(nil)

// New connects to NATS and creates or updates the stream covering the
// wallpaper subjects.
func New(ctx context.Context, cfg *Config) (*Stream, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if cfg.MaxAckPending == 0 {
		cfg.MaxAckPending = 256
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = 30 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// CreateOrUpdateStream is idempotent across instances racing at startup.
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{events.SubjectWildcard},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream %q: %w", cfg.Stream, err)
	}

	logger.Info("JetStream stream ready", logger.KeyStream, cfg.Stream, "url", cfg.URL)

	return &Stream{conn: conn, js: js, stream: stream, cfg: cfg}, nil
}

// Publish emits a message on subject with headers.
func (s *Stream) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if _, err := s.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	return nil
}

// msgAdapter wraps a jetstream.Msg as events.Msg.
type msgAdapter struct {
	msg jetstream.Msg
}

func (m *msgAdapter) Subject() string { return m.msg.Subject() }
func (m *msgAdapter) Data() []byte    { return m.msg.Data() }

func (m *msgAdapter) Header(name string) string {
	return m.msg.Headers().Get(name)
}

func (m *msgAdapter) DeliveryAttempt() int {
	meta, err := m.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}

func (m *msgAdapter) Ack() error  { return m.msg.Ack() }
func (m *msgAdapter) Nak() error  { return m.msg.Nak() }
func (m *msgAdapter) Term() error { return m.msg.Term() }

// Consume starts a durable consumer delivering every stream subject.
func (s *Stream) Consume(ctx context.Context, durable string, handler func(msg events.Msg)) (func(), error) {
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: s.cfg.MaxAckPending,
		AckWait:       s.cfg.AckWait,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %q: %w", durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(&msgAdapter{msg: msg})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() { cc.Drain() }, nil
}

// Healthcheck verifies the connection and the stream.
func (s *Stream) Healthcheck(ctx context.Context) error {
	if !s.conn.IsConnected() {
		return fmt.Errorf("NATS connection is down")
	}
	if _, err := s.js.Stream(ctx, s.cfg.Stream); err != nil {
		return fmt.Errorf("stream %q unreachable: %w", s.cfg.Stream, err)
	}
	return nil
}

// Close drains and closes the connection.
func (s *Stream) Close() {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
}
