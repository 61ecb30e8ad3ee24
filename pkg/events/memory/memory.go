// Package memory implements the event stream in process memory for tests.
// It models the JetStream semantics the consumer base depends on: durable
// backlog delivery, per-message delivery attempts, and the ack/nak/term
// dispositions.
package memory

import (
	"context"
	"sync"

	"github.com/wallvault/wallvault/pkg/events"
)

// Message is one published message, retained for assertions.
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

type memMsg struct {
	Message
	attempt     int
	disposition string // "", "ack", "nak", "term"
	mu          sync.Mutex
}

func (m *memMsg) Subject() string { return m.Message.Subject }
func (m *memMsg) Data() []byte    { return m.Message.Data }

func (m *memMsg) Header(name string) string {
	return m.Headers[name]
}

func (m *memMsg) DeliveryAttempt() int { return m.attempt }

func (m *memMsg) setDisposition(d string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposition == "" {
		m.disposition = d
	}
	return nil
}

func (m *memMsg) getDisposition() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposition
}

func (m *memMsg) Ack() error  { return m.setDisposition("ack") }
func (m *memMsg) Nak() error  { return m.setDisposition("nak") }
func (m *memMsg) Term() error { return m.setDisposition("term") }

type consumer struct {
	queue  chan *memMsg
	stopCh chan struct{}
	doneCh chan struct{}
}

// Stream is an in-memory events.Stream.
type Stream struct {
	mu        sync.Mutex
	published []Message
	consumers map[string]*consumer

	// publishErr, when set, is returned by Publish. Test hook.
	publishErr error

	closed bool
}

var _ events.Stream = (*Stream)(nil)

// New creates an empty in-memory stream.
func New() *Stream {
	return &Stream{consumers: make(map[string]*consumer)}
}

// FailPublishes makes subsequent Publish calls return err. Pass nil to heal.
func (s *Stream) FailPublishes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishErr = err
}

// Publish records the message and fans it out to active consumers.
func (s *Stream) Publish(_ context.Context, subject string, data []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publishErr != nil {
		return s.publishErr
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	hdr := make(map[string]string, len(headers))
	for k, v := range headers {
		hdr[k] = v
	}
	msg := Message{Subject: subject, Data: buf, Headers: hdr}
	s.published = append(s.published, msg)

	for _, c := range s.consumers {
		c.enqueue(&memMsg{Message: msg, attempt: 1})
	}
	return nil
}

func (c *consumer) enqueue(m *memMsg) {
	select {
	case c.queue <- m:
	case <-c.stopCh:
	}
}

// Consume starts a durable consumer. The backlog of previously published
// messages is delivered first, then live messages.
func (s *Stream) Consume(_ context.Context, durable string, handler func(msg events.Msg)) (func(), error) {
	s.mu.Lock()
	c := &consumer{
		queue:  make(chan *memMsg, 1024),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	backlog := make([]*memMsg, 0, len(s.published))
	for _, msg := range s.published {
		backlog = append(backlog, &memMsg{Message: msg, attempt: 1})
	}
	s.consumers[durable] = c
	s.mu.Unlock()

	go func() {
		defer close(c.doneCh)
		for _, m := range backlog {
			c.deliver(handler, m)
		}
		for {
			select {
			case m := <-c.queue:
				c.deliver(handler, m)
			case <-c.stopCh:
				return
			}
		}
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(c.stopCh)
			<-c.doneCh
			s.mu.Lock()
			delete(s.consumers, durable)
			s.mu.Unlock()
		})
	}
	return stop, nil
}

// deliver invokes the handler and applies the disposition, redelivering
// nak'd messages until they are acked or terminated.
func (c *consumer) deliver(handler func(msg events.Msg), m *memMsg) {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		handler(m)

		switch m.getDisposition() {
		case "nak":
			m.mu.Lock()
			m.disposition = ""
			m.attempt++
			m.mu.Unlock()
			continue
		default:
			// ack, term, or no disposition: delivery is complete.
			return
		}
	}
}

// Healthcheck always succeeds.
func (s *Stream) Healthcheck(context.Context) error { return nil }

// Close stops nothing; per-consumer stop functions own their lifecycle.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Published returns all published messages, optionally filtered by subject.
// Test helper.
func (s *Stream) Published(subject string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subject == "" {
		return append([]Message(nil), s.published...)
	}
	out := make([]Message, 0)
	for _, m := range s.published {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}
