package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// fakeMsg implements Msg for exercising the dispatch policy directly.
type fakeMsg struct {
	subject string
	data    []byte
	headers map[string]string
	attempt int

	acked, naked, termed bool
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }

func (m *fakeMsg) Header(name string) string { return m.headers[name] }

func (m *fakeMsg) DeliveryAttempt() int {
	if m.attempt == 0 {
		return 1
	}
	return m.attempt
}

func (m *fakeMsg) Ack() error  { m.acked = true; return nil }
func (m *fakeMsg) Nak() error  { m.naked = true; return nil }
func (m *fakeMsg) Term() error { m.termed = true; return nil }

func validEventData(t *testing.T) []byte {
	t.Helper()

	data, err := json.Marshal(WallpaperUploaded{
		Envelope: Envelope{
			EventID:   NewEventID(),
			EventType: SubjectWallpaperUploaded,
			Timestamp: time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return data
}

func TestDispatchAcksOnSuccess(t *testing.T) {
	c := NewConsumer(nil, nil)

	var handled bool
	c.Handle(SubjectWallpaperUploaded, func(context.Context, Envelope, []byte) error {
		handled = true
		return nil
	})

	msg := &fakeMsg{subject: SubjectWallpaperUploaded, data: validEventData(t)}
	c.dispatch(msg)

	if !handled {
		t.Error("expected handler to run")
	}
	if !msg.acked || msg.naked || msg.termed {
		t.Errorf("expected ack, got ack=%v nak=%v term=%v", msg.acked, msg.naked, msg.termed)
	}
}

func TestDispatchTermsMalformedJSON(t *testing.T) {
	c := NewConsumer(nil, nil)
	c.Handle(SubjectWallpaperUploaded, func(context.Context, Envelope, []byte) error {
		t.Error("handler must not run for malformed payloads")
		return nil
	})

	msg := &fakeMsg{subject: SubjectWallpaperUploaded, data: []byte("{not json")}
	c.dispatch(msg)

	if !msg.termed {
		t.Error("expected malformed payload to be terminated")
	}
}

func TestDispatchTermsInvalidEnvelope(t *testing.T) {
	c := NewConsumer(nil, nil)
	c.Handle(SubjectWallpaperUploaded, func(context.Context, Envelope, []byte) error {
		t.Error("handler must not run for schema-invalid payloads")
		return nil
	})

	// Valid JSON but missing eventId and timestamp.
	msg := &fakeMsg{
		subject: SubjectWallpaperUploaded,
		data:    []byte(`{"eventType":"wallpaper.uploaded"}`),
	}
	c.dispatch(msg)

	if !msg.termed {
		t.Error("expected schema-invalid payload to be terminated")
	}
}

func TestDispatchAcksUnhandledType(t *testing.T) {
	c := NewConsumer(nil, nil)
	c.Handle(SubjectVariantAvailable, func(context.Context, Envelope, []byte) error {
		t.Error("handler for another type must not run")
		return nil
	})

	msg := &fakeMsg{subject: SubjectWallpaperUploaded, data: validEventData(t)}
	c.dispatch(msg)

	if !msg.acked {
		t.Error("expected unhandled event type to be acked")
	}
}

func TestDispatchNaksRetryableFailure(t *testing.T) {
	c := NewConsumer(nil, nil)
	c.Handle(SubjectWallpaperUploaded, func(context.Context, Envelope, []byte) error {
		return errors.New("transient")
	})

	msg := &fakeMsg{subject: SubjectWallpaperUploaded, data: validEventData(t), attempt: 1}
	c.dispatch(msg)

	if !msg.naked || msg.termed {
		t.Errorf("expected nak on first failure, got nak=%v term=%v", msg.naked, msg.termed)
	}
}

func TestDispatchNaksAtDeliveryBudget(t *testing.T) {
	c := NewConsumer(nil, nil)
	c.Handle(SubjectWallpaperUploaded, func(context.Context, Envelope, []byte) error {
		return errors.New("still failing")
	})

	// The budget itself is still redeliverable; only exceeding it terminates.
	msg := &fakeMsg{subject: SubjectWallpaperUploaded, data: validEventData(t), attempt: MaxDeliveries}
	c.dispatch(msg)

	if !msg.naked || msg.termed {
		t.Errorf("expected nak at delivery %d, got nak=%v term=%v", MaxDeliveries, msg.naked, msg.termed)
	}
}

func TestDispatchTermsAfterDeliveryBudget(t *testing.T) {
	c := NewConsumer(nil, nil)
	c.Handle(SubjectWallpaperUploaded, func(context.Context, Envelope, []byte) error {
		return errors.New("still failing")
	})

	var terminated Envelope
	c.OnTerminated = func(env Envelope, err error) {
		terminated = env
	}

	msg := &fakeMsg{subject: SubjectWallpaperUploaded, data: validEventData(t), attempt: MaxDeliveries + 1}
	c.dispatch(msg)

	if !msg.termed {
		t.Error("expected termination once the delivery count exceeds the budget")
	}
	if terminated.EventID == "" {
		t.Error("expected the termination hook to receive the envelope")
	}
}
