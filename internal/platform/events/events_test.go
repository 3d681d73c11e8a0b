package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	p := &KafkaPublisher{writer: w, topic: "member-events", now: func() time.Time { return at }}

	if err := p.Publish(context.Background(), "member-1", []byte(`{"type":"appointment.reminder"}`)); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "member-1" || string(m.Value) != `{"type":"appointment.reminder"}` {
		t.Errorf("unexpected message %q %q", m.Key, m.Value)
	}
	if m.Time.Location() != time.UTC || !m.Time.Equal(at) {
		t.Errorf("expected UTC timestamp, got %v", m.Time)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("close: %v closed=%v", err, w.closed)
	}
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &KafkaPublisher{writer: w, topic: "member-events", now: time.Now}
	err := p.Publish(context.Background(), "member-1", nil)
	if !errors.Is(err, w.err) || !strings.Contains(err.Error(), "member-events") {
		t.Errorf("expected wrapped error naming the topic, got %v", err)
	}
}

func TestRecorder_CopiesValue(t *testing.T) {
	r := NewRecorder()
	value := []byte(`{"type":"wallet.funded"}`)
	if err := r.Publish(context.Background(), "member-1", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'x'

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Key != "member-1" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[0].Value[0] != '{' {
		t.Error("recorded value must not alias the caller's buffer")
	}
}

func TestRecorder_Err(t *testing.T) {
	r := NewRecorder()
	r.Err = errors.New("broker down")
	if err := r.Publish(context.Background(), "k", nil); !errors.Is(err, r.Err) {
		t.Errorf("expected broker error, got %v", err)
	}
	if len(r.Messages()) != 0 {
		t.Error("failed publish must not be recorded")
	}
}
