// Package events publishes member events to the event bus.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes keyed messages to a single topic. Messages with the
// same key land on the same partition so a member's events stay ordered.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
		now:   time.Now,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message is a published record kept by Recorder.
type Message struct {
	Key   string
	Value []byte
}

// Recorder is an in-memory publisher for development and tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// Err, when set, is returned by Publish instead of recording.
	Err error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, Message{Key: key, Value: append([]byte(nil), value...)})
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Recorder) Close() error { return nil }
