// Package kafka publishes leave lifecycle envelopes to a Kafka topic.
// Messages are keyed by request id so every event of one request lands on
// the same partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/warp/leave-engine/notify"
)

const DefaultTopic = "hr.leave.lifecycle.v1"

// MessageWriter is the subset of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewWriter returns a writer bound to topic.
func NewWriter(brokers []string, topic string) *kafkago.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

type Publisher struct {
	writer MessageWriter
}

func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, env notify.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(env.RequestID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "recipient_id", Value: []byte(env.RecipientID)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
		Time: env.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", env.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ notify.Publisher = (*Publisher)(nil)
