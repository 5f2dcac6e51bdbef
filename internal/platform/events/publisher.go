package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Message is one outbox event on the wire.
type Message struct {
	Key     string
	Type    string
	Value   []byte
	Created time.Time
}

type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

// Publish writes messages keyed by aggregate so events of one appointment
// or medicine land on the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...Message) error {
	km := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		km = append(km, kafka.Message{
			Key:     []byte(m.Key),
			Value:   m.Value,
			Time:    m.Created,
			Headers: []kafka.Header{{Key: "event-type", Value: []byte(m.Type)}},
		})
	}
	if err := p.writer.WriteMessages(ctx, km...); err != nil {
		return fmt.Errorf("write to %s: %w", p.writer.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// LogPublisher logs events instead of publishing them. Used when no Kafka
// brokers are configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, msgs ...Message) error {
	for _, m := range msgs {
		p.logger.Info().Str("key", m.Key).Str("event_type", m.Type).RawJSON("payload", m.Value).Msg("event")
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
