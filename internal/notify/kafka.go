package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier 将生命周期事件以 JSON 写入 Kafka topic，key 为 bet id。
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaWriter 构造 kafka writer。
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// NewKafkaNotifier 构造 Kafka 通知器。
func NewKafkaNotifier(brokers []string, topic string, logger zerolog.Logger) *KafkaNotifier {
	return newKafkaNotifier(NewKafkaWriter(brokers, topic), topic, logger)
}

func newKafkaNotifier(w messageWriter, topic string, logger zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "notify_kafka").Logger(),
	}
}

// Notify publishes one event.
func (n *KafkaNotifier) Notify(ctx context.Context, note Notification) error {
	value, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal kafka event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(note.BetID),
		Value: value,
		Time:  note.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(note.Kind)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka event to %s: %w", n.topic, err)
	}

	n.logger.Debug().Str("kind", string(note.Kind)).Str("bet_id", note.BetID).Msg("event published")
	return nil
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

var _ Notifier = (*KafkaNotifier)(nil)
