package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes intents to a topic, keyed by recipient so one
// recipient's notifications stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier builds a producer for topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (n *KafkaNotifier) Notify(ctx context.Context, intent domain.NotificationIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(intent.RecipientID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(intent.Kind)},
		},
	})
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
