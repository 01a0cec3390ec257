package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// DefaultTopic is the topic order events are published to when none is
// configured.
const DefaultTopic = "paper.fills"

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Notifier = (*KafkaPublisher)(nil)

// KafkaPublisher writes order events as JSON to a Kafka topic, keyed by
// account id so one account's events stay ordered within a partition.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{w: w, topic: topic}
}

// Notify publishes evt.
func (p *KafkaPublisher) Notify(ctx context.Context, evt domain.OrderEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", evt.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.AccountID),
		Value: value,
		Time:  evt.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

// EnsureTopic creates topic on the first reachable broker, retrying while the
// cluster comes up. An already existing topic is not an error.
func EnsureTopic(ctx context.Context, broker, topic string, partitions int) error {
	if partitions <= 0 {
		partitions = 1
	}
	return util.Retry(ctx, 5, time.Second, func() error {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", broker, err)
		}
		defer conn.Close()

		err = conn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
		if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("creating topic %s: %w", topic, err)
		}
		slog.Debug("kafka topic ready", "topic", topic, "broker", broker)
		return nil
	})
}
