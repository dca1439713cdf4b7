package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Producer is the subset of *kafka.Producer the sink uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// KafkaSink publishes notices as JSON to a Kafka topic, keyed by recipient
// so that a user's notices stay ordered within a partition.
type KafkaSink struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewKafkaSink(p Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic, now: time.Now}
}

// NewKafkaProducer connects a producer to brokers and starts a goroutine
// that logs failed deliveries.
func NewKafkaProducer(brokers string) (*kafka.Producer, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	go func() {
		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					slog.Error("notice delivery failed", "key", string(ev.Key), "err", ev.TopicPartition.Error)
				}
			case kafka.Error:
				slog.Error("kafka error", "code", ev.Code().String(), "err", ev)
			}
		}
	}()

	slog.Info("Kafka producer initialized", "brokers", brokers)
	return producer, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

type kafkaNotice struct {
	Message
	SentAt time.Time `json:"sent_at"`
}

func (s *KafkaSink) Send(_ context.Context, recipient, sender, title, body string) error {
	value, err := json.Marshal(kafkaNotice{
		Message: Message{Recipient: recipient, Sender: sender, Title: title, Body: body},
		SentAt:  s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	topic := s.topic
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(recipient),
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("produce notice: %w", err)
	}
	return nil
}
