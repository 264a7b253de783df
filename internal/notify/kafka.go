package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// KafkaDispatcher publishes alerts to a topic keyed by destination, so
// alerts for one user stay ordered within a partition
type KafkaDispatcher struct {
	topic    string
	producer sarama.SyncProducer
	logger   zerolog.Logger
}

// NewKafkaDispatcher creates a synchronous, all-acks producer
func NewKafkaDispatcher(brokers []string, topic string, logger zerolog.Logger) (*KafkaDispatcher, error) {
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	// SyncProducer requires both
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaDispatcherWithProducer(producer, topic, logger), nil
}

// NewKafkaDispatcherWithProducer wraps an existing producer
func NewKafkaDispatcherWithProducer(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		topic:    topic,
		producer: producer,
		logger:   logger.With().Str("component", "notify_kafka").Logger(),
	}
}

func (d *KafkaDispatcher) Deliver(ctx context.Context, destination, text string) error {
	// SyncProducer takes no context; honour cancellation before sending
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(Message{
		Destination: destination,
		Text:        text,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	partition, offset, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(destination),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	d.logger.Debug().
		Str("destination", destination).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Published alert")
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}
