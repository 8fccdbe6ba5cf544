package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akriventsev/stockledger/internal/domain"
)

// KafkaConfig конфигурация для Kafka публикатора
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Validate проверяет корректность конфигурации
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Topic == "" {
		c.Topic = "stockledger.events"
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	return nil
}

// KafkaPublisher публикатор событий через Kafka.
// Ключом сообщения служит stock ID: события одного агрегата попадают
// в одну партицию и сохраняют порядок.
type KafkaPublisher struct {
	config KafkaConfig
	writer *kafka.Writer
}

// NewKafkaPublisher создает новый Kafka публикатор
func NewKafkaPublisher(config KafkaConfig) (*KafkaPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaPublisher{config: config, writer: writer}, nil
}

// Publish публикует событие
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.StockID()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
			{Key: "event_id", Value: []byte(event.EventID())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.config.Topic, err)
	}
	return nil
}

// Close закрывает Kafka writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
