package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/stockledger/internal/domain"
)

// NATSConfig конфигурация для NATS публикатора
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// Validate проверяет корректность конфигурации
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("NATS URL cannot be empty")
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "stockledger.events"
	}
	return nil
}

// NATSPublisher публикатор событий через NATS.
// Subject формируется по шаблону {prefix}.{event_type}.
type NATSPublisher struct {
	config NATSConfig
	conn   *nats.Conn
}

// NewNATSPublisher создает новый NATS публикатор
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}

	conn, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{config: config, conn: conn}, nil
}

// Publish публикует событие
func (p *NATSPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, event.EventType())
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close закрывает подключение к NATS
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
