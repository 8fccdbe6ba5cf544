// Package publisher предоставляет адаптеры публикации зафиксированных
// событий остатка во внешние брокеры. Публикация выполняется после
// успешного append и является best-effort: ошибки брокера не откатывают
// уже durable мутацию.
package publisher

import (
	"context"
	"fmt"

	"github.com/akriventsev/stockledger/internal/domain"
)

// EventPublisher публикатор зафиксированных доменных событий
type EventPublisher interface {
	// Publish публикует событие
	Publish(ctx context.Context, event domain.Event) error
	// Close освобождает ресурсы публикатора
	Close() error
}

// NoopPublisher публикатор-заглушка для конфигураций без брокера
type NoopPublisher struct{}

// NewNoopPublisher создает публикатор-заглушку
func NewNoopPublisher() *NoopPublisher { return &NoopPublisher{} }

// Publish ничего не делает
func (p *NoopPublisher) Publish(ctx context.Context, event domain.Event) error { return nil }

// Close ничего не делает
func (p *NoopPublisher) Close() error { return nil }

// Config конфигурация фабрики публикаторов
type Config struct {
	Backend       string // "nats", "kafka", "none"
	NATSURL       string
	SubjectPrefix string
	KafkaBrokers  []string
	KafkaTopic    string
}

// NewEventPublisher создает публикатор по конфигурации
func NewEventPublisher(cfg Config) (EventPublisher, error) {
	switch cfg.Backend {
	case "nats":
		return NewNATSPublisher(NATSConfig{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.SubjectPrefix,
		})
	case "kafka":
		return NewKafkaPublisher(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
	case "none", "":
		return NewNoopPublisher(), nil
	}
	return nil, fmt.Errorf("unknown publisher backend: %s", cfg.Backend)
}
