// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик stock ledger сервиса
type Metrics struct {
	meter             metric.Meter
	commandsTotal     metric.Int64Counter
	commandDuration   metric.Float64Histogram
	conflictsTotal    metric.Int64Counter
	retriesTotal      metric.Int64Counter
	retriesExhausted  metric.Int64Counter
	eventsPublished   metric.Int64Counter
	rejectionsTotal   metric.Int64Counter
	activeCommands    metric.Int64UpDownCounter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("stockledger")

	commandsTotal, err := meter.Int64Counter(
		"stock_commands_total",
		metric.WithDescription("Total number of stock commands processed"),
	)
	if err != nil {
		return nil, err
	}

	commandDuration, err := meter.Float64Histogram(
		"stock_command_duration_seconds",
		metric.WithDescription("Stock command processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	conflictsTotal, err := meter.Int64Counter(
		"stock_version_conflicts_total",
		metric.WithDescription("Total number of optimistic concurrency conflicts observed"),
	)
	if err != nil {
		return nil, err
	}

	retriesTotal, err := meter.Int64Counter(
		"stock_command_retries_total",
		metric.WithDescription("Total number of command retries after version conflicts"),
	)
	if err != nil {
		return nil, err
	}

	retriesExhausted, err := meter.Int64Counter(
		"stock_command_retries_exhausted_total",
		metric.WithDescription("Total number of commands that exhausted the retry budget"),
	)
	if err != nil {
		return nil, err
	}

	eventsPublished, err := meter.Int64Counter(
		"stock_events_published_total",
		metric.WithDescription("Total number of committed stock events published"),
	)
	if err != nil {
		return nil, err
	}

	rejectionsTotal, err := meter.Int64Counter(
		"stock_command_rejections_total",
		metric.WithDescription("Total number of commands rejected by domain rules"),
	)
	if err != nil {
		return nil, err
	}

	activeCommands, err := meter.Int64UpDownCounter(
		"stock_active_commands",
		metric.WithDescription("Number of stock commands currently being processed"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:            meter,
		commandsTotal:    commandsTotal,
		commandDuration:  commandDuration,
		conflictsTotal:   conflictsTotal,
		retriesTotal:     retriesTotal,
		retriesExhausted: retriesExhausted,
		eventsPublished:  eventsPublished,
		rejectionsTotal:  rejectionsTotal,
		activeCommands:   activeCommands,
	}, nil
}

// CommandStarted отмечает начало обработки команды
func (m *Metrics) CommandStarted(ctx context.Context, command string) {
	if m == nil {
		return
	}
	m.activeCommands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// CommandFinished отмечает завершение обработки команды
func (m *Metrics) CommandFinished(ctx context.Context, command string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.Bool("success", err == nil),
	)
	m.activeCommands.Add(ctx, -1, metric.WithAttributes(attribute.String("command", command)))
	m.commandsTotal.Add(ctx, 1, attrs)
	m.commandDuration.Record(ctx, duration.Seconds(), attrs)
}

// ConflictObserved отмечает конфликт версий
func (m *Metrics) ConflictObserved(ctx context.Context, command string) {
	if m == nil {
		return
	}
	m.conflictsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// RetryScheduled отмечает повтор команды после конфликта
func (m *Metrics) RetryScheduled(ctx context.Context, command string, attempt int) {
	if m == nil {
		return
	}
	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.Int("attempt", attempt),
	))
}

// RetriesExhausted отмечает исчерпание бюджета повторов
func (m *Metrics) RetriesExhausted(ctx context.Context, command string) {
	if m == nil {
		return
	}
	m.retriesExhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// CommandRejected отмечает отклонение команды доменным правилом
func (m *Metrics) CommandRejected(ctx context.Context, command string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// EventPublished отмечает публикацию зафиксированного события
func (m *Metrics) EventPublished(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
