// Package service оркестрирует цикл load-mutate-append между чистым
// агрегатом остатка и ledger store'ом.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/akriventsev/stockledger/internal/domain"
	"github.com/akriventsev/stockledger/internal/ledger"
	"github.com/akriventsev/stockledger/internal/metrics"
	"github.com/akriventsev/stockledger/internal/publisher"
)

// ErrConcurrencyExhausted возникает при исчерпании бюджета повторов
// из-за конкурентных writer'ов. Сигнал транзиентный: вызывающий может
// повторить команду позже, в отличие от нарушений доменных правил.
var ErrConcurrencyExhausted = errors.New("too many concurrent writers: retries exhausted")

// RetryConfig конфигурация повторов при конфликте версий
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig возвращает конфигурацию повторов по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      20 * time.Millisecond,
		MaxDelay:          500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// StockService сервис команд над остатками вариантов товара.
// Единственный владелец пути мутации: никакой другой компонент не
// добавляет события в store напрямую. Повторяются только конфликты
// версий; нарушения доменных правил возвращаются сразу.
type StockService struct {
	store     ledger.Store
	publisher publisher.EventPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	retry     RetryConfig
	tracer    trace.Tracer
}

// Option опция конструктора StockService
type Option func(*StockService)

// WithPublisher задает публикатор зафиксированных событий
func WithPublisher(p publisher.EventPublisher) Option {
	return func(s *StockService) { s.publisher = p }
}

// WithMetrics задает сборщик метрик
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *StockService) { s.metrics = m }
}

// WithLogger задает логгер сервиса
func WithLogger(log zerolog.Logger) Option {
	return func(s *StockService) { s.log = log }
}

// WithRetryConfig задает конфигурацию повторов
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *StockService) { s.retry = cfg }
}

// NewStockService создает новый сервис остатков
func NewStockService(store ledger.Store, opts ...Option) *StockService {
	s := &StockService{
		store:     store,
		publisher: publisher.NewNoopPublisher(),
		log:       zerolog.Nop(),
		retry:     DefaultRetryConfig(),
		tracer:    otel.Tracer("stockledger/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize создает агрегат остатка для варианта и возвращает stock ID.
// Возвращает ledger.ErrAlreadyExists, если агрегат для варианта уже есть:
// уникальность по variant ID обеспечивает store, а не агрегат.
func (s *StockService) Initialize(ctx context.Context, variantID string, initialStock int) (string, error) {
	ctx, span := s.startSpan(ctx, "stock.initialize", variantID)
	defer span.End()
	start := time.Now()
	s.metrics.CommandStarted(ctx, "initialize")

	stockID, err := s.initialize(ctx, variantID, initialStock)

	s.metrics.CommandFinished(ctx, "initialize", time.Since(start), err)
	if err != nil {
		s.observeRejection(ctx, "initialize", err)
		return "", err
	}

	s.log.Info().
		Str("variant_id", variantID).
		Str("stock_id", stockID).
		Int("initial_stock", initialStock).
		Msg("stock initialized")
	return stockID, nil
}

func (s *StockService) initialize(ctx context.Context, variantID string, initialStock int) (string, error) {
	stock, err := domain.CreateStock(variantID, initialStock)
	if err != nil {
		return "", err
	}

	event := stock.UncommittedEvents()[0]
	if _, err := s.store.AppendIfVersion(ctx, variantID, 0, event); err != nil {
		return "", err
	}
	stock.MarkEventsAsCommitted()

	s.publish(ctx, event)
	return stock.StockID(), nil
}

// RecordWriteOff списывает count единиц остатка варианта и возвращает
// новое количество. Конфликты версий повторяются с backoff и jitter до
// MaxAttempts попыток, затем возвращается ErrConcurrencyExhausted.
func (s *StockService) RecordWriteOff(ctx context.Context, variantID string, reason domain.WriteOffReason, count int) (int, error) {
	ctx, span := s.startSpan(ctx, "stock.write_off", variantID)
	defer span.End()

	return s.executeCommand(ctx, "write_off", variantID, func(stock *domain.Stock) error {
		return stock.WriteOff(reason, count)
	})
}

// RecordSaleReturn возвращает count проданных единиц на остаток варианта
// и возвращает новое количество. Дисциплина повторов та же, что у списания.
func (s *StockService) RecordSaleReturn(ctx context.Context, variantID string, count int) (int, error) {
	ctx, span := s.startSpan(ctx, "stock.sale_return", variantID)
	defer span.End()

	return s.executeCommand(ctx, "sale_return", variantID, func(stock *domain.Stock) error {
		return stock.ReturnSale(count)
	})
}

// GetQuantity возвращает текущий доступный остаток варианта.
// Возвращает ledger.ErrNotFound, если агрегат еще не создан.
func (s *StockService) GetQuantity(ctx context.Context, variantID string) (int, error) {
	ctx, span := s.startSpan(ctx, "stock.get_quantity", variantID)
	defer span.End()

	snap, err := s.store.LoadLatest(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return snap.Quantity, nil
}

// History возвращает упорядоченную историю событий варианта начиная
// с указанной версии. Для аудита: "почему остаток сейчас равен N".
func (s *StockService) History(ctx context.Context, variantID string, fromVersion int64) ([]ledger.StoredEvent, error) {
	ctx, span := s.startSpan(ctx, "stock.history", variantID)
	defer span.End()

	return s.store.LoadHistory(ctx, variantID, fromVersion)
}

// Rebuild восстанавливает агрегат replay'ем всей истории событий.
// Replay обязан воспроизводить то же (quantity, version), что и снапшот.
func (s *StockService) Rebuild(ctx context.Context, variantID string) (*domain.Stock, error) {
	stored, err := s.store.LoadHistory(ctx, variantID, 0)
	if err != nil {
		return nil, err
	}

	history := make([]domain.Event, 0, len(stored))
	for _, se := range stored {
		history = append(history, se.EventData)
	}
	return domain.ReplayStock(history)
}

// executeCommand выполняет цикл load-mutate-append с ограниченными
// повторами. Явный цикл, а не middleware: лимит попыток и jitter
// видимы и тестируемы отдельно от store.
func (s *StockService) executeCommand(ctx context.Context, command, variantID string, mutate func(*domain.Stock) error) (int, error) {
	start := time.Now()
	s.metrics.CommandStarted(ctx, command)

	var quantity int
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.RetryScheduled(ctx, command, attempt)
			if err := s.sleep(ctx, attempt-1); err != nil {
				lastErr = err
				break
			}
		}

		quantity, lastErr = s.attemptCommand(ctx, variantID, mutate)
		if lastErr == nil {
			s.metrics.CommandFinished(ctx, command, time.Since(start), nil)
			return quantity, nil
		}

		// Повторяется только конфликт версий: доменные отказы,
		// отсутствие агрегата и инфраструктурные ошибки повтор не изменит
		if !errors.Is(lastErr, ledger.ErrVersionConflict) {
			s.metrics.CommandFinished(ctx, command, time.Since(start), lastErr)
			s.observeRejection(ctx, command, lastErr)
			return 0, lastErr
		}

		s.metrics.ConflictObserved(ctx, command)
		s.log.Debug().
			Str("command", command).
			Str("variant_id", variantID).
			Int("attempt", attempt).
			Msg("version conflict, retrying")
	}

	s.metrics.CommandFinished(ctx, command, time.Since(start), lastErr)
	if errors.Is(lastErr, ledger.ErrVersionConflict) {
		s.metrics.RetriesExhausted(ctx, command)
		s.log.Warn().
			Str("command", command).
			Str("variant_id", variantID).
			Int("attempts", s.retry.MaxAttempts).
			Msg("retries exhausted")
		return 0, fmt.Errorf("%w: %s after %d attempts", ErrConcurrencyExhausted, command, s.retry.MaxAttempts)
	}
	return 0, lastErr
}

// attemptCommand одна попытка цикла load-mutate-append.
// Агрегат живет только внутри попытки и не разделяется между командами.
func (s *StockService) attemptCommand(ctx context.Context, variantID string, mutate func(*domain.Stock) error) (int, error) {
	snap, err := s.store.LoadLatest(ctx, variantID)
	if err != nil {
		return 0, err
	}

	stock := domain.RehydrateStock(snap.StockID, snap.VariantID, snap.Quantity, snap.Version)
	if err := mutate(stock); err != nil {
		return 0, err
	}

	event := stock.UncommittedEvents()[0]
	if _, err := s.store.AppendIfVersion(ctx, variantID, snap.Version, event); err != nil {
		return 0, err
	}
	stock.MarkEventsAsCommitted()

	s.publish(ctx, event)
	return stock.Quantity(), nil
}

// sleep ждет экспоненциальный backoff с jitter, прерываясь по контексту.
// Jitter разводит конкурентов, проигравших один и тот же конфликт.
func (s *StockService) sleep(ctx context.Context, retries int) error {
	delay := s.retry.InitialDelay
	for i := 1; i < retries; i++ {
		delay = time.Duration(float64(delay) * s.retry.BackoffMultiplier)
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
			break
		}
	}
	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// publish отправляет зафиксированное событие в брокер.
// Best-effort: событие уже durable, ошибка публикации только логируется.
func (s *StockService) publish(ctx context.Context, event domain.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Error().
			Err(err).
			Str("event_type", event.EventType()).
			Str("event_id", event.EventID()).
			Msg("failed to publish committed event")
		return
	}
	s.metrics.EventPublished(ctx, event.EventType())
}

// observeRejection учитывает отклонение команды доменным правилом
func (s *StockService) observeRejection(ctx context.Context, command string, err error) {
	if errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrInvalidReason) ||
		errors.Is(err, domain.ErrInsufficientStock) {
		s.metrics.CommandRejected(ctx, command)
	}
}

func (s *StockService) startSpan(ctx context.Context, name, variantID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("stock.variant_id", variantID),
	))
}
