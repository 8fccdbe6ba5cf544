package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidQuantity возникает при неположительном count или отрицательном начальном остатке
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidReason возникает при причине списания вне закрытого набора
	ErrInvalidReason = errors.New("invalid write-off reason")
	// ErrInsufficientStock возникает когда списание превышает доступный остаток
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Stock Event Sourced агрегат остатка одного варианта товара.
// Инварианты: quantity >= 0 всегда; version равна числу успешно
// примененных событий и никогда не уменьшается. Команда, нарушающая
// инвариант, отклоняется до записи события: состояние и версия не меняются.
type Stock struct {
	stockID     string
	variantID   string
	quantity    int
	version     int64
	uncommitted []Event
}

// CreateStock создает новый агрегат остатка для варианта товара.
// Возвращает ErrInvalidQuantity при initialStock < 0. Версия после создания равна 1.
func CreateStock(variantID string, initialStock int) (*Stock, error) {
	if initialStock < 0 {
		return nil, fmt.Errorf("%w: initial stock %d is negative", ErrInvalidQuantity, initialStock)
	}

	s := &Stock{stockID: uuid.NewString()}
	event := &StockCreated{
		BaseEvent:    NewBaseEvent(EventTypeStockCreated, s.stockID),
		VariantID:    variantID,
		InitialStock: initialStock,
	}
	if err := s.raise(event); err != nil {
		return nil, err
	}
	return s, nil
}

// RehydrateStock восстанавливает агрегат из материализованного снапшота.
// Каждая команда работает со свежезагруженной, локальной копией агрегата.
func RehydrateStock(stockID, variantID string, quantity int, version int64) *Stock {
	return &Stock{
		stockID:   stockID,
		variantID: variantID,
		quantity:  quantity,
		version:   version,
	}
}

// ReplayStock восстанавливает агрегат с нуля из упорядоченной истории событий.
// Повторный replay той же последовательности дает идентичное (quantity, version).
func ReplayStock(history []Event) (*Stock, error) {
	if len(history) == 0 {
		return nil, errors.New("empty event history")
	}

	s := &Stock{}
	for i, event := range history {
		if err := s.Apply(event); err != nil {
			return nil, fmt.Errorf("failed to apply event at index %d: %w", i, err)
		}
		s.version++
	}
	return s, nil
}

// WriteOff списывает count единиц остатка по указанной причине.
// Возвращает ErrInvalidQuantity при count <= 0, ErrInvalidReason при
// причине вне закрытого набора, ErrInsufficientStock при count > quantity.
func (s *Stock) WriteOff(reason WriteOffReason, count int) error {
	if count <= 0 {
		return fmt.Errorf("%w: write-off count %d must be positive", ErrInvalidQuantity, count)
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if count > s.quantity {
		return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, count, s.quantity)
	}

	return s.raise(&StockWrittenOff{
		BaseEvent: NewBaseEvent(EventTypeStockWrittenOff, s.stockID),
		Reason:    reason,
		Count:     count,
	})
}

// ReturnSale возвращает count проданных единиц на остаток.
// Возвращает ErrInvalidQuantity при count <= 0. Верхняя граница намеренно
// не проверяется: возвращенная единица всегда должна быть зачислена обратно,
// даже если данные выше по потоку несогласованны.
func (s *Stock) ReturnSale(count int) error {
	if count <= 0 {
		return fmt.Errorf("%w: return count %d must be positive", ErrInvalidQuantity, count)
	}

	return s.raise(&StockSaleReturned{
		BaseEvent: NewBaseEvent(EventTypeStockSaleReturned, s.stockID),
		Count:     count,
	})
}

// Apply применяет историческое событие к состоянию агрегата.
// Используется только при восстановлении из истории: версию инкрементирует вызывающий.
func (s *Stock) Apply(event Event) error {
	switch e := event.(type) {
	case *StockCreated:
		s.stockID = e.Stock
		s.variantID = e.VariantID
		s.quantity = e.InitialStock
	case *StockWrittenOff:
		s.quantity -= e.Count
	case *StockSaleReturned:
		s.quantity += e.Count
	default:
		return fmt.Errorf("unknown event type: %T", event)
	}
	return nil
}

// raise применяет новое событие и добавляет его в uncommitted
func (s *Stock) raise(event Event) error {
	if err := s.Apply(event); err != nil {
		return err
	}
	s.version++
	s.uncommitted = append(s.uncommitted, event)
	return nil
}

// StockID возвращает идентификатор агрегата
func (s *Stock) StockID() string { return s.stockID }

// VariantID возвращает идентификатор варианта товара
func (s *Stock) VariantID() string { return s.variantID }

// Quantity возвращает текущий доступный остаток
func (s *Stock) Quantity() int { return s.quantity }

// Version возвращает текущую версию агрегата
func (s *Stock) Version() int64 { return s.version }

// UncommittedEvents возвращает несохраненные события
func (s *Stock) UncommittedEvents() []Event { return s.uncommitted }

// MarkEventsAsCommitted очищает uncommitted события после сохранения
func (s *Stock) MarkEventsAsCommitted() { s.uncommitted = nil }

// ApplyToQuantity применяет событие к материализованному количеству.
// Используется ledger store'ами для поддержания снапшота: вся логика
// изменения количества остается в domain пакете.
func ApplyToQuantity(quantity int, event Event) (int, error) {
	switch e := event.(type) {
	case *StockCreated:
		return e.InitialStock, nil
	case *StockWrittenOff:
		if e.Count > quantity {
			return 0, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, e.Count, quantity)
		}
		return quantity - e.Count, nil
	case *StockSaleReturned:
		return quantity + e.Count, nil
	}
	return 0, fmt.Errorf("unknown event type: %T", event)
}
