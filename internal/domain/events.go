// Package domain содержит агрегат остатка варианта товара и его доменные события.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы доменных событий ledger'а
const (
	EventTypeStockCreated      = "stock.created"
	EventTypeStockWrittenOff   = "stock.written_off"
	EventTypeStockSaleReturned = "stock.sale_returned"
)

// WriteOffReason причина списания остатка. Закрытый набор значений.
type WriteOffReason string

const (
	ReasonSale             WriteOffReason = "sale"
	ReasonDamage           WriteOffReason = "damage"
	ReasonExpired          WriteOffReason = "expired"
	ReasonManualAdjustment WriteOffReason = "manual_adjustment"
	ReasonReturnToSupplier WriteOffReason = "return_to_supplier"
)

// Valid проверяет, что причина входит в закрытый набор
func (r WriteOffReason) Valid() bool {
	switch r {
	case ReasonSale, ReasonDamage, ReasonExpired, ReasonManualAdjustment, ReasonReturnToSupplier:
		return true
	}
	return false
}

// Event представляет доменное событие агрегата остатка.
// Порядок событий задается версией, присвоенной store'ом при append,
// а не OccurredAt: расхождение часов не влияет на порядок.
type Event interface {
	// EventID возвращает уникальный идентификатор события
	EventID() string
	// EventType возвращает тип события
	EventType() string
	// OccurredAt возвращает время возникновения события
	OccurredAt() time.Time
	// StockID возвращает идентификатор агрегата остатка
	StockID() string
}

// BaseEvent базовая реализация события.
// Поля экспортированы для сериализации в хранилище.
type BaseEvent struct {
	ID       string    `json:"event_id" bson:"event_id"`
	Type     string    `json:"event_type" bson:"event_type"`
	Stock    string    `json:"stock_id" bson:"stock_id"`
	Occurred time.Time `json:"occurred_at" bson:"occurred_at"`
}

// NewBaseEvent создает новое базовое событие
func NewBaseEvent(eventType, stockID string) BaseEvent {
	return BaseEvent{
		ID:       uuid.NewString(),
		Type:     eventType,
		Stock:    stockID,
		Occurred: time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Occurred }
func (e BaseEvent) StockID() string       { return e.Stock }

// StockCreated событие создания агрегата остатка. Версия 1 потока.
type StockCreated struct {
	BaseEvent
	VariantID    string `json:"variant_id" bson:"variant_id"`
	InitialStock int    `json:"initial_stock" bson:"initial_stock"`
}

// StockWrittenOff событие списания остатка
type StockWrittenOff struct {
	BaseEvent
	Reason WriteOffReason `json:"reason" bson:"reason"`
	Count  int            `json:"count" bson:"count"`
}

// StockSaleReturned событие возврата проданных единиц
type StockSaleReturned struct {
	BaseEvent
	Count int `json:"count" bson:"count"`
}

// DeserializeEvent восстанавливает событие из JSON по его типу.
// Используется ledger store'ами при чтении истории.
func DeserializeEvent(eventType string, data []byte) (Event, error) {
	switch eventType {
	case EventTypeStockCreated:
		var e StockCreated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to deserialize %s: %w", eventType, err)
		}
		return &e, nil
	case EventTypeStockWrittenOff:
		var e StockWrittenOff
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to deserialize %s: %w", eventType, err)
		}
		return &e, nil
	case EventTypeStockSaleReturned:
		var e StockSaleReturned
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to deserialize %s: %w", eventType, err)
		}
		return &e, nil
	}
	return nil, fmt.Errorf("unknown event type: %s", eventType)
}
