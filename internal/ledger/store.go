// Package ledger предоставляет append-only хранилище событий остатка
// с материализованным снапшотом (quantity, version) на вариант товара.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/akriventsev/stockledger/internal/domain"
)

var (
	// ErrNotFound возникает когда для варианта товара нет агрегата остатка
	ErrNotFound = errors.New("stock not found")
	// ErrVersionConflict возникает при конфликте версий при append событий
	ErrVersionConflict = errors.New("version conflict: expected version does not match current version")
	// ErrAlreadyExists возникает при попытке создать второй агрегат для того же варианта
	ErrAlreadyExists = errors.New("stock already exists for variant")
)

// Snapshot материализованное текущее состояние агрегата остатка.
// Store является единственным источником истины для version.
type Snapshot struct {
	StockID   string
	VariantID string
	Quantity  int
	Version   int64
	UpdatedAt time.Time
}

// StoredEvent представляет сохраненное событие с метаданными хранилища
type StoredEvent struct {
	ID         string
	StockID    string
	VariantID  string
	EventType  string
	EventData  domain.Event
	Version    int64
	Position   int64
	OccurredAt time.Time
	CreatedAt  time.Time
}

// Store контракт ledger store'а. AppendIfVersion атомарен на уровне
// версии агрегата: из двух конкурентных writer'ов с одинаковой
// expectedVersion успешен ровно один, второй получает ErrVersionConflict.
type Store interface {
	// LoadLatest возвращает снапшот агрегата варианта.
	// Возвращает ErrNotFound, если агрегат еще не создан.
	LoadLatest(ctx context.Context, variantID string) (Snapshot, error)

	// AppendIfVersion добавляет событие в поток агрегата при условии, что
	// текущая версия store'а равна expectedVersion, и возвращает новую версию.
	// expectedVersion 0 с событием StockCreated создает поток; существующий
	// поток для варианта дает ErrAlreadyExists.
	AppendIfVersion(ctx context.Context, variantID string, expectedVersion int64, event domain.Event) (int64, error)

	// LoadHistory возвращает упорядоченную историю событий агрегата
	// начиная с указанной версии. Для аудита и rebuild, не hot path.
	LoadHistory(ctx context.Context, variantID string, fromVersion int64) ([]StoredEvent, error)
}
