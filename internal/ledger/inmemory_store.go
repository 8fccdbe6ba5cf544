package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/stockledger/internal/domain"
)

// stream поток событий одного агрегата плюс его снапшот
type stream struct {
	snapshot Snapshot
	events   []StoredEvent
}

// InMemoryStore реализация Store в памяти для тестирования и разработки
type InMemoryStore struct {
	mu       sync.RWMutex
	streams  map[string]*stream // ключ - variant ID
	position int64
}

// NewInMemoryStore создает новый InMemory Store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[string]*stream),
	}
}

// LoadLatest возвращает снапшот агрегата варианта
func (s *InMemoryStore) LoadLatest(ctx context.Context, variantID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.streams[variantID]
	if !exists {
		return Snapshot{}, ErrNotFound
	}
	return st.snapshot, nil
}

// AppendIfVersion добавляет событие с проверкой версии для оптимистичной конкурентности
func (s *InMemoryStore) AppendIfVersion(ctx context.Context, variantID string, expectedVersion int64, event domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.streams[variantID]
	if !exists {
		if expectedVersion != 0 {
			return 0, ErrNotFound
		}
		created, ok := event.(*domain.StockCreated)
		if !ok {
			return 0, fmt.Errorf("stream for variant %s does not exist: first event must be %s", variantID, domain.EventTypeStockCreated)
		}
		st = &stream{
			snapshot: Snapshot{
				StockID:   created.Stock,
				VariantID: variantID,
			},
		}
		s.streams[variantID] = st
	} else if expectedVersion == 0 {
		return 0, ErrAlreadyExists
	} else if st.snapshot.Version != expectedVersion {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrVersionConflict, expectedVersion, st.snapshot.Version)
	}

	newQuantity, err := domain.ApplyToQuantity(st.snapshot.Quantity, event)
	if err != nil {
		return 0, err
	}

	s.position++
	newVersion := expectedVersion + 1
	st.events = append(st.events, StoredEvent{
		ID:         event.EventID(),
		StockID:    st.snapshot.StockID,
		VariantID:  variantID,
		EventType:  event.EventType(),
		EventData:  event,
		Version:    newVersion,
		Position:   s.position,
		OccurredAt: event.OccurredAt(),
		CreatedAt:  time.Now().UTC(),
	})
	st.snapshot.Quantity = newQuantity
	st.snapshot.Version = newVersion
	st.snapshot.UpdatedAt = time.Now().UTC()

	return newVersion, nil
}

// LoadHistory возвращает события агрегата начиная с указанной версии
func (s *InMemoryStore) LoadHistory(ctx context.Context, variantID string, fromVersion int64) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.streams[variantID]
	if !exists {
		return nil, ErrNotFound
	}

	var result []StoredEvent
	for _, event := range st.events {
		if event.Version >= fromVersion {
			result = append(result, event)
		}
	}
	return result, nil
}

// Clear очищает все потоки (для тестов)
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string]*stream)
	s.position = 0
}
