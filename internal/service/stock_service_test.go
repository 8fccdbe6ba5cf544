package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stockledger/internal/domain"
	"github.com/akriventsev/stockledger/internal/ledger"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newTestService(store ledger.Store) *StockService {
	return NewStockService(store, WithRetryConfig(fastRetry()))
}

func TestInitializeAndGetQuantity(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())
	ctx := context.Background()

	stockID, err := svc.Initialize(ctx, "variant-1", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, stockID)

	quantity, err := svc.GetQuantity(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, 10, quantity)
}

func TestInitializeNegativeStock(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())

	_, err := svc.Initialize(context.Background(), "variant-1", -5)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestInitializeDuplicate(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "variant-1", 10)
	require.NoError(t, err)

	_, err = svc.Initialize(ctx, "variant-1", 20)
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)

	// Исходный остаток не тронут
	quantity, err := svc.GetQuantity(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, 10, quantity)
}

func TestConcurrentInitializeSingleWinner(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())
	ctx := context.Background()

	const creators = 4
	var wg sync.WaitGroup
	errs := make([]error, creators)

	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Initialize(ctx, "variant-1", 10)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
		}
	}
	assert.Equal(t, 1, winners)

	// Проигравшие не оставляют осиротевших событий создания: replay
	// истории воспроизводит тот же снапшот
	history, err := svc.History(ctx, "variant-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	rebuilt, err := svc.Rebuild(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, 10, rebuilt.Quantity())
	assert.EqualValues(t, 1, rebuilt.Version())
}

func TestWriteOffAndReturnFlow(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "variant-1", 10)
	require.NoError(t, err)

	quantity, err := svc.RecordWriteOff(ctx, "variant-1", domain.ReasonSale, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, quantity)

	quantity, err = svc.RecordSaleReturn(ctx, "variant-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 8, quantity)

	_, err = svc.RecordWriteOff(ctx, "variant-1", domain.ReasonSale, 20)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	quantity, err = svc.GetQuantity(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, 8, quantity)
}

func TestWriteOffUnknownVariant(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())

	_, err := svc.RecordWriteOff(context.Background(), "missing", domain.ReasonSale, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestWriteOffInvalidReason(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "variant-1", 10)
	require.NoError(t, err)

	_, err = svc.RecordWriteOff(ctx, "variant-1", domain.WriteOffReason("shrinkage"), 1)
	assert.ErrorIs(t, err, domain.ErrInvalidReason)
}

func TestConcurrentWriteOffsBothApply(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "variant-1", 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	counts := []int{3, 4}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordWriteOff(ctx, "variant-1", domain.ReasonSale, counts[i])
		}(i)
	}
	wg.Wait()

	// Проигравший конфликт writer добивается успеха повтором
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	quantity, err := svc.GetQuantity(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, 3, quantity)
}

func TestManyConcurrentReturns(t *testing.T) {
	svc := NewStockService(ledger.NewInMemoryStore(), WithRetryConfig(RetryConfig{
		MaxAttempts:       50,
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}))
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "variant-1", 0)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSaleReturn(ctx, "variant-1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	quantity, err := svc.GetQuantity(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, writers, quantity)
}

// conflictingStore всегда отвечает конфликтом версий на append
type conflictingStore struct {
	appendCalls atomic.Int64
}

func (s *conflictingStore) LoadLatest(ctx context.Context, variantID string) (ledger.Snapshot, error) {
	return ledger.Snapshot{
		StockID:   "stock-1",
		VariantID: variantID,
		Quantity:  10,
		Version:   1,
	}, nil
}

func (s *conflictingStore) AppendIfVersion(ctx context.Context, variantID string, expectedVersion int64, event domain.Event) (int64, error) {
	s.appendCalls.Add(1)
	return 0, ledger.ErrVersionConflict
}

func (s *conflictingStore) LoadHistory(ctx context.Context, variantID string, fromVersion int64) ([]ledger.StoredEvent, error) {
	return nil, ledger.ErrNotFound
}

func TestRetriesExhausted(t *testing.T) {
	store := &conflictingStore{}
	svc := newTestService(store)

	_, err := svc.RecordWriteOff(context.Background(), "variant-1", domain.ReasonSale, 1)
	assert.ErrorIs(t, err, ErrConcurrencyExhausted)
	assert.EqualValues(t, 5, store.appendCalls.Load())
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	store := &conflictingStore{}
	svc := NewStockService(store, WithRetryConfig(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.RecordWriteOff(ctx, "variant-1", domain.ReasonSale, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// Отмена прервала backoff до исчерпания бюджета повторов
	assert.Less(t, store.appendCalls.Load(), int64(5))
}

// countingStore считает попытки append поверх настоящего store
type countingStore struct {
	ledger.Store
	appendCalls atomic.Int64
}

func (s *countingStore) AppendIfVersion(ctx context.Context, variantID string, expectedVersion int64, event domain.Event) (int64, error) {
	s.appendCalls.Add(1)
	return s.Store.AppendIfVersion(ctx, variantID, expectedVersion, event)
}

func TestDomainErrorNotRetried(t *testing.T) {
	store := &countingStore{Store: ledger.NewInMemoryStore()}
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "variant-1", 5)
	require.NoError(t, err)
	store.appendCalls.Store(0)

	_, err = svc.RecordWriteOff(ctx, "variant-1", domain.ReasonSale, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	// Нарушение доменного правила детерминировано, повторы не выполняются
	assert.EqualValues(t, 0, store.appendCalls.Load())
}

func TestHistoryAndRebuild(t *testing.T) {
	svc := newTestService(ledger.NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "variant-1", 10)
	require.NoError(t, err)
	_, err = svc.RecordWriteOff(ctx, "variant-1", domain.ReasonDamage, 2)
	require.NoError(t, err)
	_, err = svc.RecordSaleReturn(ctx, "variant-1", 1)
	require.NoError(t, err)

	history, err := svc.History(ctx, "variant-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, stored := range history {
		assert.EqualValues(t, i+1, stored.Version)
	}

	rebuilt, err := svc.Rebuild(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, 9, rebuilt.Quantity())
	assert.EqualValues(t, 3, rebuilt.Version())

	quantity, err := svc.GetQuantity(ctx, "variant-1")
	require.NoError(t, err)
	assert.Equal(t, rebuilt.Quantity(), quantity)
}
