package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustMarshal(t *testing.T, event Event) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return data
}

func TestCreateStock(t *testing.T) {
	stock, err := CreateStock("variant-1", 10)
	if err != nil {
		t.Fatalf("CreateStock failed: %v", err)
	}

	if stock.VariantID() != "variant-1" {
		t.Errorf("expected variant ID 'variant-1', got '%s'", stock.VariantID())
	}
	if stock.Quantity() != 10 {
		t.Errorf("expected quantity 10, got %d", stock.Quantity())
	}
	if stock.Version() != 1 {
		t.Errorf("expected version 1, got %d", stock.Version())
	}
	if stock.StockID() == "" {
		t.Error("expected non-empty stock ID")
	}

	events := stock.UncommittedEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 uncommitted event, got %d", len(events))
	}
	created, ok := events[0].(*StockCreated)
	if !ok {
		t.Fatalf("expected *StockCreated, got %T", events[0])
	}
	if created.InitialStock != 10 {
		t.Errorf("expected initial stock 10, got %d", created.InitialStock)
	}
}

func TestCreateStockZeroInitial(t *testing.T) {
	stock, err := CreateStock("variant-1", 0)
	if err != nil {
		t.Fatalf("CreateStock with zero initial stock failed: %v", err)
	}
	if stock.Quantity() != 0 {
		t.Errorf("expected quantity 0, got %d", stock.Quantity())
	}
}

func TestCreateStockNegativeInitial(t *testing.T) {
	_, err := CreateStock("variant-1", -1)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestWriteOff(t *testing.T) {
	stock, _ := CreateStock("variant-1", 10)

	if err := stock.WriteOff(ReasonSale, 3); err != nil {
		t.Fatalf("WriteOff failed: %v", err)
	}

	if stock.Quantity() != 7 {
		t.Errorf("expected quantity 7, got %d", stock.Quantity())
	}
	if stock.Version() != 2 {
		t.Errorf("expected version 2, got %d", stock.Version())
	}
}

func TestWriteOffExactQuantity(t *testing.T) {
	stock, _ := CreateStock("variant-1", 5)

	if err := stock.WriteOff(ReasonDamage, 5); err != nil {
		t.Fatalf("WriteOff of exact quantity failed: %v", err)
	}
	if stock.Quantity() != 0 {
		t.Errorf("expected quantity 0, got %d", stock.Quantity())
	}
}

func TestWriteOffInsufficientStock(t *testing.T) {
	stock, _ := CreateStock("variant-1", 5)

	err := stock.WriteOff(ReasonSale, 6)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// Отклоненная команда не меняет ни состояние, ни версию
	if stock.Quantity() != 5 {
		t.Errorf("expected quantity unchanged at 5, got %d", stock.Quantity())
	}
	if stock.Version() != 1 {
		t.Errorf("expected version unchanged at 1, got %d", stock.Version())
	}
	if len(stock.UncommittedEvents()) != 1 {
		t.Errorf("expected only the creation event, rejected command must not record one")
	}
}

func TestWriteOffInvalidCount(t *testing.T) {
	stock, _ := CreateStock("variant-1", 5)

	if err := stock.WriteOff(ReasonSale, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for zero count, got %v", err)
	}
	if err := stock.WriteOff(ReasonSale, -2); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for negative count, got %v", err)
	}
}

func TestWriteOffInvalidReason(t *testing.T) {
	stock, _ := CreateStock("variant-1", 5)

	err := stock.WriteOff(WriteOffReason("shrinkage"), 1)
	if !errors.Is(err, ErrInvalidReason) {
		t.Errorf("expected ErrInvalidReason, got %v", err)
	}
	if stock.Quantity() != 5 {
		t.Errorf("expected quantity unchanged at 5, got %d", stock.Quantity())
	}
}

func TestWriteOffReasonValid(t *testing.T) {
	valid := []WriteOffReason{ReasonSale, ReasonDamage, ReasonExpired, ReasonManualAdjustment, ReasonReturnToSupplier}
	for _, reason := range valid {
		if !reason.Valid() {
			t.Errorf("expected reason %q to be valid", reason)
		}
	}
	if WriteOffReason("").Valid() {
		t.Error("expected empty reason to be invalid")
	}
	if WriteOffReason("theft").Valid() {
		t.Error("expected unknown reason to be invalid")
	}
}

func TestReturnSale(t *testing.T) {
	stock, _ := CreateStock("variant-1", 3)

	if err := stock.ReturnSale(2); err != nil {
		t.Fatalf("ReturnSale failed: %v", err)
	}

	if stock.Quantity() != 5 {
		t.Errorf("expected quantity 5, got %d", stock.Quantity())
	}
	if stock.Version() != 2 {
		t.Errorf("expected version 2, got %d", stock.Version())
	}
}

func TestReturnSaleAboveInitialStock(t *testing.T) {
	// Возврат намеренно не ограничен сверху
	stock, _ := CreateStock("variant-1", 1)

	if err := stock.ReturnSale(100); err != nil {
		t.Fatalf("ReturnSale above initial stock failed: %v", err)
	}
	if stock.Quantity() != 101 {
		t.Errorf("expected quantity 101, got %d", stock.Quantity())
	}
}

func TestReturnSaleInvalidCount(t *testing.T) {
	stock, _ := CreateStock("variant-1", 1)

	if err := stock.ReturnSale(0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for zero count, got %v", err)
	}
	if err := stock.ReturnSale(-1); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity for negative count, got %v", err)
	}
}

func TestStockLifecycle(t *testing.T) {
	stock, err := CreateStock("variant-1", 10)
	if err != nil {
		t.Fatalf("CreateStock failed: %v", err)
	}

	if err := stock.WriteOff(ReasonSale, 3); err != nil {
		t.Fatalf("WriteOff failed: %v", err)
	}
	if stock.Quantity() != 7 {
		t.Fatalf("expected quantity 7, got %d", stock.Quantity())
	}

	if err := stock.ReturnSale(1); err != nil {
		t.Fatalf("ReturnSale failed: %v", err)
	}
	if stock.Quantity() != 8 {
		t.Fatalf("expected quantity 8, got %d", stock.Quantity())
	}

	if err := stock.WriteOff(ReasonSale, 20); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if stock.Quantity() != 8 {
		t.Errorf("expected quantity unchanged at 8, got %d", stock.Quantity())
	}
	if stock.Version() != 3 {
		t.Errorf("expected version 3, got %d", stock.Version())
	}
}

func TestReplayStock(t *testing.T) {
	stock, _ := CreateStock("variant-1", 10)
	stock.WriteOff(ReasonSale, 3)
	stock.ReturnSale(1)
	stock.WriteOff(ReasonDamage, 2)

	replayed, err := ReplayStock(stock.UncommittedEvents())
	if err != nil {
		t.Fatalf("ReplayStock failed: %v", err)
	}

	if replayed.Quantity() != stock.Quantity() {
		t.Errorf("replay quantity %d does not match live aggregate %d", replayed.Quantity(), stock.Quantity())
	}
	if replayed.Version() != stock.Version() {
		t.Errorf("replay version %d does not match live aggregate %d", replayed.Version(), stock.Version())
	}
	if replayed.StockID() != stock.StockID() {
		t.Errorf("replay stock ID %s does not match live aggregate %s", replayed.StockID(), stock.StockID())
	}
}

func TestReplayStockEmptyHistory(t *testing.T) {
	if _, err := ReplayStock(nil); err == nil {
		t.Error("expected error for empty history")
	}
}

func TestMarkEventsAsCommitted(t *testing.T) {
	stock, _ := CreateStock("variant-1", 10)
	stock.WriteOff(ReasonSale, 1)

	if len(stock.UncommittedEvents()) != 2 {
		t.Fatalf("expected 2 uncommitted events, got %d", len(stock.UncommittedEvents()))
	}

	stock.MarkEventsAsCommitted()
	if len(stock.UncommittedEvents()) != 0 {
		t.Errorf("expected no uncommitted events after commit, got %d", len(stock.UncommittedEvents()))
	}
}

func TestApplyToQuantity(t *testing.T) {
	q, err := ApplyToQuantity(0, &StockCreated{InitialStock: 10})
	if err != nil || q != 10 {
		t.Errorf("expected 10, got %d (err %v)", q, err)
	}

	q, err = ApplyToQuantity(10, &StockWrittenOff{Count: 3})
	if err != nil || q != 7 {
		t.Errorf("expected 7, got %d (err %v)", q, err)
	}

	if _, err := ApplyToQuantity(2, &StockWrittenOff{Count: 3}); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}

	q, err = ApplyToQuantity(7, &StockSaleReturned{Count: 1})
	if err != nil || q != 8 {
		t.Errorf("expected 8, got %d (err %v)", q, err)
	}
}

func TestDeserializeEventRoundTrip(t *testing.T) {
	stock, _ := CreateStock("variant-1", 10)
	stock.WriteOff(ReasonExpired, 4)

	for _, original := range stock.UncommittedEvents() {
		data := mustMarshal(t, original)
		restored, err := DeserializeEvent(original.EventType(), data)
		if err != nil {
			t.Fatalf("DeserializeEvent(%s) failed: %v", original.EventType(), err)
		}
		if restored.EventID() != original.EventID() {
			t.Errorf("expected event ID %s, got %s", original.EventID(), restored.EventID())
		}
		if restored.StockID() != original.StockID() {
			t.Errorf("expected stock ID %s, got %s", original.StockID(), restored.StockID())
		}
	}

	if _, err := DeserializeEvent("stock.unknown", []byte("{}")); err == nil {
		t.Error("expected error for unknown event type")
	}
}
