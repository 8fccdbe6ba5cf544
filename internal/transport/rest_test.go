package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stockledger/internal/ledger"
	"github.com/akriventsev/stockledger/internal/service"
)

func newTestAdapter(t *testing.T) *RESTAdapter {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := service.NewStockService(ledger.NewInMemoryStore())
	return NewRESTAdapter(DefaultRESTConfig(), svc, zerolog.Nop())
}

func doRequest(t *testing.T, adapter *RESTAdapter, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	adapter.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func createStockHelper(t *testing.T, adapter *RESTAdapter, variantID string, initialStock int) {
	t.Helper()
	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks", map[string]any{
		"variant_id":    variantID,
		"initial_stock": initialStock,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateStockEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)

	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks", map[string]any{
		"variant_id":    "variant-1",
		"initial_stock": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["stock_id"])
	assert.Equal(t, "variant-1", body["variant_id"])
	assert.EqualValues(t, 10, body["quantity"])
}

func TestCreateStockDuplicate(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 10)

	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks", map[string]any{
		"variant_id":    "variant-1",
		"initial_stock": 5,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateStockValidation(t *testing.T) {
	adapter := newTestAdapter(t)

	// Отрицательный начальный остаток
	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks", map[string]any{
		"variant_id":    "variant-1",
		"initial_stock": -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Пустой variant_id не проходит binding
	rec = doRequest(t, adapter, http.MethodPost, "/api/v1/stocks", map[string]any{
		"initial_stock": 10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStockEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 10)

	rec := doRequest(t, adapter, http.MethodGet, "/api/v1/stocks/variant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 10, body["quantity"])
}

func TestGetStockNotFound(t *testing.T) {
	adapter := newTestAdapter(t)

	rec := doRequest(t, adapter, http.MethodGet, "/api/v1/stocks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteOffEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 10)

	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks/variant-1/write-off", map[string]any{
		"reason": "sale",
		"count":  3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 7, body["quantity"])
}

func TestWriteOffInsufficientStock(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 5)

	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks/variant-1/write-off", map[string]any{
		"reason": "sale",
		"count":  6,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Остаток не изменился
	rec = doRequest(t, adapter, http.MethodGet, "/api/v1/stocks/variant-1", nil)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 5, body["quantity"])
}

func TestWriteOffInvalidReason(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 5)

	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks/variant-1/write-off", map[string]any{
		"reason": "shrinkage",
		"count":  1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaleReturnEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 10)

	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks/variant-1/sale-return", map[string]any{
		"count": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 12, body["quantity"])
}

func TestSaleReturnInvalidCount(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 10)

	rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks/variant-1/sale-return", map[string]any{
		"count": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 10)

	for i := 0; i < 2; i++ {
		rec := doRequest(t, adapter, http.MethodPost, "/api/v1/stocks/variant-1/write-off", map[string]any{
			"reason": "sale",
			"count":  1,
		})
		require.Equal(t, http.StatusOK, rec.Code, "write-off %d", i)
	}

	rec := doRequest(t, adapter, http.MethodGet, "/api/v1/stocks/variant-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 3)

	// Версии возрастают в порядке store'а
	for i, raw := range events {
		entry := raw.(map[string]any)
		assert.EqualValues(t, i+1, entry["version"])
	}

	// Частичная история
	rec = doRequest(t, adapter, http.MethodGet, "/api/v1/stocks/variant-1/history?from=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	events = body["events"].([]any)
	assert.Len(t, events, 2)

	// За концом истории существующий вариант отвечает пустым списком, не 404
	rec = doRequest(t, adapter, http.MethodGet, "/api/v1/stocks/variant-1/history?from=99", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	events = body["events"].([]any)
	assert.Len(t, events, 0)
}

func TestHistoryInvalidFromVersion(t *testing.T) {
	adapter := newTestAdapter(t)
	createStockHelper(t, adapter, "variant-1", 10)

	for _, from := range []string{"abc", "-1"} {
		rec := doRequest(t, adapter, http.MethodGet, fmt.Sprintf("/api/v1/stocks/variant-1/history?from=%s", from), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "from=%s", from)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	adapter := newTestAdapter(t)

	rec := doRequest(t, adapter, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
