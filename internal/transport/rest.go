// Package transport предоставляет REST адаптер stock ledger сервиса.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/akriventsev/stockledger/internal/domain"
	"github.com/akriventsev/stockledger/internal/ledger"
	"github.com/akriventsev/stockledger/internal/service"
)

// RESTConfig конфигурация для REST адаптера
type RESTConfig struct {
	Port     int
	BasePath string
}

// DefaultRESTConfig возвращает конфигурацию REST по умолчанию
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Port:     8080,
		BasePath: "/api/v1",
	}
}

// RESTAdapter HTTP API поверх StockService
type RESTAdapter struct {
	config  RESTConfig
	router  *gin.Engine
	service *service.StockService
	log     zerolog.Logger
	server  *http.Server
}

// NewRESTAdapter создает новый REST адаптер
func NewRESTAdapter(config RESTConfig, svc *service.StockService, log zerolog.Logger) *RESTAdapter {
	gin.SetMode(gin.ReleaseMode)
	adapter := &RESTAdapter{
		config:  config,
		router:  gin.New(),
		service: svc,
		log:     log,
	}
	adapter.router.Use(gin.Recovery())
	adapter.registerRoutes()
	return adapter
}

// Router возвращает gin router (для тестов)
func (r *RESTAdapter) Router() *gin.Engine {
	return r.router
}

// Start запускает HTTP сервер
func (r *RESTAdapter) Start(ctx context.Context) error {
	r.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", r.config.Port),
		Handler: r.router,
	}

	go func() {
		r.log.Info().Int("port", r.config.Port).Msg("REST adapter listening")
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error().Err(err).Msg("REST server error")
		}
	}()
	return nil
}

// Stop останавливает HTTP сервер
func (r *RESTAdapter) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}

func (r *RESTAdapter) registerRoutes() {
	r.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.router.Group(r.config.BasePath)
	api.POST("/stocks", r.createStock)
	api.GET("/stocks/:variantId", r.getStock)
	api.POST("/stocks/:variantId/write-off", r.writeOff)
	api.POST("/stocks/:variantId/sale-return", r.saleReturn)
	api.GET("/stocks/:variantId/history", r.history)
}

type createStockRequest struct {
	VariantID    string `json:"variant_id" binding:"required"`
	InitialStock int    `json:"initial_stock"`
}

func (r *RESTAdapter) createStock(c *gin.Context) {
	var req createStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stockID, err := r.service.Initialize(c.Request.Context(), req.VariantID, req.InitialStock)
	if err != nil {
		r.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"stock_id":   stockID,
		"variant_id": req.VariantID,
		"quantity":   req.InitialStock,
	})
}

func (r *RESTAdapter) getStock(c *gin.Context) {
	variantID := c.Param("variantId")

	quantity, err := r.service.GetQuantity(c.Request.Context(), variantID)
	if err != nil {
		r.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"variant_id": variantID,
		"quantity":   quantity,
	})
}

type writeOffRequest struct {
	Reason string `json:"reason" binding:"required"`
	Count  int    `json:"count"`
}

func (r *RESTAdapter) writeOff(c *gin.Context) {
	variantID := c.Param("variantId")

	var req writeOffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quantity, err := r.service.RecordWriteOff(c.Request.Context(), variantID, domain.WriteOffReason(req.Reason), req.Count)
	if err != nil {
		r.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"variant_id": variantID,
		"quantity":   quantity,
	})
}

type saleReturnRequest struct {
	Count int `json:"count"`
}

func (r *RESTAdapter) saleReturn(c *gin.Context) {
	variantID := c.Param("variantId")

	var req saleReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quantity, err := r.service.RecordSaleReturn(c.Request.Context(), variantID, req.Count)
	if err != nil {
		r.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"variant_id": variantID,
		"quantity":   quantity,
	})
}

type historyEntry struct {
	EventID    string       `json:"event_id"`
	EventType  string       `json:"event_type"`
	Version    int64        `json:"version"`
	OccurredAt time.Time    `json:"occurred_at"`
	Event      domain.Event `json:"event"`
}

func (r *RESTAdapter) history(c *gin.Context) {
	variantID := c.Param("variantId")

	fromVersion := int64(0)
	if raw := c.Query("from"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from version"})
			return
		}
		fromVersion = parsed
	}

	stored, err := r.service.History(c.Request.Context(), variantID, fromVersion)
	if err != nil {
		r.renderError(c, err)
		return
	}

	entries := make([]historyEntry, 0, len(stored))
	for _, se := range stored {
		entries = append(entries, historyEntry{
			EventID:    se.ID,
			EventType:  se.EventType,
			Version:    se.Version,
			OccurredAt: se.OccurredAt,
			Event:      se.EventData,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"variant_id": variantID,
		"events":     entries,
	})
}

// renderError переводит доменные ошибки в HTTP статусы.
// Отказ по бизнес-правилу (422) отличим от ошибки валидации (400),
// чтобы вызывающий мог показать "недостаточно остатка", а не "плохой ввод".
func (r *RESTAdapter) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidReason):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientStock):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConcurrencyExhausted):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	default:
		r.log.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
