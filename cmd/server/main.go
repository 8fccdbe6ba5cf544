package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/akriventsev/stockledger/internal/config"
	"github.com/akriventsev/stockledger/internal/ledger"
	"github.com/akriventsev/stockledger/internal/logging"
	"github.com/akriventsev/stockledger/internal/metrics"
	"github.com/akriventsev/stockledger/internal/observability"
	"github.com/akriventsev/stockledger/internal/publisher"
	"github.com/akriventsev/stockledger/internal/service"
	"github.com/akriventsev/stockledger/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logging.New(logging.Config{})
		fallbackLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(logging.Config{
		Environment: cfg.Service.Environment,
		Level:       cfg.Logging.Level,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Метрики
	meterProvider, err := metrics.Setup(metrics.SetupConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup metrics")
	}

	serviceMetrics, err := metrics.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create metrics")
	}

	// Tracing
	tracing, err := observability.NewTracingManager(observability.TracingConfig{
		Enabled:          cfg.Tracing.Enabled,
		ServiceName:      cfg.Service.Name,
		ServiceVersion:   cfg.Service.Version,
		Exporter:         cfg.Tracing.Exporter,
		ExporterEndpoint: cfg.Tracing.ExporterEndpoint,
		SamplingRate:     cfg.Tracing.SamplingRate,
		Environment:      cfg.Service.Environment,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup tracing")
	}
	if err := tracing.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start tracing")
	}

	// Ledger store
	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ledger store")
	}

	// Публикатор событий
	eventPublisher, err := publisher.NewEventPublisher(publisher.Config{
		Backend:       cfg.Publisher.Backend,
		NATSURL:       cfg.Publisher.NATSURL,
		SubjectPrefix: cfg.Publisher.SubjectPrefix,
		KafkaBrokers:  cfg.Publisher.KafkaBrokers,
		KafkaTopic:    cfg.Publisher.KafkaTopic,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Сервис
	stockService := service.NewStockService(store,
		service.WithPublisher(eventPublisher),
		service.WithMetrics(serviceMetrics),
		service.WithLogger(log),
		service.WithRetryConfig(service.RetryConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialDelay:      cfg.Retry.InitialDelay,
			MaxDelay:          cfg.Retry.MaxDelay,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		}),
	)

	// REST адаптер
	rest := transport.NewRESTAdapter(transport.RESTConfig{
		Port:     cfg.HTTP.Port,
		BasePath: cfg.HTTP.BasePath,
	}, stockService, log)

	if cfg.Tracing.Enabled {
		rest.Router().Use(observability.HTTPTracingMiddleware(cfg.Service.Name))
		rest.Router().Use(observability.CorrelationIDMiddleware())
	}

	if err := rest.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start REST adapter")
	}

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("store_backend", cfg.Store.Backend).
		Str("publisher_backend", cfg.Publisher.Backend).
		Msg("stock ledger started")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := rest.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop REST adapter")
	}
	if err := eventPublisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event publisher")
	}
	closeStore(shutdownCtx)
	if err := tracing.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop tracing")
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown meter provider")
	}

	log.Info().Msg("stock ledger stopped")
}

// buildStore собирает ledger store по конфигурации, при необходимости
// оборачивая его в Redis снапшот-кэш
func buildStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ledger.Store, func(context.Context), error) {
	var store ledger.Store
	var closeStore func(context.Context)

	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pgConfig := ledger.DefaultPostgresStoreConfig()
		pgConfig.DSN = cfg.Store.PostgresDSN
		pgConfig.SchemaName = cfg.Store.PostgresSchema

		pg, err := ledger.NewPostgresStore(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		store = pg
		closeStore = func(context.Context) { pg.Close() }
	case config.StoreBackendMongoDB:
		mongoConfig := ledger.DefaultMongoDBStoreConfig()
		mongoConfig.URI = cfg.Store.MongoURI
		mongoConfig.Database = cfg.Store.MongoDatabase

		mongo, err := ledger.NewMongoDBStore(ctx, mongoConfig)
		if err != nil {
			return nil, nil, err
		}
		store = mongo
		closeStore = func(ctx context.Context) {
			if err := mongo.Close(ctx); err != nil {
				log.Error().Err(err).Msg("failed to close mongodb store")
			}
		}
	default:
		store = ledger.NewInMemoryStore()
		closeStore = func(context.Context) {}
	}

	if cfg.Cache.Enabled {
		cacheConfig := ledger.DefaultRedisCacheConfig()
		cacheConfig.Addr = cfg.Cache.Addr
		cacheConfig.Password = cfg.Cache.Password
		cacheConfig.DB = cfg.Cache.DB
		cacheConfig.TTL = cfg.Cache.TTL

		cached, err := ledger.NewCachedStore(cacheConfig, store, log)
		if err != nil {
			return nil, nil, err
		}
		inner := closeStore
		store = cached
		closeStore = func(ctx context.Context) {
			if err := cached.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close snapshot cache")
			}
			inner(ctx)
		}
	}

	return store, closeStore, nil
}
