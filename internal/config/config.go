// Package config загружает конфигурацию сервиса из переменных окружения.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"
	StoreBackendMongoDB  = "mongodb"
)

// Publisher backends
const (
	PublisherBackendNone  = "none"
	PublisherBackendNATS  = "nats"
	PublisherBackendKafka = "kafka"
)

// Config конфигурация сервиса stock ledger
type Config struct {
	Service   ServiceConfig
	HTTP      HTTPConfig
	Store     StoreConfig
	Cache     CacheConfig
	Publisher PublisherConfig
	Retry     RetryConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
}

// ServiceConfig идентификация сервиса
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// HTTPConfig конфигурация HTTP сервера
type HTTPConfig struct {
	Port     int
	BasePath string
}

// StoreConfig конфигурация ledger store
type StoreConfig struct {
	Backend string // "memory", "postgres", "mongodb"

	PostgresDSN    string
	PostgresSchema string

	MongoURI      string
	MongoDatabase string
}

// CacheConfig конфигурация Redis кэша снапшотов
type CacheConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PublisherConfig конфигурация публикации событий
type PublisherConfig struct {
	Backend       string // "none", "nats", "kafka"
	NATSURL       string
	SubjectPrefix string
	KafkaBrokers  []string
	KafkaTopic    string
}

// RetryConfig конфигурация повторов при конфликте версий
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// TracingConfig конфигурация distributed tracing
type TracingConfig struct {
	Enabled          bool
	Exporter         string
	ExporterEndpoint string
	SamplingRate     float64
}

// LoggingConfig конфигурация логирования
type LoggingConfig struct {
	Level string
}

// Load читает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        envString("SERVICE_NAME", "stockledger"),
			Version:     envString("SERVICE_VERSION", "dev"),
			Environment: envString("ENVIRONMENT", "development"),
		},
		HTTP: HTTPConfig{
			Port:     envInt("HTTP_PORT", 8080),
			BasePath: envString("HTTP_BASE_PATH", "/api/v1"),
		},
		Store: StoreConfig{
			Backend:        envString("STORE_BACKEND", StoreBackendMemory),
			PostgresDSN:    envString("POSTGRES_DSN", ""),
			PostgresSchema: envString("POSTGRES_SCHEMA", "public"),
			MongoURI:       envString("MONGO_URI", ""),
			MongoDatabase:  envString("MONGO_DATABASE", "stockledger"),
		},
		Cache: CacheConfig{
			Enabled:  envBool("CACHE_ENABLED", false),
			Addr:     envString("REDIS_ADDR", "localhost:6379"),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			TTL:      envDuration("CACHE_TTL", 30*time.Second),
		},
		Publisher: PublisherConfig{
			Backend:       envString("PUBLISHER_BACKEND", PublisherBackendNone),
			NATSURL:       envString("NATS_URL", "nats://localhost:4222"),
			SubjectPrefix: envString("NATS_SUBJECT_PREFIX", "stockledger.events"),
			KafkaBrokers:  envStrings("KAFKA_BROKERS", nil),
			KafkaTopic:    envString("KAFKA_TOPIC", "stockledger.events"),
		},
		Retry: RetryConfig{
			MaxAttempts:       envInt("RETRY_MAX_ATTEMPTS", 5),
			InitialDelay:      envDuration("RETRY_INITIAL_DELAY", 20*time.Millisecond),
			MaxDelay:          envDuration("RETRY_MAX_DELAY", 500*time.Millisecond),
			BackoffMultiplier: envFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
		},
		Tracing: TracingConfig{
			Enabled:          envBool("TRACING_ENABLED", false),
			Exporter:         envString("TRACING_EXPORTER", "stdout"),
			ExporterEndpoint: envString("TRACING_ENDPOINT", ""),
			SamplingRate:     envFloat("TRACING_SAMPLING_RATE", 1.0),
		},
		Logging: LoggingConfig{
			Level: envString("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for postgres backend")
		}
	case StoreBackendMongoDB:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for mongodb backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	switch c.Publisher.Backend {
	case PublisherBackendNone, PublisherBackendNATS:
	case PublisherBackendKafka:
		if len(c.Publisher.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for kafka backend")
		}
	default:
		return fmt.Errorf("unknown publisher backend: %s", c.Publisher.Backend)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	// Нулевой backoff превращает повторы в горячий цикл
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry max delay must be >= initial delay")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff multiplier must be >= 1.0")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envStrings(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
