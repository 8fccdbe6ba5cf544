package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/akriventsev/stockledger/internal/domain"
)

// RedisCacheConfig конфигурация для Redis снапшот-кэша
type RedisCacheConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	TTL       time.Duration
	KeyPrefix string
}

// Validate проверяет корректность конфигурации
func (c *RedisCacheConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.TTL <= 0 {
		c.TTL = time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "stockledger:snapshot"
	}
	return nil
}

// DefaultRedisCacheConfig возвращает конфигурацию по умолчанию
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		TTL:       time.Minute,
		KeyPrefix: "stockledger:snapshot",
	}
}

// CachedStore read-through кэш снапшотов поверх авторитетного Store.
// Чтения могут обслуживаться из кэша; путь записи всегда проходит через
// нижележащий store и перепроверяет версию там - кэш не участвует в
// оптимистичной конкурентности. Ошибки Redis деградируют в прямое чтение.
type CachedStore struct {
	store  Store
	client *redis.Client
	config RedisCacheConfig
	log    zerolog.Logger
}

// NewCachedStore создает снапшот-кэш поверх store
func NewCachedStore(config RedisCacheConfig, store Store, log zerolog.Logger) (*CachedStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis cache config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CachedStore{
		store:  store,
		client: client,
		config: config,
		log:    log,
	}, nil
}

// Close закрывает подключение к Redis
func (c *CachedStore) Close() error {
	return c.client.Close()
}

func (c *CachedStore) key(variantID string) string {
	return c.config.KeyPrefix + ":" + variantID
}

// LoadLatest возвращает снапшот из кэша, при промахе читает store
func (c *CachedStore) LoadLatest(ctx context.Context, variantID string) (Snapshot, error) {
	data, err := c.client.Get(ctx, c.key(variantID)).Bytes()
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return snap, nil
		}
		// Поврежденная запись: убираем и читаем store
		c.client.Del(ctx, c.key(variantID))
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Str("variant_id", variantID).Msg("snapshot cache read failed, falling back to store")
	}

	snap, err := c.store.LoadLatest(ctx, variantID)
	if err != nil {
		return Snapshot{}, err
	}
	c.cache(ctx, snap)
	return snap, nil
}

// AppendIfVersion делегирует append авторитетному store и обновляет кэш
func (c *CachedStore) AppendIfVersion(ctx context.Context, variantID string, expectedVersion int64, event domain.Event) (int64, error) {
	newVersion, err := c.store.AppendIfVersion(ctx, variantID, expectedVersion, event)
	if err != nil {
		// При конфликте кэшированный снапшот устарел
		if errors.Is(err, ErrVersionConflict) {
			c.client.Del(ctx, c.key(variantID))
		}
		return 0, err
	}

	// Кэш инвалидируется, а не пересчитывается: следующий LoadLatest
	// перечитает авторитетный снапшот из store.
	c.client.Del(ctx, c.key(variantID))
	return newVersion, nil
}

// LoadHistory всегда читает store: история не кэшируется
func (c *CachedStore) LoadHistory(ctx context.Context, variantID string, fromVersion int64) ([]StoredEvent, error) {
	return c.store.LoadHistory(ctx, variantID, fromVersion)
}

// cache сохраняет снапшот в Redis, ошибки только логируются
func (c *CachedStore) cache(ctx context.Context, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(snap.VariantID), data, c.config.TTL).Err(); err != nil {
		c.log.Warn().Err(err).Str("variant_id", snap.VariantID).Msg("snapshot cache write failed")
	}
}
