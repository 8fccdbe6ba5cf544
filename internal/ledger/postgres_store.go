package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/stockledger/internal/domain"
)

// Код unique_violation PostgreSQL: страховка на случай гонки,
// не пойманной блокировкой строки снапшота.
const pgUniqueViolation = "23505"

// PostgresStoreConfig конфигурация для PostgreSQL ledger store
type PostgresStoreConfig struct {
	DSN             string
	SchemaName      string
	MaxConns        int
	ConnMaxLifetime time.Duration
}

// Validate проверяет корректность конфигурации
func (c *PostgresStoreConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.SchemaName == "" {
		c.SchemaName = "public"
	}
	return nil
}

// DefaultPostgresStoreConfig возвращает конфигурацию по умолчанию
func DefaultPostgresStoreConfig() PostgresStoreConfig {
	return PostgresStoreConfig{
		SchemaName:      "public",
		MaxConns:        25,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresStore реализация Store для PostgreSQL.
// Условный append реализован транзакцией: SELECT ... FOR UPDATE строки
// снапшота, сравнение версии, INSERT события, UPDATE снапшота.
type PostgresStore struct {
	config PostgresStoreConfig
	pool   *pgxpool.Pool
}

// NewPostgresStore создает новый PostgreSQL ledger store
func NewPostgresStore(ctx context.Context, config PostgresStoreConfig) (*PostgresStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresStore{config: config, pool: pool}, nil
}

// Close закрывает пул соединений
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LoadLatest возвращает снапшот агрегата варианта
func (s *PostgresStore) LoadLatest(ctx context.Context, variantID string) (Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT stock_id, variant_id, quantity, version, updated_at
		FROM %s.stock_snapshots
		WHERE variant_id = $1
	`, s.config.SchemaName)

	var snap Snapshot
	err := s.pool.QueryRow(ctx, query, variantID).Scan(
		&snap.StockID,
		&snap.VariantID,
		&snap.Quantity,
		&snap.Version,
		&snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snap, nil
}

// AppendIfVersion добавляет событие с проверкой версии для оптимистичной конкурентности
func (s *PostgresStore) AppendIfVersion(ctx context.Context, variantID string, expectedVersion int64, event domain.Event) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := fmt.Sprintf(`
		SELECT stock_id, quantity, version
		FROM %s.stock_snapshots
		WHERE variant_id = $1
		FOR UPDATE
	`, s.config.SchemaName)

	var stockID string
	var quantity int
	var version int64
	err = tx.QueryRow(ctx, lockQuery, variantID).Scan(&stockID, &quantity, &version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedVersion != 0 {
			return 0, ErrNotFound
		}
		created, ok := event.(*domain.StockCreated)
		if !ok {
			return 0, fmt.Errorf("stream for variant %s does not exist: first event must be %s", variantID, domain.EventTypeStockCreated)
		}
		stockID = created.Stock
		quantity = 0
	case err != nil:
		return 0, fmt.Errorf("failed to lock snapshot: %w", err)
	case expectedVersion == 0:
		return 0, ErrAlreadyExists
	case version != expectedVersion:
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrVersionConflict, expectedVersion, version)
	}

	newQuantity, err := domain.ApplyToQuantity(quantity, event)
	if err != nil {
		return 0, err
	}
	newVersion := expectedVersion + 1

	eventData, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s.stock_events (event_id, stock_id, variant_id, event_type, event_data, version, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.config.SchemaName)

	if _, err := tx.Exec(ctx, insertQuery,
		event.EventID(),
		stockID,
		variantID,
		event.EventType(),
		eventData,
		newVersion,
		event.OccurredAt(),
	); err != nil {
		return 0, translatePgError(err, expectedVersion)
	}

	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s.stock_snapshots (variant_id, stock_id, quantity, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (variant_id)
		DO UPDATE SET quantity = $3, version = $4, updated_at = $5
	`, s.config.SchemaName)

	if _, err := tx.Exec(ctx, upsertQuery, variantID, stockID, newQuantity, newVersion, time.Now().UTC()); err != nil {
		return 0, translatePgError(err, expectedVersion)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit append: %w", err)
	}
	return newVersion, nil
}

// LoadHistory возвращает события агрегата начиная с указанной версии
func (s *PostgresStore) LoadHistory(ctx context.Context, variantID string, fromVersion int64) ([]StoredEvent, error) {
	query := fmt.Sprintf(`
		SELECT event_id, stock_id, variant_id, event_type, event_data, version, position, occurred_at, created_at
		FROM %s.stock_events
		WHERE variant_id = $1 AND version >= $2
		ORDER BY version ASC
	`, s.config.SchemaName)

	rows, err := s.pool.Query(ctx, query, variantID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []StoredEvent
	for rows.Next() {
		var stored StoredEvent
		var eventData []byte

		if err := rows.Scan(
			&stored.ID,
			&stored.StockID,
			&stored.VariantID,
			&stored.EventType,
			&eventData,
			&stored.Version,
			&stored.Position,
			&stored.OccurredAt,
			&stored.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event, err := domain.DeserializeEvent(stored.EventType, eventData)
		if err != nil {
			return nil, err
		}
		stored.EventData = event
		result = append(result, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	// Пустой результат: либо потока нет (ErrNotFound по снапшоту),
	// либо fromVersion за концом истории - тогда пустая история
	if len(result) == 0 {
		if _, err := s.LoadLatest(ctx, variantID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return result, nil
}

// translatePgError переводит нарушение уникальности в доменную ошибку конфликта
func translatePgError(err error, expectedVersion int64) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if expectedVersion == 0 {
			return ErrAlreadyExists
		}
		return fmt.Errorf("%w: concurrent append detected", ErrVersionConflict)
	}
	return fmt.Errorf("failed to append event: %w", err)
}
