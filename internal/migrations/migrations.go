// Package migrations предоставляет обертку над goose для управления
// схемой базы данных stock ledger.
package migrations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
)

// Status представляет статус миграции
type Status struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	State     string // "pending", "applied"
}

// SetDialect устанавливает диалект БД.
// Если dialect пустой, устанавливается значение по умолчанию "postgres".
func SetDialect(dialect string) error {
	if dialect == "" {
		dialect = "postgres"
	}
	return goose.SetDialect(dialect)
}

// Up применяет все pending миграции из указанной директории
func Up(db *sql.DB, dir string) error {
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Down откатывает последнюю миграцию
func Down(db *sql.DB, dir string) error {
	if err := goose.Down(db, dir); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// DownTo откатывает миграции до указанной версии
func DownTo(db *sql.DB, dir string, version int64) error {
	if err := goose.DownTo(db, dir, version); err != nil {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// Version возвращает текущую версию БД
func Version(db *sql.DB) (int64, error) {
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// GetStatus возвращает статус всех миграций
func GetStatus(db *sql.DB, dir string) ([]Status, error) {
	collected, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to collect migrations: %w", err)
	}

	currentVersion, err := goose.GetDBVersion(db)
	if err != nil {
		// Таблица версий еще не создана, все миграции pending
		currentVersion = 0
	}

	var statuses []Status
	for _, migration := range collected {
		status := Status{
			Version: migration.Version,
			Name:    migration.Source,
			State:   "pending",
		}

		if migration.Version <= currentVersion {
			var appliedAt time.Time
			err := db.QueryRow(
				"SELECT tstamp FROM goose_db_version WHERE version_id = $1 AND is_applied = true ORDER BY tstamp DESC LIMIT 1",
				migration.Version,
			).Scan(&appliedAt)
			if err == nil {
				status.AppliedAt = &appliedAt
				status.State = "applied"
			}
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}
