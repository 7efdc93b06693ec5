package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"stl-viewer/models"
	"stl-viewer/utils"
)

// PostgresStore persists the dataset blob in a single-row table.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use PostgresStore.
func NewPostgresStore(dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: 10, BaseDelay: 2 * time.Second, Logger: logger}
	if err := retry.Do("postgres-ping", db.Ping); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	ps := &PostgresStore{db: db, logger: logger}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (s *PostgresStore) migrate() error {
	// Exactly one row: only the most recent dataset is retained.
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS dataset (
			id         INT PRIMARY KEY CHECK (id = 1),
			blob       JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Load returns the last persisted dataset. A missing row or a blob that
// fails to parse is treated as "no data", logged, and never raised.
func (s *PostgresStore) Load() (models.Dataset, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT blob FROM dataset WHERE id = 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return models.Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load: %w", err)
	}

	var ds models.Dataset
	if err := json.Unmarshal(blob, &ds); err != nil {
		s.logger.Warn("[store] Persisted dataset is corrupt, treating as empty: %v", err)
		return models.Dataset{}, nil
	}
	if ds == nil {
		ds = models.Dataset{}
	}
	return ds, nil
}

// Replace serializes and persists the dataset, fully overwriting prior content.
func (s *PostgresStore) Replace(ds models.Dataset) error {
	blob, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("postgres: marshal dataset: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO dataset (id, blob, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET blob = EXCLUDED.blob, updated_at = NOW()
	`, blob)
	if err != nil {
		return fmt.Errorf("postgres: replace: %w", err)
	}
	return nil
}

// Clear is equivalent to Replace with an empty dataset.
func (s *PostgresStore) Clear() error {
	return s.Replace(models.Dataset{})
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
