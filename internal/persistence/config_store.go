package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const configStoreSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS bot_configs (
    account_id INTEGER PRIMARY KEY,
    config     TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ConfigStore persists accounts.Manager's AccountBotConfig set as opaque
// text blobs keyed by account_id (YAML from accounts.Manager.Add, raw JSON
// from the config-save endpoint), satisfying accounts.ConfigStore. Grounded on
// the teacher's pkg/db.New (single-writer sqlite open, WAL mode), adapted
// from the teacher's normalized strategy/order/trade schema to a single
// key/blob table since bot config is operator-authored and read back
// whole, never queried by field.
type ConfigStore struct {
	db *sql.DB
}

// NewConfigStore opens (and migrates) the sqlite database at path.
func NewConfigStore(path string) (*ConfigStore, error) {
	if path == "" {
		return nil, errors.New("config store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(configStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply config store schema: %w", err)
	}

	return &ConfigStore{db: db}, nil
}

// SaveConfig upserts one account's config blob.
func (s *ConfigStore) SaveConfig(accountID int64, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO bot_configs (account_id, config, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(account_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		accountID, string(data),
	)
	return err
}

// LoadAllConfigs reads every persisted config blob, keyed by account_id.
func (s *ConfigStore) LoadAllConfigs() (map[int64][]byte, error) {
	rows, err := s.db.Query(`SELECT account_id, config FROM bot_configs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]byte)
	for rows.Next() {
		var id int64
		var blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out[id] = []byte(blob)
	}
	return out, rows.Err()
}

// Close releases the underlying handle.
func (s *ConfigStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
