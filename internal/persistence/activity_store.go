package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/risk"
)

const activityStoreSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS bot_activity (
    account_id INTEGER NOT NULL,
    type       TEXT NOT NULL,
    message    TEXT NOT NULL,
    payload    TEXT,
    occurred_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bot_activity_account ON bot_activity(account_id, occurred_at);

CREATE TABLE IF NOT EXISTS risk_watermark (
    account_id               INTEGER PRIMARY KEY,
    session_high_water_equity REAL NOT NULL,
    realized_pnl_today        REAL NOT NULL,
    cumulative_profit         REAL NOT NULL,
    peak_equity               REAL NOT NULL,
    last_reset_date           TEXT NOT NULL,
    updated_at                DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// activityBatchSize/activityFlushInterval bound how stale a crash can
// leave the activity ring and risk watermark: at most this many rows, or
// this long, unflushed. Generalized from the teacher's BatchWriter
// defaults since this table is append-mostly and low-value-per-row, same
// shape as the teacher's trade-tick write path it was built for.
const (
	activityBatchSize     = 50
	activityFlushInterval = 500 * time.Millisecond
)

// ActivityStore persists a bot's activity ring and risk watermark state to
// sqlite through a batching writer, so the dashboard's activity feed and
// the risk manager's daily counters survive a process restart. Grounded
// in the teacher's persistence.BatchWriter (buffered, transactional,
// interval-flushed writes) adapted from the teacher's trade/order write
// path to this domain's two durability targets named in spec.md §1.
type ActivityStore struct {
	db *sql.DB
	bw *BatchWriter
}

// NewActivityStore opens (and migrates) the sqlite database at path and
// starts its background batch writer.
func NewActivityStore(path string) (*ActivityStore, error) {
	if path == "" {
		return nil, errors.New("activity store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create activity db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(activityStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply activity store schema: %w", err)
	}

	return &ActivityStore{
		db: db,
		bw: NewBatchWriter(db, activityBatchSize, activityFlushInterval),
	}, nil
}

// RecordActivity queues one bot activity entry for durable storage.
// Satisfies bot.ActivitySink. Never blocks on disk I/O: the write lands
// in the batch writer's buffer and is flushed on the next tick or when
// the buffer fills.
func (s *ActivityStore) RecordActivity(accountID int64, a domain.BotActivity) {
	var payload []byte
	if len(a.Payload) > 0 {
		payload, _ = json.Marshal(a.Payload)
	}
	s.bw.WriteQuery(
		`INSERT INTO bot_activity (account_id, type, message, payload, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		accountID, string(a.Type), a.Message, string(payload), a.Timestamp,
	)
}

// LoadRecentActivity reads up to limit of an account's most recent
// activity entries, newest first, so a restarted bot's dashboard feed
// isn't empty until new activity accrues.
func (s *ActivityStore) LoadRecentActivity(accountID int64, limit int) ([]domain.BotActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT type, message, payload, occurred_at FROM bot_activity
		 WHERE account_id = ? ORDER BY occurred_at DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BotActivity
	for rows.Next() {
		var t, msg string
		var payload sql.NullString
		var occurred time.Time
		if err := rows.Scan(&t, &msg, &payload, &occurred); err != nil {
			return nil, err
		}
		a := domain.BotActivity{Type: domain.ActivityType(t), Message: msg, Timestamp: occurred}
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &a.Payload)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveWatermark queues an account's risk watermark for durable storage.
// Satisfies risk.WatermarkSink.
func (s *ActivityStore) SaveWatermark(accountID int64, w risk.Watermark) {
	s.bw.WriteQuery(
		`INSERT INTO risk_watermark (account_id, session_high_water_equity, realized_pnl_today, cumulative_profit, peak_equity, last_reset_date, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(account_id) DO UPDATE SET
		   session_high_water_equity = excluded.session_high_water_equity,
		   realized_pnl_today = excluded.realized_pnl_today,
		   cumulative_profit = excluded.cumulative_profit,
		   peak_equity = excluded.peak_equity,
		   last_reset_date = excluded.last_reset_date,
		   updated_at = CURRENT_TIMESTAMP`,
		accountID, w.SessionHighWaterEquity, w.RealizedPnLToday, w.CumulativeProfit, w.PeakEquity, w.LastResetDate,
	)
}

// LoadWatermark returns a previously persisted watermark for accountID,
// or ok=false if the account has never been flushed.
func (s *ActivityStore) LoadWatermark(accountID int64) (w risk.Watermark, ok bool, err error) {
	row := s.db.QueryRow(
		`SELECT session_high_water_equity, realized_pnl_today, cumulative_profit, peak_equity, last_reset_date
		 FROM risk_watermark WHERE account_id = ?`,
		accountID,
	)
	err = row.Scan(&w.SessionHighWaterEquity, &w.RealizedPnLToday, &w.CumulativeProfit, &w.PeakEquity, &w.LastResetDate)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.Watermark{}, false, nil
	}
	if err != nil {
		return risk.Watermark{}, false, err
	}
	return w, true, nil
}

// Close flushes any buffered writes and releases the underlying handle.
func (s *ActivityStore) Close() error {
	if s == nil {
		return nil
	}
	if s.bw != nil {
		s.bw.Close()
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
