package pgattendance

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS scrape_orders (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  scraper_uid TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT 'scrape',
  tasks JSONB NOT NULL DEFAULT '[]',
  status TEXT NOT NULL,
  progress DOUBLE PRECISION NOT NULL DEFAULT 0,
  error TEXT NULL,
  raw_response JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_orders_user_created ON scrape_orders(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_orders_user_completed ON scrape_orders(user_id, completed_at DESC) WHERE completed_at IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS attendance_events (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  order_id BIGINT NOT NULL REFERENCES scrape_orders(id) ON DELETE CASCADE,
  date TEXT NOT NULL,
  year INT NOT NULL,
  month INT NOT NULL,
  day INT NOT NULL,
  raw_status TEXT NOT NULL,
  category TEXT NOT NULL,
  period TEXT NULL,
  event_time TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		// Повторная вставка того же события в рамках заказа — no-op.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_events_dedup ON attendance_events(order_id, date, COALESCE(period, ''), raw_status)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_events_order_date ON attendance_events(order_id, date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_events_user_date ON attendance_events(user_id, date DESC)`,
		`
CREATE TABLE IF NOT EXISTS day_notes (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  date TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, date)
)`,
		`
CREATE TABLE IF NOT EXISTS user_credentials (
  user_id BIGINT PRIMARY KEY,
  scraper_username TEXT NOT NULL,
  password_encrypted TEXT NOT NULL,
  password_iv TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS user_settings (
  user_id BIGINT PRIMARY KEY,
  category_map JSONB NOT NULL DEFAULT '{}',
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
