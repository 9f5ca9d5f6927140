package pgattendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/AttendBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// EventFilter — все поля опциональны, кроме UserID.
type EventFilter struct {
	UserID   uint64
	OrderIDs []uint64

	StartDate string // inclusive, YYYY-MM-DD
	EndDate   string // inclusive
	Category  models.Category
	Period    string
}

// DownloadResult is the atomic outcome of a successful snapshot download:
// the rows and the success transition commit together or not at all.
type DownloadResult struct {
	OrderID uint64
	UserID  uint64

	Status      models.OrderStatus
	RawResponse json.RawMessage
	Events      []*models.AttendanceEvent
}

func (s *Storage) ListEvents(ctx context.Context, f EventFilter) ([]*models.AttendanceEvent, error) {
	q := `
SELECT
  id, user_id, order_id, date, year, month, day,
  raw_status, category, period, event_time, created_at
FROM attendance_events
WHERE user_id = $1`
	args := []any{f.UserID}

	if len(f.OrderIDs) > 0 {
		args = append(args, f.OrderIDs)
		q += fmt.Sprintf(" AND order_id = ANY($%d)", len(args))
	}
	if f.StartDate != "" {
		args = append(args, f.StartDate)
		q += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if f.EndDate != "" {
		args = append(args, f.EndDate)
		q += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		q += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.Period != "" {
		args = append(args, f.Period)
		q += fmt.Sprintf(" AND period = $%d", len(args))
	}
	q += " ORDER BY date DESC, id ASC"

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := []*models.AttendanceEvent{}
	for rows.Next() {
		var e models.AttendanceEvent
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.OrderID, &e.Date, &e.Year, &e.Month, &e.Day,
			&e.RawStatus, &e.Category, &e.Period, &e.Time, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountEventsByOrder(ctx context.Context, orderID uint64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM attendance_events WHERE order_id = $1`, orderID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count events")
	}
	return n, nil
}

// ApplyDownloadResult помечает заказ успешным и вставляет снапшот одной
// транзакцией. Guard по completed_at делает операцию идемпотентной: повторный
// вызов для уже скачанного заказа ничего не меняет.
func (s *Storage) ApplyDownloadResult(ctx context.Context, res DownloadResult) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw any
	if len(res.RawResponse) > 0 {
		var m any
		if json.Unmarshal(res.RawResponse, &m) == nil {
			raw = m
		}
	}

	tag, err := tx.Exec(ctx, `
UPDATE scrape_orders
SET status = $2, progress = 1, error = NULL, raw_response = $3, completed_at = $4
WHERE id = $1 AND completed_at IS NULL
`, res.OrderID, res.Status, raw, now)
	if err != nil {
		return errors.Wrap(err, "update order (complete)")
	}
	if tag.RowsAffected() == 0 {
		// уже скачан — строки на месте, вторая вставка продублировала бы их
		return nil
	}

	if err := insertEvents(ctx, tx, res.OrderID, res.UserID, now, res.Events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// ApplyImport creates an already-completed order holding manually imported
// rows, so imports and scrapes share one snapshot model.
func (s *Storage) ApplyImport(ctx context.Context, userID uint64, events []*models.AttendanceEvent) (*models.ScrapeOrder, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
INSERT INTO scrape_orders (user_id, source, tasks, status, progress, created_at, completed_at)
VALUES ($1,$2,$3,$4,1,$5,$5)
RETURNING `+orderColumns, userID, models.OrderSourceImport, []string{"attendance"}, models.OrderStatusComplete, now)

	order, err := scanOrder(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert import order")
	}

	if err := insertEvents(ctx, tx, order.ID, userID, now, events); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return order, nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, orderID, userID uint64, now time.Time, events []*models.AttendanceEvent) error {
	for _, e := range events {
		_, err := tx.Exec(ctx, `
INSERT INTO attendance_events (
  user_id, order_id, date, year, month, day,
  raw_status, category, period, event_time, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (order_id, date, COALESCE(period, ''), raw_status) DO NOTHING
`, userID, orderID, e.Date, e.Year, e.Month, e.Day,
			e.RawStatus, e.Category, e.Period, e.Time, now)
		if err != nil {
			return errors.Wrap(err, "insert attendance event")
		}
	}
	return nil
}
