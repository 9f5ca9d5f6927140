package pgattendance

import (
	"context"
	"time"

	"github.com/BearBump/AttendBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrOrderNotFound = errors.New("order not found")

const orderColumns = `
  id, user_id, scraper_uid, source, tasks,
  status, progress, error,
  raw_response IS NOT NULL,
  created_at, completed_at`

func scanOrder(row pgx.Row) (*models.ScrapeOrder, error) {
	var o models.ScrapeOrder
	if err := row.Scan(
		&o.ID, &o.UserID, &o.ScraperUID, &o.Source, &o.Tasks,
		&o.Status, &o.Progress, &o.Error,
		&o.RawResponsePersisted,
		&o.CreatedAt, &o.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, o *models.ScrapeOrder) (*models.ScrapeOrder, error) {
	now := time.Now().UTC()

	if o.Tasks == nil {
		o.Tasks = []string{}
	}
	row := s.db.QueryRow(ctx, `
INSERT INTO scrape_orders (user_id, scraper_uid, source, tasks, status, progress, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+orderColumns, o.UserID, o.ScraperUID, o.Source, o.Tasks, o.Status, o.Progress, o.Error, now)

	created, err := scanOrder(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return created, nil
}

// GetOrder смотрит только в заказы владельца: чужой id неотличим от
// несуществующего.
func (s *Storage) GetOrder(ctx context.Context, userID, orderID uint64) (*models.ScrapeOrder, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+orderColumns+`
FROM scrape_orders
WHERE id = $1 AND user_id = $2
`, orderID, userID)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

func (s *Storage) ListOrders(ctx context.Context, userID uint64) ([]*models.ScrapeOrder, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM scrape_orders
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := []*models.ScrapeOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// DeleteOrder удаляет заказ вместе со снапшотом (ON DELETE CASCADE).
func (s *Storage) DeleteOrder(ctx context.Context, userID, orderID uint64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scrape_orders WHERE id = $1 AND user_id = $2`, orderID, userID)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkOrderSubmitted records the scraper-side uid and moves the order to
// processing after a successful submit.
func (s *Storage) MarkOrderSubmitted(ctx context.Context, orderID uint64, scraperUID string) error {
	_, err := s.db.Exec(ctx, `
UPDATE scrape_orders
SET scraper_uid = $2, status = $3
WHERE id = $1
`, orderID, scraperUID, models.OrderStatusProcessing)
	return errors.Wrap(err, "mark order submitted")
}

// UpdateOrderStatus persists a lifecycle transition. completed_at is not
// touched here: it marks a successfully downloaded snapshot and is set only
// by ApplyDownloadResult / ApplyImport.
func (s *Storage) UpdateOrderStatus(ctx context.Context, orderID uint64, status models.OrderStatus, progress float64, errMsg *string) error {
	_, err := s.db.Exec(ctx, `
UPDATE scrape_orders
SET status = $2, progress = $3, error = $4
WHERE id = $1
`, orderID, status, progress, errMsg)
	return errors.Wrap(err, "update order status")
}

// LatestCompletedOrder returns the newest order with a downloaded snapshot,
// or nil when the user has none.
func (s *Storage) LatestCompletedOrder(ctx context.Context, userID uint64) (*models.ScrapeOrder, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+orderColumns+`
FROM scrape_orders
WHERE user_id = $1 AND completed_at IS NOT NULL
ORDER BY completed_at DESC, id DESC
LIMIT 1
`, userID)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest completed order")
	}
	return o, nil
}
