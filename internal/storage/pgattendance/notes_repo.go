package pgattendance

import (
	"context"
	"time"

	"github.com/BearBump/AttendBox/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) UpsertNote(ctx context.Context, userID uint64, date, content string) (*models.DayNote, error) {
	now := time.Now().UTC()

	var n models.DayNote
	err := s.db.QueryRow(ctx, `
INSERT INTO day_notes (user_id, date, content, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4)
ON CONFLICT (user_id, date)
DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
RETURNING id, user_id, date, content, created_at, updated_at
`, userID, date, content, now).Scan(&n.ID, &n.UserID, &n.Date, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "upsert note")
	}
	return &n, nil
}

// DeleteNote is a no-op for an absent note: clearing an empty day is fine.
func (s *Storage) DeleteNote(ctx context.Context, userID uint64, date string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM day_notes WHERE user_id = $1 AND date = $2`, userID, date)
	return errors.Wrap(err, "delete note")
}

func (s *Storage) ListNotes(ctx context.Context, userID uint64, startDate, endDate string) ([]*models.DayNote, error) {
	q := `
SELECT id, user_id, date, content, created_at, updated_at
FROM day_notes
WHERE user_id = $1`
	args := []any{userID}
	if startDate != "" {
		args = append(args, startDate)
		q += ` AND date >= $2`
	}
	if endDate != "" {
		args = append(args, endDate)
		if len(args) == 3 {
			q += ` AND date <= $3`
		} else {
			q += ` AND date <= $2`
		}
	}
	q += ` ORDER BY date DESC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select notes")
	}
	defer rows.Close()

	out := []*models.DayNote{}
	for rows.Next() {
		var n models.DayNote
		if err := rows.Scan(&n.ID, &n.UserID, &n.Date, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan note")
		}
		out = append(out, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
