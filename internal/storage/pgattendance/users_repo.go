package pgattendance

import (
	"context"
	"time"

	"github.com/BearBump/AttendBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UserCredentials — учётка внешнего скрейпера. Пароль хранится только
// в зашифрованном виде (ciphertext + iv, hex).
type UserCredentials struct {
	UserID            uint64
	Username          string
	PasswordEncrypted string
	PasswordIV        string
	UpdatedAt         time.Time
}

// GetCredentials returns nil when the user never stored credentials.
func (s *Storage) GetCredentials(ctx context.Context, userID uint64) (*UserCredentials, error) {
	var c UserCredentials
	err := s.db.QueryRow(ctx, `
SELECT user_id, scraper_username, password_encrypted, password_iv, updated_at
FROM user_credentials
WHERE user_id = $1
`, userID).Scan(&c.UserID, &c.Username, &c.PasswordEncrypted, &c.PasswordIV, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select credentials")
	}
	return &c, nil
}

// PutCredentials upserts the scraper login. The pipeline itself only reads
// credentials; writes come from the account-settings layer in front of it.
func (s *Storage) PutCredentials(ctx context.Context, c UserCredentials) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO user_credentials (user_id, scraper_username, password_encrypted, password_iv, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id)
DO UPDATE SET
  scraper_username = EXCLUDED.scraper_username,
  password_encrypted = EXCLUDED.password_encrypted,
  password_iv = EXCLUDED.password_iv,
  updated_at = EXCLUDED.updated_at
`, c.UserID, c.Username, c.PasswordEncrypted, c.PasswordIV, time.Now().UTC())
	return errors.Wrap(err, "upsert credentials")
}

// GetCategoryMap returns the user's code->category overrides; empty map when
// the user has no settings row.
func (s *Storage) GetCategoryMap(ctx context.Context, userID uint64) (map[string]models.Category, error) {
	m := map[string]models.Category{}
	err := s.db.QueryRow(ctx, `SELECT category_map FROM user_settings WHERE user_id = $1`, userID).Scan(&m)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]models.Category{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select category map")
	}
	return m, nil
}

// PutCategoryMap upserts the user's overrides. Like PutCredentials, the
// write belongs to the settings layer; reads happen on every normalization.
func (s *Storage) PutCategoryMap(ctx context.Context, userID uint64, m map[string]models.Category) error {
	if m == nil {
		m = map[string]models.Category{}
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO user_settings (user_id, category_map, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id)
DO UPDATE SET category_map = EXCLUDED.category_map, updated_at = EXCLUDED.updated_at
`, userID, m, time.Now().UTC())
	return errors.Wrap(err, "upsert category map")
}
