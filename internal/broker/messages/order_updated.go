package messages

import "time"

// OrderUpdated публикуется контроллером заказа на каждом сохранённом
// переходе статуса. Consumers invalidate cached views and drive
// notifications; the message is advisory, the database is the truth.
type OrderUpdated struct {
	OrderID uint64    `json:"order_id"`
	UserID  uint64    `json:"user_id"`
	Status  string    `json:"status"`
	Progress float64  `json:"progress,omitempty"`
	Records int       `json:"records,omitempty"`
	Error   *string   `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
