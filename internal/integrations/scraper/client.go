package scraper

import (
	"context"

	"github.com/pkg/errors"
)

// ErrOrderUnknown: скрейпер не знает такой uid (HTTP 404 на /order/status).
var ErrOrderUnknown = errors.New("order not found on scraper")

// Статусы в ответах скрейпера — сырые строки; в models.OrderStatus их
// переводит контроллер заказа.
type OrderRef struct {
	UID string `json:"uid"`
}

type Subtask struct {
	Type     string  `json:"type"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    *string `json:"error"`
}

type Status struct {
	UID      string             `json:"uid"`
	Status   string             `json:"status"`
	Progress float64            `json:"progress"`
	Error    *string            `json:"error"`
	Subtasks map[string]Subtask `json:"subtasks"`
}

// Client talks to the external scraping service. No retries here: retry
// policy belongs to the caller.
type Client interface {
	SubmitOrder(ctx context.Context, username, password string, tasks []string) (OrderRef, error)
	GetStatus(ctx context.Context, uid string) (Status, error)
	Download(ctx context.Context, username, uid string) ([]byte, error)
}
