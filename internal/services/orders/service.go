package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/AttendBox/internal/broker/messages"
	"github.com/BearBump/AttendBox/internal/importer"
	"github.com/BearBump/AttendBox/internal/integrations/scraper"
	"github.com/BearBump/AttendBox/internal/models"
	"github.com/BearBump/AttendBox/internal/storage/pgattendance"
	"github.com/pkg/errors"
)

// ErrCredentialsNotSet: у пользователя нет сохранённой учётки скрейпера.
var ErrCredentialsNotSet = errors.New("scraper credentials not set")

// ErrDownloadInProgress is retryable: another request holds the per-order
// download lock right now.
var ErrDownloadInProgress = errors.New("download already in progress")

// ErrOrderNotReady: скрейпер ещё не довёл заказ до успешного статуса.
var ErrOrderNotReady = errors.New("order has no downloadable result yet")

type Repository interface {
	CreateOrder(ctx context.Context, o *models.ScrapeOrder) (*models.ScrapeOrder, error)
	GetOrder(ctx context.Context, userID, orderID uint64) (*models.ScrapeOrder, error)
	ListOrders(ctx context.Context, userID uint64) ([]*models.ScrapeOrder, error)
	DeleteOrder(ctx context.Context, userID, orderID uint64) error
	MarkOrderSubmitted(ctx context.Context, orderID uint64, scraperUID string) error
	UpdateOrderStatus(ctx context.Context, orderID uint64, status models.OrderStatus, progress float64, errMsg *string) error
	ApplyDownloadResult(ctx context.Context, res pgattendance.DownloadResult) error
	CountEventsByOrder(ctx context.Context, orderID uint64) (int, error)
	GetCredentials(ctx context.Context, userID uint64) (*pgattendance.UserCredentials, error)
}

// Decryptor opens the at-rest encrypted scraper password (credstore.Store).
type Decryptor interface {
	Decrypt(ciphertextHex, ivHex string) (string, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Service — контроллер жизненного цикла заказа. Единственное место, где
// заказ переходит в успешный статус, — ApplyDownloadResult внутри Download.
type Service struct {
	repo     Repository
	scraper  scraper.Client
	creds    Decryptor
	producer Producer
	locker   Locker

	topic   string
	lockTTL time.Duration
}

func New(repo Repository, sc scraper.Client, creds Decryptor, producer Producer, locker Locker, topic string, lockTTL time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Service{
		repo: repo, scraper: sc, creds: creds,
		producer: producer, locker: locker,
		topic: topic, lockTTL: lockTTL,
	}
}

type PollResult struct {
	Status   models.OrderStatus `json:"status"`
	Progress float64            `json:"progress"`
	Error    *string            `json:"error,omitempty"`
}

type DownloadOutcome struct {
	Status            models.OrderStatus     `json:"status"`
	Records           int                    `json:"records"`
	AlreadyDownloaded bool                   `json:"alreadyDownloaded"`
	Dropped           []importer.DroppedItem `json:"dropped,omitempty"`
	Warnings          []string               `json:"warnings,omitempty"`
}

// Submit регистрирует заказ и отправляет его скрейперу. Заказ создаётся
// до сабмита: неудачная отправка остаётся видимой как failed.
func (s *Service) Submit(ctx context.Context, userID uint64, tasks []string) (*models.ScrapeOrder, error) {
	if len(tasks) == 0 {
		tasks = []string{"attendance"}
	}
	for _, t := range tasks {
		if t == "" {
			return nil, errors.New("empty task name")
		}
	}

	username, password, err := s.scraperCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.CreateOrder(ctx, &models.ScrapeOrder{
		UserID: userID,
		Source: models.OrderSourceScrape,
		Tasks:  tasks,
		Status: models.OrderStatusPending,
	})
	if err != nil {
		return nil, err
	}

	ref, err := s.scraper.SubmitOrder(ctx, username, password, tasks)
	if err != nil {
		msg := err.Error()
		s.markStatus(ctx, order, models.OrderStatusFailed, 0, &msg)
		return nil, errors.Wrap(err, "submit order")
	}

	if err := s.repo.MarkOrderSubmitted(ctx, order.ID, ref.UID); err != nil {
		return nil, err
	}
	order.ScraperUID = ref.UID
	order.Status = models.OrderStatusProcessing
	s.notify(ctx, order, 0, nil)

	return order, nil
}

// Poll сверяет заказ со скрейпером. Успешный статус скрейпера здесь НЕ
// сохраняется: до скачивания заказ локально остаётся processing, caller
// видит отчётный статус и зовёт Download.
func (s *Service) Poll(ctx context.Context, userID, orderID uint64) (PollResult, error) {
	order, err := s.repo.GetOrder(ctx, userID, orderID)
	if err != nil {
		return PollResult{}, err
	}

	if order.Status.IsTerminal() {
		return PollResult{Status: order.Status, Progress: order.Progress, Error: order.Error}, nil
	}

	st, err := s.scraper.GetStatus(ctx, order.ScraperUID)
	if errors.Is(err, scraper.ErrOrderUnknown) {
		msg := "order unknown to scraper"
		s.markStatus(ctx, order, models.OrderStatusFailed, order.Progress, &msg)
		return PollResult{Status: models.OrderStatusFailed, Progress: order.Progress, Error: &msg}, nil
	}
	if err != nil {
		// transient: заказ не трогаем, caller может повторить
		return PollResult{}, errors.Wrap(err, "scraper status")
	}

	wire := models.OrderStatus(st.Status)
	if !models.IsKnownStatus(wire) {
		msg := fmt.Sprintf("unknown scraper status %q", st.Status)
		s.markStatus(ctx, order, models.OrderStatusFailed, st.Progress, &msg)
		return PollResult{Status: models.OrderStatusFailed, Progress: st.Progress, Error: &msg}, nil
	}

	switch {
	case wire.IsSuccess():
		// только прогресс; успешный переход сделает Download атомарно
		if err := s.repo.UpdateOrderStatus(ctx, order.ID, order.Status, st.Progress, order.Error); err != nil {
			return PollResult{}, err
		}
		return PollResult{Status: wire, Progress: st.Progress}, nil

	case wire.IsTerminal():
		s.markStatus(ctx, order, wire, st.Progress, st.Error)
		return PollResult{Status: wire, Progress: st.Progress, Error: st.Error}, nil

	default:
		if err := s.repo.UpdateOrderStatus(ctx, order.ID, wire, st.Progress, order.Error); err != nil {
			return PollResult{}, err
		}
		return PollResult{Status: wire, Progress: st.Progress}, nil
	}
}

// Download скачивает результат, расшифровывает и коммитит строки вместе с
// успешным переходом одной транзакцией. Идемпотентен по completedAt;
// одновременный первый download отсекается redis-локом.
func (s *Service) Download(ctx context.Context, userID, orderID uint64) (DownloadOutcome, error) {
	order, err := s.repo.GetOrder(ctx, userID, orderID)
	if err != nil {
		return DownloadOutcome{}, err
	}
	if order.CompletedAt != nil {
		return s.alreadyDownloaded(ctx, order)
	}

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, downloadLockKey(order.ID), s.lockTTL)
		if err != nil {
			return DownloadOutcome{}, err
		}
		if !ok {
			return DownloadOutcome{}, ErrDownloadInProgress
		}
		defer func() { _ = s.locker.Unlock(ctx, downloadLockKey(order.ID)) }()

		// перечитываем под локом: первый download мог успеть закоммититься
		order, err = s.repo.GetOrder(ctx, userID, orderID)
		if err != nil {
			return DownloadOutcome{}, err
		}
		if order.CompletedAt != nil {
			return s.alreadyDownloaded(ctx, order)
		}
	}

	st, err := s.scraper.GetStatus(ctx, order.ScraperUID)
	if errors.Is(err, scraper.ErrOrderUnknown) {
		msg := "order unknown to scraper"
		s.markStatus(ctx, order, models.OrderStatusFailed, order.Progress, &msg)
		return DownloadOutcome{}, errors.New(msg)
	}
	if err != nil {
		return DownloadOutcome{}, errors.Wrap(err, "scraper status")
	}
	wire := models.OrderStatus(st.Status)
	if !wire.IsSuccess() {
		if models.IsKnownStatus(wire) && wire.IsTerminal() {
			s.markStatus(ctx, order, wire, st.Progress, st.Error)
		}
		return DownloadOutcome{}, ErrOrderNotReady
	}

	username, password, err := s.scraperCredentials(ctx, userID)
	if err != nil {
		return DownloadOutcome{}, err
	}

	blob, err := s.scraper.Download(ctx, username, order.ScraperUID)
	if err != nil {
		// transient: статус не трогаем, download можно повторить
		return DownloadOutcome{}, errors.Wrap(err, "scraper download")
	}

	plain, err := scraper.DecryptOutput(password, blob)
	if err != nil {
		msg := "output decryption failed"
		s.markStatus(ctx, order, models.OrderStatusFailedAuth, st.Progress, &msg)
		return DownloadOutcome{}, errors.Wrap(err, "decrypt output")
	}

	parsed := importer.Parse(plain)
	events := make([]*models.AttendanceEvent, 0, len(parsed.Records))
	for _, r := range parsed.Records {
		events = append(events, &models.AttendanceEvent{
			UserID:    userID,
			OrderID:   order.ID,
			Date:      r.Date,
			Year:      r.Year,
			Month:     r.Month,
			Day:       r.Day,
			RawStatus: r.RawStatus,
			Category:  r.Category,
			Period:    r.Period,
			Time:      r.Time,
		})
	}

	if err := s.repo.ApplyDownloadResult(ctx, pgattendance.DownloadResult{
		OrderID:     order.ID,
		UserID:      userID,
		Status:      wire,
		RawResponse: plain,
		Events:      events,
	}); err != nil {
		// коммит не прошёл — заказ остаётся нетерминальным, retry допустим
		return DownloadOutcome{}, err
	}

	order.Status = wire
	s.notifyRecords(ctx, order, 1, len(events), nil)

	return DownloadOutcome{
		Status:   wire,
		Records:  len(events),
		Dropped:  parsed.Dropped,
		Warnings: parsed.Warnings,
	}, nil
}

func (s *Service) alreadyDownloaded(ctx context.Context, order *models.ScrapeOrder) (DownloadOutcome, error) {
	n, err := s.repo.CountEventsByOrder(ctx, order.ID)
	if err != nil {
		return DownloadOutcome{}, err
	}
	return DownloadOutcome{Status: order.Status, Records: n, AlreadyDownloaded: true}, nil
}

func (s *Service) ListOrders(ctx context.Context, userID uint64) ([]*models.ScrapeOrder, error) {
	return s.repo.ListOrders(ctx, userID)
}

func (s *Service) GetOrder(ctx context.Context, userID, orderID uint64) (*models.ScrapeOrder, int, error) {
	order, err := s.repo.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, 0, err
	}
	n, err := s.repo.CountEventsByOrder(ctx, orderID)
	if err != nil {
		return nil, 0, err
	}
	return order, n, nil
}

func (s *Service) DeleteOrder(ctx context.Context, userID, orderID uint64) error {
	if err := s.repo.DeleteOrder(ctx, userID, orderID); err != nil {
		return err
	}
	order := &models.ScrapeOrder{ID: orderID, UserID: userID, Status: models.OrderStatusCanceled}
	s.notify(ctx, order, 0, nil)
	return nil
}

func (s *Service) scraperCredentials(ctx context.Context, userID uint64) (username, password string, err error) {
	creds, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if creds == nil {
		return "", "", ErrCredentialsNotSet
	}
	password, err = s.creds.Decrypt(creds.PasswordEncrypted, creds.PasswordIV)
	if err != nil {
		return "", "", errors.Wrap(err, "decrypt stored password")
	}
	return creds.Username, password, nil
}

func (s *Service) markStatus(ctx context.Context, order *models.ScrapeOrder, status models.OrderStatus, progress float64, errMsg *string) {
	if err := s.repo.UpdateOrderStatus(ctx, order.ID, status, progress, errMsg); err != nil {
		slog.Error("update order status", "order_id", order.ID, "status", status, "error", err.Error())
		return
	}
	order.Status = status
	s.notify(ctx, order, progress, errMsg)
}

// notify публикует order.updated best-effort: БД — источник истины,
// сообщение только триггер для инвалидации кэшей.
func (s *Service) notify(ctx context.Context, order *models.ScrapeOrder, progress float64, errMsg *string) {
	s.notifyRecords(ctx, order, progress, 0, errMsg)
}

func (s *Service) notifyRecords(ctx context.Context, order *models.ScrapeOrder, progress float64, records int, errMsg *string) {
	if s.producer == nil || s.topic == "" {
		return
	}
	b, err := json.Marshal(messages.OrderUpdated{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Status:   string(order.Status),
		Progress: progress,
		Records:  records,
		Error:    errMsg,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return
	}
	key := []byte(fmt.Sprintf("%d", order.UserID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Warn("publish order.updated", "order_id", order.ID, "error", err.Error())
	}
}

func downloadLockKey(orderID uint64) string {
	return fmt.Sprintf("order:%d:download", orderID)
}
