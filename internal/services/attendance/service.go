package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/BearBump/AttendBox/internal/aggregate"
	"github.com/BearBump/AttendBox/internal/broker/messages"
	"github.com/BearBump/AttendBox/internal/cache"
	"github.com/BearBump/AttendBox/internal/categories"
	"github.com/BearBump/AttendBox/internal/importer"
	"github.com/BearBump/AttendBox/internal/models"
	"github.com/BearBump/AttendBox/internal/storage/pgattendance"
	"github.com/pkg/errors"
)

var ErrNothingToImport = errors.New("no valid records to import")

var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type Repository interface {
	ListEvents(ctx context.Context, f pgattendance.EventFilter) ([]*models.AttendanceEvent, error)
	LatestCompletedOrder(ctx context.Context, userID uint64) (*models.ScrapeOrder, error)
	GetOrder(ctx context.Context, userID, orderID uint64) (*models.ScrapeOrder, error)
	ApplyImport(ctx context.Context, userID uint64, events []*models.AttendanceEvent) (*models.ScrapeOrder, error)
	GetCategoryMap(ctx context.Context, userID uint64) (map[string]models.Category, error)
	UpsertNote(ctx context.Context, userID uint64, date, content string) (*models.DayNote, error)
	DeleteNote(ctx context.Context, userID uint64, date string) error
	ListNotes(ctx context.Context, userID uint64, startDate, endDate string) ([]*models.DayNote, error)
}

// Service отвечает за чтение: выборка, merge нескольких заказов, статистика,
// diff, импорт и заметки. Записи в заказы делает orders.Service.
type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

// Filter — параметры query-records. Category фильтруется по resolved
// категории (после карты пользователя), остальное — по строкам БД.
type Filter struct {
	StartDate string
	EndDate   string
	Category  models.Category
	Period    string
	OrderIDs  []uint64
}

func (f Filter) isCurrentView() bool {
	return f.StartDate == "" && f.EndDate == "" && f.Category == "" &&
		f.Period == "" && len(f.OrderIDs) == 0
}

// Records возвращает нормализованные записи. Без явных orderIds берётся
// последний завершённый заказ; несколько заказов сливаются по (date, period),
// приоритет у более нового (раньше в списке).
func (s *Service) Records(ctx context.Context, userID uint64, f Filter) ([]models.NormalizedRecord, error) {
	current := f.isCurrentView()
	if current && s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(userID)); err == nil && ok {
			var out []models.NormalizedRecord
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}

	orderIDs := f.OrderIDs
	if len(orderIDs) == 0 {
		latest, err := s.repo.LatestCompletedOrder(ctx, userID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return []models.NormalizedRecord{}, nil
		}
		orderIDs = []uint64{latest.ID}
	}

	events, err := s.repo.ListEvents(ctx, pgattendance.EventFilter{
		UserID:    userID,
		OrderIDs:  orderIDs,
		StartDate: f.StartDate,
		EndDate:   f.EndDate,
		Period:    f.Period,
	})
	if err != nil {
		return nil, err
	}

	if len(orderIDs) > 1 {
		events = mergeByRecency(events, orderIDs)
	}

	userMap, err := s.repo.GetCategoryMap(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]models.NormalizedRecord, 0, len(events))
	for _, e := range events {
		rec := models.NormalizedRecord{
			AttendanceEvent: *e,
			Resolved:        categories.Resolve(e.RawStatus, userMap),
		}
		if f.Category != "" && rec.Resolved != f.Category {
			continue
		}
		out = append(out, rec)
	}

	if current && s.cache != nil && s.currentTTL > 0 {
		if b, err := json.Marshal(out); err == nil {
			_ = s.cache.Set(ctx, currentKey(userID), b, s.currentTTL)
		}
	}
	return out, nil
}

// mergeByRecency дедуплицирует события по (date, period): выигрывает заказ,
// стоящий раньше в orderIDs (там новее — первым).
func mergeByRecency(events []*models.AttendanceEvent, orderIDs []uint64) []*models.AttendanceEvent {
	rank := make(map[uint64]int, len(orderIDs))
	for i, id := range orderIDs {
		rank[id] = i
	}

	best := make(map[string]*models.AttendanceEvent)
	order := make([]string, 0, len(events))
	for _, e := range events {
		k := mergeKey(e.Date, e.Period)
		cur, ok := best[k]
		if !ok {
			best[k] = e
			order = append(order, k)
			continue
		}
		if rank[e.OrderID] < rank[cur.OrderID] {
			best[k] = e
		}
	}

	out := make([]*models.AttendanceEvent, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

func mergeKey(date string, period *string) string {
	p := ""
	if period != nil {
		p = *period
	}
	return date + "|" + p
}

type Stats struct {
	Summary  aggregate.Summary       `json:"summary"`
	Months   []aggregate.MonthBucket `json:"months"`
	Insights []string                `json:"insights"`
}

func (s *Service) Stats(ctx context.Context, userID uint64, f Filter) (Stats, error) {
	recs, err := s.Records(ctx, userID, f)
	if err != nil {
		return Stats{}, err
	}
	days := aggregate.GroupByDay(recs)
	return Stats{
		Summary:  aggregate.DaySummary(days),
		Months:   aggregate.MonthlyStats(days),
		Insights: aggregate.ComputeInsights(days),
	}, nil
}

type DiffChange struct {
	Date   string  `json:"date"`
	Period *string `json:"period"`
	From   string  `json:"from"`
	To     string  `json:"to"`
}

type Diff struct {
	Added   []*models.AttendanceEvent `json:"added"`
	Removed []*models.AttendanceEvent `json:"removed"`
	Changed []DiffChange              `json:"changed"`
}

// Compare diffs order b against order a, keyed by (date, period):
// added — только в b, removed — только в a, changed — rawStatus отличается.
func (s *Service) Compare(ctx context.Context, userID, a, b uint64) (Diff, error) {
	// оба заказа должны принадлежать пользователю
	if _, err := s.repo.GetOrder(ctx, userID, a); err != nil {
		return Diff{}, err
	}
	if _, err := s.repo.GetOrder(ctx, userID, b); err != nil {
		return Diff{}, err
	}

	evA, err := s.repo.ListEvents(ctx, pgattendance.EventFilter{UserID: userID, OrderIDs: []uint64{a}})
	if err != nil {
		return Diff{}, err
	}
	evB, err := s.repo.ListEvents(ctx, pgattendance.EventFilter{UserID: userID, OrderIDs: []uint64{b}})
	if err != nil {
		return Diff{}, err
	}

	byA := make(map[string]*models.AttendanceEvent, len(evA))
	for _, e := range evA {
		byA[mergeKey(e.Date, e.Period)] = e
	}

	diff := Diff{Added: []*models.AttendanceEvent{}, Removed: []*models.AttendanceEvent{}, Changed: []DiffChange{}}
	seen := make(map[string]struct{}, len(evB))
	for _, e := range evB {
		k := mergeKey(e.Date, e.Period)
		seen[k] = struct{}{}
		old, ok := byA[k]
		if !ok {
			diff.Added = append(diff.Added, e)
			continue
		}
		if old.RawStatus != e.RawStatus {
			diff.Changed = append(diff.Changed, DiffChange{Date: e.Date, Period: e.Period, From: old.RawStatus, To: e.RawStatus})
		}
	}
	for _, e := range evA {
		if _, ok := seen[mergeKey(e.Date, e.Period)]; !ok {
			diff.Removed = append(diff.Removed, e)
		}
	}
	return diff, nil
}

type ImportOutcome struct {
	Records    int                    `json:"records"`
	Duplicates int                    `json:"duplicates"`
	Dropped    []importer.DroppedItem `json:"dropped"`
	Warnings   []string               `json:"warnings"`
	Committed  bool                   `json:"committed"`
	OrderID    uint64                 `json:"orderId,omitempty"`
}

// Import разбирает payload и либо возвращает превью (с числом дублей против
// последнего завершённого заказа), либо коммитит строки как import-заказ.
func (s *Service) Import(ctx context.Context, userID uint64, raw json.RawMessage, confirm bool) (ImportOutcome, error) {
	res := importer.Parse(raw)

	out := ImportOutcome{
		Records:  len(res.Records),
		Dropped:  res.Dropped,
		Warnings: res.Warnings,
	}

	dups, err := s.countDuplicates(ctx, userID, res.Records)
	if err != nil {
		return ImportOutcome{}, err
	}
	out.Duplicates = dups

	if !confirm {
		return out, nil
	}
	if len(res.Records) == 0 {
		return ImportOutcome{}, ErrNothingToImport
	}

	events := make([]*models.AttendanceEvent, 0, len(res.Records))
	for _, r := range res.Records {
		events = append(events, &models.AttendanceEvent{
			UserID:    userID,
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

	order, err := s.repo.ApplyImport(ctx, userID, events)
	if err != nil {
		return ImportOutcome{}, err
	}
	s.Invalidate(ctx, userID)

	out.Committed = true
	out.OrderID = order.ID
	return out, nil
}

func (s *Service) countDuplicates(ctx context.Context, userID uint64, rows []importer.ParsedRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	latest, err := s.repo.LatestCompletedOrder(ctx, userID)
	if err != nil || latest == nil {
		return 0, err
	}
	existing, err := s.repo.ListEvents(ctx, pgattendance.EventFilter{UserID: userID, OrderIDs: []uint64{latest.ID}})
	if err != nil {
		return 0, err
	}
	keys := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		keys[mergeKey(e.Date, e.Period)] = struct{}{}
	}
	dups := 0
	for _, r := range rows {
		if _, ok := keys[mergeKey(r.Date, r.Period)]; ok {
			dups++
		}
	}
	return dups, nil
}

// Note upserts the day note; empty content deletes it (nil note returned).
func (s *Service) Note(ctx context.Context, userID uint64, date, content string) (*models.DayNote, error) {
	if !dateRe.MatchString(date) {
		return nil, ErrInvalidDate
	}
	if content == "" {
		return nil, s.repo.DeleteNote(ctx, userID, date)
	}
	return s.repo.UpsertNote(ctx, userID, date, content)
}

func (s *Service) Notes(ctx context.Context, userID uint64, startDate, endDate string) ([]*models.DayNote, error) {
	return s.repo.ListNotes(ctx, userID, startDate, endDate)
}

// ApplyOrderUpdated — обработчик сообщений order.updated из Kafka: любой
// переход заказа делает кэш текущего вида подозрительным.
func (s *Service) ApplyOrderUpdated(ctx context.Context, value []byte) error {
	var msg messages.OrderUpdated
	if err := json.Unmarshal(value, &msg); err != nil {
		return errors.Wrap(err, "unmarshal order.updated")
	}
	if msg.UserID == 0 {
		return errors.New("order.updated without user_id")
	}
	s.Invalidate(ctx, msg.UserID)
	return nil
}

func (s *Service) Invalidate(ctx context.Context, userID uint64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, currentKey(userID))
}

func currentKey(userID uint64) string {
	return fmt.Sprintf("attendance:%d:current", userID)
}
