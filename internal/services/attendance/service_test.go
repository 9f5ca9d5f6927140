package attendance

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/AttendBox/internal/models"
	"github.com/BearBump/AttendBox/internal/storage/pgattendance"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu        sync.Mutex
	nextID    uint64
	orders    map[uint64]*models.ScrapeOrder
	events    map[uint64][]*models.AttendanceEvent
	notes     map[string]*models.DayNote
	catMap    map[string]models.Category
	listCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders: map[uint64]*models.ScrapeOrder{},
		events: map[uint64][]*models.AttendanceEvent{},
		notes:  map[string]*models.DayNote{},
		catMap: map[string]models.Category{},
	}
}

func (r *fakeRepo) addCompletedOrder(userID uint64, completedAt time.Time, events ...*models.AttendanceEvent) *models.ScrapeOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o := &models.ScrapeOrder{
		ID: r.nextID, UserID: userID, Source: models.OrderSourceScrape,
		Status: models.OrderStatusComplete, Progress: 1,
		CreatedAt: completedAt, CompletedAt: &completedAt,
	}
	r.orders[o.ID] = o
	for _, e := range events {
		e.UserID = userID
		e.OrderID = o.ID
	}
	r.events[o.ID] = events
	return o
}

func (r *fakeRepo) ListEvents(ctx context.Context, f pgattendance.EventFilter) ([]*models.AttendanceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []*models.AttendanceEvent
	for _, id := range f.OrderIDs {
		for _, e := range r.events[id] {
			if e.UserID != f.UserID {
				continue
			}
			if f.StartDate != "" && e.Date < f.StartDate {
				continue
			}
			if f.EndDate != "" && e.Date > f.EndDate {
				continue
			}
			if f.Period != "" && (e.Period == nil || *e.Period != f.Period) {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) LatestCompletedOrder(ctx context.Context, userID uint64) (*models.ScrapeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.ScrapeOrder
	for _, o := range r.orders {
		if o.UserID != userID || o.CompletedAt == nil {
			continue
		}
		if latest == nil || o.CompletedAt.After(*latest.CompletedAt) {
			latest = o
		}
	}
	return latest, nil
}

func (r *fakeRepo) GetOrder(ctx context.Context, userID, orderID uint64) (*models.ScrapeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, pgattendance.ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeRepo) ApplyImport(ctx context.Context, userID uint64, events []*models.AttendanceEvent) (*models.ScrapeOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now().UTC()
	o := &models.ScrapeOrder{
		ID: r.nextID, UserID: userID, Source: models.OrderSourceImport,
		Status: models.OrderStatusComplete, Progress: 1,
		CreatedAt: now, CompletedAt: &now,
	}
	r.orders[o.ID] = o
	for _, e := range events {
		e.OrderID = o.ID
	}
	r.events[o.ID] = events
	return o, nil
}

func (r *fakeRepo) GetCategoryMap(ctx context.Context, userID uint64) (map[string]models.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catMap, nil
}

func (r *fakeRepo) UpsertNote(ctx context.Context, userID uint64, date, content string) (*models.DayNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &models.DayNote{UserID: userID, Date: date, Content: content}
	r.notes[date] = n
	return n, nil
}

func (r *fakeRepo) DeleteNote(ctx context.Context, userID uint64, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notes, date)
	return nil
}

func (r *fakeRepo) ListNotes(ctx context.Context, userID uint64, startDate, endDate string) ([]*models.DayNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DayNote
	for _, n := range r.notes {
		out = append(out, n)
	}
	return out, nil
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{m: map[string][]byte{}} }

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	return b, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *mapCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func strp(s string) *string { return &s }

func ev(date, period, raw string, cat models.Category) *models.AttendanceEvent {
	var p *string
	if period != "" {
		p = strp(period)
	}
	return &models.AttendanceEvent{Date: date, RawStatus: raw, Category: cat, Period: p}
}

func TestRecords_DefaultsToLatestCompletedOrder(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	repo.addCompletedOrder(1, base, ev("2026-01-05", "1", "1,Present", models.CategoryPresent))
	repo.addCompletedOrder(1, base.Add(time.Hour),
		ev("2026-01-06", "1", "1,Tardy", models.CategoryTardy))

	svc := New(repo, nil, 0)
	recs, err := svc.Records(context.Background(), 1, Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "2026-01-06", recs[0].Date)
	require.Equal(t, models.CategoryTardy, recs[0].Resolved)
}

func TestRecords_NoCompletedOrders(t *testing.T) {
	svc := New(newFakeRepo(), nil, 0)
	recs, err := svc.Records(context.Background(), 1, Filter{})
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestRecords_MergePrefersEarlierOrderInList(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	old := repo.addCompletedOrder(1, base,
		ev("2026-01-05", "1", "1,Absent", models.CategoryAbsent),
		ev("2026-01-04", "2", "2,Present", models.CategoryPresent))
	fresh := repo.addCompletedOrder(1, base.Add(time.Hour),
		ev("2026-01-05", "1", "1,Excused", models.CategoryExcused))

	svc := New(repo, nil, 0)
	// newest first: его версия 2026-01-05 периода 1 выигрывает
	recs, err := svc.Records(context.Background(), 1, Filter{OrderIDs: []uint64{fresh.ID, old.ID}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "2026-01-05", recs[0].Date)
	require.Equal(t, "1,Excused", recs[0].RawStatus)
	require.Equal(t, "2026-01-04", recs[1].Date)
}

func TestRecords_CategoryFilterUsesUserOverrides(t *testing.T) {
	repo := newFakeRepo()
	repo.catMap = map[string]models.Category{"no contact": models.CategoryOther}
	repo.addCompletedOrder(1, time.Now().UTC(),
		ev("2026-01-05", "1", "1,No Contact", models.CategoryAbsent),
		ev("2026-01-05", "2", "2,Present", models.CategoryPresent))

	svc := New(repo, nil, 0)
	recs, err := svc.Records(context.Background(), 1, Filter{Category: models.CategoryOther})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "1,No Contact", recs[0].RawStatus)
	require.Equal(t, models.CategoryOther, recs[0].Resolved)
}

func TestRecords_CurrentViewCached(t *testing.T) {
	repo := newFakeRepo()
	repo.addCompletedOrder(1, time.Now().UTC(), ev("2026-01-05", "1", "1,Present", models.CategoryPresent))

	c := newMapCache()
	svc := New(repo, c, time.Minute)

	_, err := svc.Records(context.Background(), 1, Filter{})
	require.NoError(t, err)
	calls := repo.listCalls

	recs, err := svc.Records(context.Background(), 1, Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, calls, repo.listCalls) // из кэша

	// инвалидация через order.updated
	msg, _ := json.Marshal(map[string]any{"order_id": 9, "user_id": 1, "status": "complete", "at": time.Now().UTC()})
	require.NoError(t, svc.ApplyOrderUpdated(context.Background(), msg))

	_, err = svc.Records(context.Background(), 1, Filter{})
	require.NoError(t, err)
	require.Greater(t, repo.listCalls, calls)
}

func TestRecords_FilteredViewNotCached(t *testing.T) {
	repo := newFakeRepo()
	repo.addCompletedOrder(1, time.Now().UTC(), ev("2026-01-05", "1", "1,Present", models.CategoryPresent))

	c := newMapCache()
	svc := New(repo, c, time.Minute)

	_, err := svc.Records(context.Background(), 1, Filter{StartDate: "2026-01-01"})
	require.NoError(t, err)
	require.Empty(t, c.m)
}

func TestStats(t *testing.T) {
	repo := newFakeRepo()
	repo.addCompletedOrder(1, time.Now().UTC(),
		ev("2026-01-05", "1", "1,Present", models.CategoryPresent),
		ev("2026-01-05", "2", "2,Unexcused", models.CategoryAbsent),
		ev("2026-01-06", "1", "1,Present", models.CategoryPresent))

	svc := New(repo, nil, 0)
	st, err := svc.Stats(context.Background(), 1, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, st.Summary.Total) // дни, не события
	require.Equal(t, 1, st.Summary.Absent)
	require.Equal(t, 1, st.Summary.Present)
	require.Len(t, st.Months, 1)
	require.Equal(t, 2026, st.Months[0].Year)
}

func TestCompare(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	a := repo.addCompletedOrder(1, base,
		ev("2026-01-05", "1", "1,Absent", models.CategoryAbsent),
		ev("2026-01-04", "1", "1,Present", models.CategoryPresent))
	b := repo.addCompletedOrder(1, base.Add(time.Hour),
		ev("2026-01-05", "1", "1,Excused", models.CategoryExcused),
		ev("2026-01-06", "1", "1,Present", models.CategoryPresent))

	svc := New(repo, nil, 0)
	diff, err := svc.Compare(context.Background(), 1, a.ID, b.ID)
	require.NoError(t, err)

	require.Len(t, diff.Added, 1)
	require.Equal(t, "2026-01-06", diff.Added[0].Date)
	require.Len(t, diff.Removed, 1)
	require.Equal(t, "2026-01-04", diff.Removed[0].Date)
	require.Len(t, diff.Changed, 1)
	require.Equal(t, "1,Absent", diff.Changed[0].From)
	require.Equal(t, "1,Excused", diff.Changed[0].To)
}

func TestCompare_ForeignOrderInvisible(t *testing.T) {
	repo := newFakeRepo()
	a := repo.addCompletedOrder(1, time.Now().UTC())
	b := repo.addCompletedOrder(2, time.Now().UTC())

	svc := New(repo, nil, 0)
	_, err := svc.Compare(context.Background(), 1, a.ID, b.ID)
	require.ErrorIs(t, err, pgattendance.ErrOrderNotFound)
}

const importPayload = `{
	"January": {
		"month": "January", "year": 2026,
		"dates": {"5": "1,Present|2,Tardy,8:45:00 AM", "6": "1,Unexcused"}
	}
}`

func TestImport_PreviewCountsDuplicates(t *testing.T) {
	repo := newFakeRepo()
	repo.addCompletedOrder(1, time.Now().UTC(),
		ev("2026-01-05", "1", "1,Present", models.CategoryPresent))

	svc := New(repo, nil, 0)
	out, err := svc.Import(context.Background(), 1, json.RawMessage(importPayload), false)
	require.NoError(t, err)
	require.Equal(t, 3, out.Records)
	require.Equal(t, 1, out.Duplicates) // (2026-01-05, period 1)
	require.False(t, out.Committed)
	require.Zero(t, out.OrderID)
}

func TestImport_ConfirmCommitsAndInvalidates(t *testing.T) {
	repo := newFakeRepo()
	c := newMapCache()
	c.m["attendance:1:current"] = []byte("[]")

	svc := New(repo, c, time.Minute)
	out, err := svc.Import(context.Background(), 1, json.RawMessage(importPayload), true)
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.NotZero(t, out.OrderID)
	require.Equal(t, 3, out.Records)
	require.NotContains(t, c.m, "attendance:1:current")

	recs, err := svc.Records(context.Background(), 1, Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
}

func TestImport_ConfirmWithNothingParsed(t *testing.T) {
	svc := New(newFakeRepo(), nil, 0)
	_, err := svc.Import(context.Background(), 1, json.RawMessage(`{"weird": 1}`), true)
	require.ErrorIs(t, err, ErrNothingToImport)
}

func TestNote_UpsertAndDelete(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil, 0)

	n, err := svc.Note(context.Background(), 1, "2026-01-05", "left early")
	require.NoError(t, err)
	require.Equal(t, "left early", n.Content)

	// пустой контент удаляет заметку
	n, err = svc.Note(context.Background(), 1, "2026-01-05", "")
	require.NoError(t, err)
	require.Nil(t, n)
	require.Empty(t, repo.notes)

	_, err = svc.Note(context.Background(), 1, "01/05/2026", "bad date")
	require.Error(t, err)
}
