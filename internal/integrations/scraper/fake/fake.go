package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/BearBump/AttendBox/internal/integrations/scraper"
)

// FakeClient — заглушка скрейпера для локальной разработки и тестов.
// Orders complete immediately; Download returns a canned attendance month
// encrypted with the password from the matching submit, so the whole
// pipeline (including decryption) works against it.
type FakeClient struct {
	mu     sync.Mutex
	seq    uint64
	orders map[string]fakeOrder
}

type fakeOrder struct {
	username string
	password string
	tasks    []string
}

func New() *FakeClient {
	return &FakeClient{orders: map[string]fakeOrder{}}
}

func (f *FakeClient) SubmitOrder(ctx context.Context, username, password string, tasks []string) (scraper.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	uid := fmt.Sprintf("fake-%08x-%d", h.Sum32(), f.seq)

	f.orders[uid] = fakeOrder{username: username, password: password, tasks: tasks}
	return scraper.OrderRef{UID: uid}, nil
}

func (f *FakeClient) GetStatus(ctx context.Context, uid string) (scraper.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.orders[uid]; !ok {
		return scraper.Status{}, scraper.ErrOrderUnknown
	}
	return scraper.Status{
		UID:      uid,
		Status:   "complete",
		Progress: 1,
		Subtasks: map[string]scraper.Subtask{
			"attendance": {Type: "attendance", Status: "complete", Progress: 1},
		},
	}, nil
}

func (f *FakeClient) Download(ctx context.Context, username, uid string) ([]byte, error) {
	f.mu.Lock()
	ord, ok := f.orders[uid]
	f.mu.Unlock()
	if !ok {
		return nil, scraper.ErrOrderUnknown
	}

	now := time.Now().UTC()
	month := now.Month().String()
	payload := map[string]any{
		"attendance": map[string]any{
			month: map[string]any{
				"month": month,
				"year":  now.Year(),
				"dates": map[string]string{
					"1": "1,Present",
					"2": "2,Tardy,8:45:00 AM",
					"3": "1,No Contact",
				},
			},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return scraper.EncryptOutput(ord.password, b)
}
