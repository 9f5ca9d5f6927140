package attendance_api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/AttendBox/internal/models"
	"github.com/BearBump/AttendBox/internal/services/attendance"
	"github.com/BearBump/AttendBox/internal/services/orders"
	"github.com/BearBump/AttendBox/internal/storage/pgattendance"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// API — JSON-over-HTTP поверхность пайплайна. Идентичность пользователя
// приходит в заголовке X-User-ID от внешнего веб-слоя; сама аутентификация
// не здесь.
type API struct {
	orders     *orders.Service
	attendance *attendance.Service
}

func New(o *orders.Service, a *attendance.Service) *API {
	return &API{orders: o, attendance: a}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireUser)

		r.Post("/orders", a.submitOrder)
		r.Get("/orders", a.listOrders)
		r.Get("/orders/{id}", a.getOrder)
		r.Delete("/orders/{id}", a.deleteOrder)
		r.Get("/orders/{id}/status", a.pollOrder)
		r.Post("/orders/{id}/download", a.downloadOrder)

		r.Get("/attendance", a.queryRecords)
		r.Get("/attendance/stats", a.stats)
		r.Get("/attendance/compare", a.compare)
		r.Post("/attendance/notes", a.upsertNote)
		r.Get("/attendance/notes", a.listNotes)

		r.Post("/import", a.importRecords)
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = 0

func withUserID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func userID(r *http.Request) uint64 {
	id, _ := r.Context().Value(userIDKey).(uint64)
	return id
}

func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			writeError(w, http.StatusUnauthorized, "valid X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), id)))
	})
}

func (a *API) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tasks []string `json:"tasks"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	order, err := a.orders.Submit(r.Context(), userID(r), req.Tasks)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	out, err := a.orders.ListOrders(r.Context(), userID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, n, err := a.orders.GetOrder(r.Context(), userID(r), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order, "records": n})
}

func (a *API) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := a.orders.DeleteOrder(r.Context(), userID(r), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) pollOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	res, err := a.orders.Poll(r.Context(), userID(r), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) downloadOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	out, err := a.orders.Download(r.Context(), userID(r), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) queryRecords(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := a.attendance.Records(r.Context(), userID(r), f)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := a.attendance.Stats(r.Context(), userID(r), f)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) compare(w http.ResponseWriter, r *http.Request) {
	qa, errA := strconv.ParseUint(r.URL.Query().Get("a"), 10, 64)
	qb, errB := strconv.ParseUint(r.URL.Query().Get("b"), 10, 64)
	if errA != nil || errB != nil {
		writeError(w, http.StatusBadRequest, "query params a and b must be order ids")
		return
	}
	diff, err := a.attendance.Compare(r.Context(), userID(r), qa, qb)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (a *API) importRecords(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	confirm := r.URL.Query().Get("confirm") == "true"

	out, err := a.attendance.Import(r.Context(), userID(r), body, confirm)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if out.Committed {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

func (a *API) upsertNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date    string `json:"date"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	note, err := a.attendance.Note(r.Context(), userID(r), req.Date, req.Content)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if note == nil {
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (a *API) listNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	notes, err := a.attendance.Notes(r.Context(), userID(r), q.Get("start"), q.Get("end"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func parseFilter(r *http.Request) (attendance.Filter, error) {
	q := r.URL.Query()
	f := attendance.Filter{
		StartDate: q.Get("start"),
		EndDate:   q.Get("end"),
		Period:    q.Get("period"),
	}
	if c := q.Get("category"); c != "" {
		cat := models.Category(c)
		if !models.IsValidCategory(cat) {
			return attendance.Filter{}, errors.Errorf("unknown category %q", c)
		}
		f.Category = cat
	}
	if raw := q.Get("orderIds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return attendance.Filter{}, errors.Errorf("bad order id %q", part)
			}
			f.OrderIDs = append(f.OrderIDs, id)
		}
	}
	return f, nil
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "order id must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeServiceError переводит доменные ошибки в HTTP-статусы.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pgattendance.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, orders.ErrCredentialsNotSet):
		writeError(w, http.StatusPreconditionFailed, "scraper credentials not set")
	case errors.Is(err, orders.ErrDownloadInProgress):
		writeError(w, http.StatusConflict, "download already in progress, retry later")
	case errors.Is(err, orders.ErrOrderNotReady):
		writeError(w, http.StatusConflict, "order has no downloadable result yet")
	case errors.Is(err, attendance.ErrNothingToImport):
		writeError(w, http.StatusBadRequest, "no valid records to import")
	case errors.Is(err, attendance.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
