package models

import "time"

// Category — закрытый набор категорий посещаемости.
type Category string

const (
	CategoryPresent Category = "present"
	CategoryAbsent  Category = "absent"
	CategoryTardy   Category = "tardy"
	CategoryExcused Category = "excused"
	CategoryOther   Category = "other"
)

// Severity order: lower rank = worse. A day with several events gets the
// category with the lowest rank among them.
var Severity = []Category{CategoryAbsent, CategoryTardy, CategoryExcused, CategoryOther, CategoryPresent}

var severityRank = map[Category]int{
	CategoryAbsent:  0,
	CategoryTardy:   1,
	CategoryExcused: 2,
	CategoryOther:   3,
	CategoryPresent: 4,
}

// RankOf returns the severity rank of c. Unknown values rank as "other".
func RankOf(c Category) int {
	if r, ok := severityRank[c]; ok {
		return r
	}
	return severityRank[CategoryOther]
}

// IsValidCategory reports whether c is one of the five fixed categories.
func IsValidCategory(c Category) bool {
	_, ok := severityRank[c]
	return ok
}

// OrderStatus — единый статус заказа: и для хранения, и для ветвления.
// Словарь совпадает со словарём статусов скрейпера.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusComplete   OrderStatus = "complete"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusFailedAuth OrderStatus = "failed_auth"
	OrderStatusTimedOut   OrderStatus = "timed_out"
	OrderStatusCanceled   OrderStatus = "canceled"
)

// IsTerminal reports whether no further automatic transition happens.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing:
		return false
	case OrderStatusComplete, OrderStatusPartial, OrderStatusFailed,
		OrderStatusFailedAuth, OrderStatusTimedOut, OrderStatusCanceled:
		return true
	}
	return false
}

// IsSuccess reports whether the order ended with usable data.
func (s OrderStatus) IsSuccess() bool {
	return s == OrderStatusComplete || s == OrderStatusPartial
}

// IsKnownStatus reports whether s belongs to the closed status set.
func IsKnownStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusComplete,
		OrderStatusPartial, OrderStatusFailed, OrderStatusFailedAuth,
		OrderStatusTimedOut, OrderStatusCanceled:
		return true
	}
	return false
}

const (
	OrderSourceScrape = "scrape"
	OrderSourceImport = "import"
)

type ScrapeOrder struct {
	ID                   uint64      `json:"id"`
	UserID               uint64      `json:"userId"`
	ScraperUID           string      `json:"scraperUid"`
	Source               string      `json:"source"`
	Tasks                []string    `json:"tasks"`
	Status               OrderStatus `json:"status"`
	Progress             float64     `json:"progress"`
	Error                *string     `json:"error,omitempty"`
	RawResponsePersisted bool        `json:"rawResponsePersisted"`
	CreatedAt            time.Time   `json:"createdAt"`
	CompletedAt          *time.Time  `json:"completedAt,omitempty"`
}

// AttendanceEvent — одна запись посещаемости из снапшота (orderId).
// Date всегда zero-padded YYYY-MM-DD, иначе сортировка по строке ломается.
type AttendanceEvent struct {
	ID      uint64 `json:"id"`
	UserID  uint64 `json:"userId"`
	OrderID uint64 `json:"orderId"`
	Date    string `json:"date"`
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	Day     int    `json:"day"`
	// RawStatus — исходная строка события, как пришла от скрейпера.
	RawStatus string `json:"rawStatus"`
	// Category is a best-effort default resolved at import time with no user
	// map. Reads must re-resolve against the user's map; this column is not
	// authoritative.
	Category  Category  `json:"category"`
	Period    *string   `json:"period"`
	Time      *string   `json:"time"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizedRecord is an AttendanceEvent with its category resolved through
// a specific user's override map.
type NormalizedRecord struct {
	AttendanceEvent
	Resolved Category `json:"resolvedCategory"`
}

type DayNote struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"userId"`
	Date      string    `json:"date"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
