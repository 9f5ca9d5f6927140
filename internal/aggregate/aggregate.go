package aggregate

import (
	"sort"

	"github.com/BearBump/AttendBox/internal/models"
)

// DayGroup — все события одной даты, свёрнутые в худшую категорию дня.
type DayGroup struct {
	Date     string
	Category models.Category
	Records  []models.NormalizedRecord
}

type Summary struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Tardy   int `json:"tardy"`
	Excused int `json:"excused"`
	Other   int `json:"other"`
}

type MonthBucket struct {
	Year    int `json:"year"`
	Month   int `json:"month"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Tardy   int `json:"tardy"`
	Excused int `json:"excused"`
	Other   int `json:"other"`
	Total   int `json:"total"`
}

// GroupByDay partitions records by exact date string and assigns each day
// the worst resolved category (lowest severity rank). Result is sorted by
// date descending; dates are zero-padded ISO so string order is date order.
func GroupByDay(records []models.NormalizedRecord) []DayGroup {
	byDate := make(map[string][]models.NormalizedRecord)
	order := make([]string, 0)
	for _, r := range records {
		if _, ok := byDate[r.Date]; !ok {
			order = append(order, r.Date)
		}
		byDate[r.Date] = append(byDate[r.Date], r)
	}

	days := make([]DayGroup, 0, len(order))
	for _, date := range order {
		recs := byDate[date]
		worst := models.CategoryPresent
		worstRank := len(models.Severity)
		for _, r := range recs {
			if rank := models.RankOf(r.Resolved); rank < worstRank {
				worstRank = rank
				worst = r.Resolved
			}
		}
		days = append(days, DayGroup{Date: date, Category: worst, Records: recs})
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })
	return days
}

// DaySummary counts days (not events) per category.
func DaySummary(days []DayGroup) Summary {
	s := Summary{Total: len(days)}
	for _, d := range days {
		switch d.Category {
		case models.CategoryPresent:
			s.Present++
		case models.CategoryAbsent:
			s.Absent++
		case models.CategoryTardy:
			s.Tardy++
		case models.CategoryExcused:
			s.Excused++
		default:
			s.Other++
		}
	}
	return s
}

// MonthlyStats folds day groups into per-month buckets keyed by the
// YYYY-MM prefix of the date, sorted ascending.
func MonthlyStats(days []DayGroup) []MonthBucket {
	byKey := make(map[string]*MonthBucket)
	keys := make([]string, 0)
	for _, d := range days {
		if len(d.Date) < 7 {
			continue
		}
		key := d.Date[:7]
		b, ok := byKey[key]
		if !ok {
			b = &MonthBucket{
				Year:  atoi(d.Date[:4]),
				Month: atoi(d.Date[5:7]),
			}
			byKey[key] = b
			keys = append(keys, key)
		}
		switch d.Category {
		case models.CategoryPresent:
			b.Present++
		case models.CategoryAbsent:
			b.Absent++
		case models.CategoryTardy:
			b.Tardy++
		case models.CategoryExcused:
			b.Excused++
		default:
			b.Other++
		}
		b.Total++
	}

	sort.Strings(keys)
	out := make([]MonthBucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
