package importer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BearBump/AttendBox/internal/categories"
	"github.com/BearBump/AttendBox/internal/models"
)

var monthMap = map[string]int{
	"January": 1, "February": 2, "March": 3, "April": 4,
	"May": 5, "June": 6, "July": 7, "August": 8,
	"September": 9, "October": 10, "November": 11, "December": 12,
}

// ParsedRow — одна распознанная запись, готовая к вставке.
type ParsedRow struct {
	Date      string          `json:"date"`
	Year      int             `json:"year"`
	Month     int             `json:"month"`
	Day       int             `json:"day"`
	RawStatus string          `json:"rawStatus"`
	Category  models.Category `json:"category"`
	Period    *string         `json:"period"`
	Time      *string         `json:"time"`
}

// DroppedItem records an input fragment that could not be parsed.
type DroppedItem struct {
	Location string `json:"location"`
	Raw      string `json:"raw"`
	Reason   string `json:"reason"`
}

type Result struct {
	Records  []ParsedRow   `json:"records"`
	Dropped  []DroppedItem `json:"dropped"`
	Warnings []string      `json:"warnings"`
}

// unwrapRules are tried in order; the first match wins. Keeps the shape
// probing of the scraper payload in one place instead of nested lookups.
var unwrapRules = []func(map[string]json.RawMessage) (json.RawMessage, bool){
	func(m map[string]json.RawMessage) (json.RawMessage, bool) {
		raw, ok := m["tasks"]
		if !ok {
			return nil, false
		}
		var tasks map[string]json.RawMessage
		if json.Unmarshal(raw, &tasks) != nil {
			return nil, false
		}
		inner, ok := tasks["attendance"]
		return inner, ok
	},
	func(m map[string]json.RawMessage) (json.RawMessage, bool) {
		inner, ok := m["attendance"]
		return inner, ok
	},
}

type monthEntry struct {
	Month json.RawMessage            `json:"month"`
	Year  json.RawMessage            `json:"year"`
	Dates map[string]json.RawMessage `json:"dates"`
}

// Parse converts scraper-format attendance JSON into typed rows. Malformed
// input never fails the batch: problems surface as dropped items and
// warnings so the caller can preview before committing.
//
// Expected shape (after optional unwrapping of "tasks.attendance" or
// "attendance"): { "MonthName": { month, year, dates: { day: "pd,code[,time]|..." } } }
func Parse(raw json.RawMessage) Result {
	res := Result{Records: []ParsedRow{}, Dropped: []DroppedItem{}, Warnings: []string{}}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		res.Warnings = append(res.Warnings, "Input is not a valid JSON object")
		return res
	}

	for _, rule := range unwrapRules {
		if inner, ok := rule(data); ok {
			var unwrapped map[string]json.RawMessage
			if json.Unmarshal(inner, &unwrapped) == nil && unwrapped != nil {
				data = unwrapped
			}
			break
		}
	}

	totalMonths := 0

	for key, rawMonth := range data {
		var m monthEntry
		if err := json.Unmarshal(rawMonth, &m); err != nil {
			continue
		}

		monthName := stringField(m.Month, key)
		yearStr := stringField(m.Year, "")

		monthNum, known := monthMap[monthName]
		if !known {
			if m.Dates != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("Skipped unrecognized month %q", monthName))
			}
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(yearStr))
		if err != nil || year < 2000 || year > 2100 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Skipped %s: invalid year %q", monthName, yearStr))
			continue
		}
		if m.Dates == nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Skipped %s %d: no dates object", monthName, year))
			continue
		}

		totalMonths++

		for dayStr, rawEvents := range m.Dates {
			day, err := strconv.Atoi(dayStr)
			if err != nil || day < 1 || day > 31 {
				res.Dropped = append(res.Dropped, DroppedItem{
					Location: fmt.Sprintf("%s day %q", monthName, dayStr),
					Raw:      string(rawEvents),
					Reason:   "Invalid day number",
				})
				continue
			}

			var events string
			if err := json.Unmarshal(rawEvents, &events); err != nil || events == "" {
				res.Dropped = append(res.Dropped, DroppedItem{
					Location: fmt.Sprintf("%s day %d", monthName, day),
					Raw:      string(rawEvents),
					Reason:   "Empty or non-string events",
				})
				continue
			}

			isoDate := fmt.Sprintf("%04d-%02d-%02d", year, monthNum, day)

			for ei, event := range strings.Split(events, "|") {
				event = strings.TrimSpace(event)
				if event == "" {
					continue
				}

				parts := strings.Split(event, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				if len(parts) < 2 {
					res.Dropped = append(res.Dropped, DroppedItem{
						Location: fmt.Sprintf("%s day %d, event %d", monthName, day, ei+1),
						Raw:      event,
						Reason:   "Less than 2 comma-separated parts",
					})
					continue
				}

				var period *string
				if parts[0] != "" {
					p := parts[0]
					period = &p
				}
				var timeStr *string
				if len(parts) >= 3 {
					t := strings.Join(parts[2:], ",")
					timeStr = &t
				}

				res.Records = append(res.Records, ParsedRow{
					Date:      isoDate,
					Year:      year,
					Month:     monthNum,
					Day:       day,
					RawStatus: event,
					// imports always classify with the defaults; user
					// overrides apply at read time
					Category: categories.Resolve(event, nil),
					Period:   period,
					Time:     timeStr,
				})
			}
		}
	}

	if totalMonths == 0 {
		res.Warnings = append(res.Warnings, "No valid month data found in the input")
	}

	return res
}

// stringField renders a JSON scalar as a plain string, with a fallback.
func stringField(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fallback
}
