package aggregate

import (
	"fmt"
	"strings"
	"time"
)

const maxInsights = 4

// ComputeInsights derives up to four human-readable observations from the
// monthly series of the given day groups. Deterministic: ties go to the
// first month in chronological order.
func ComputeInsights(days []DayGroup) []string {
	months := MonthlyStats(days)
	if len(months) == 0 {
		return nil
	}

	insights := make([]string, 0, maxInsights)

	// 1. Month with the most absences.
	if idx := maxBy(months, func(b MonthBucket) int { return b.Absent }); idx >= 0 && months[idx].Absent > 0 {
		insights = append(insights, fmt.Sprintf("Most absences in %s (%d)", monthLabel(months[idx]), months[idx].Absent))
	}

	// 2. Perfect attendance months.
	var perfect []MonthBucket
	for _, b := range months {
		if b.Total > 0 && b.Present == b.Total {
			perfect = append(perfect, b)
		}
	}
	if n := len(perfect); n >= 1 && n <= 3 {
		names := make([]string, 0, n)
		for _, b := range perfect {
			names = append(names, monthName(b.Month))
		}
		insights = append(insights, fmt.Sprintf("100%% present in %s", strings.Join(names, ", ")))
	} else if n > 3 {
		insights = append(insights, fmt.Sprintf("%d months with perfect attendance", n))
	}

	// 3. Streaks: no tardies/absences in the last 3 months while some
	// earlier month had one.
	for _, c := range []struct {
		count func(MonthBucket) int
		noun  string
	}{
		{func(b MonthBucket) int { return b.Tardy }, "tardies"},
		{func(b MonthBucket) int { return b.Absent }, "absences"},
	} {
		recentStart := len(months) - 3
		if recentStart < 0 {
			recentStart = 0
		}
		recent := 0
		for _, b := range months[recentStart:] {
			recent += c.count(b)
		}
		if recent != 0 {
			continue
		}
		last := -1
		for i := 0; i < recentStart; i++ {
			if c.count(months[i]) > 0 {
				last = i
			}
		}
		if last >= 0 {
			insights = append(insights, fmt.Sprintf("No %s since %s", c.noun, monthName(months[last].Month)))
		}
	}

	// 4. Month with the most tardies, only when notable and there is room.
	if len(insights) < maxInsights {
		if idx := maxBy(months, func(b MonthBucket) int { return b.Tardy }); idx >= 0 && months[idx].Tardy > 2 {
			insights = append(insights, fmt.Sprintf("Most tardies in %s (%d)", monthLabel(months[idx]), months[idx].Tardy))
		}
	}

	if len(insights) > maxInsights {
		insights = insights[:maxInsights]
	}
	return insights
}

// maxBy: strict > keeps the first chronological maximum.
func maxBy(months []MonthBucket, f func(MonthBucket) int) int {
	best, bestIdx := 0, -1
	for i, b := range months {
		if v := f(b); v > best {
			best = v
			bestIdx = i
		}
	}
	return bestIdx
}

func monthName(m int) string {
	if m < 1 || m > 12 {
		return "unknown"
	}
	return time.Month(m).String()
}

func monthLabel(b MonthBucket) string {
	return fmt.Sprintf("%s %d", monthName(b.Month), b.Year)
}
