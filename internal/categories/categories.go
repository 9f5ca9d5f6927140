package categories

import (
	"strings"

	"github.com/BearBump/AttendBox/internal/models"
)

// Built-in code→category defaults. Extending is fine; removing an entry
// requires migrating stored default categories.
var defaultMap = map[string]models.Category{
	"present":                  models.CategoryPresent,
	"no contact":               models.CategoryAbsent,
	"unexcused":                models.CategoryAbsent,
	"funding only absence":     models.CategoryAbsent,
	"tardy":                    models.CategoryTardy,
	"after tardy":              models.CategoryTardy,
	"college day":              models.CategoryExcused,
	"excused parental consent": models.CategoryExcused,
	"doctors return":           models.CategoryExcused,
	"excused":                  models.CategoryExcused,
}

// ExtractCode pulls the status code out of a raw status like
// "2,Tardy,8:45:00 AM" — second comma field, trimmed, lower-cased.
func ExtractCode(rawStatus string) string {
	parts := strings.Split(rawStatus, ",")
	if len(parts) < 2 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}

// Resolve maps a raw status to a category: user overrides first, then the
// built-in defaults, then "other". Never fails.
func Resolve(rawStatus string, userMap map[string]models.Category) models.Category {
	code := ExtractCode(rawStatus)
	if code == "" {
		return models.CategoryOther
	}

	if cat, ok := userMap[code]; ok && models.IsValidCategory(cat) {
		return cat
	}
	if cat, ok := defaultMap[code]; ok {
		return cat
	}
	return models.CategoryOther
}
