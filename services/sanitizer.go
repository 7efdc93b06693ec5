package services

import (
	"strings"
	"time"
	"unicode"

	"stl-viewer/models"
	"stl-viewer/utils"
)

// Sanitizer validates engine output before it replaces the persisted
// dataset: every surviving price key parses as a calendar date, and
// every surviving listing has a usable coordinate and capacity.
type Sanitizer struct {
	logger *utils.Logger
}

// NewSanitizer creates a Sanitizer with the given logger.
func NewSanitizer(logger *utils.Logger) *Sanitizer {
	return &Sanitizer{logger: logger}
}

// Sanitize returns a cleaned copy of the dataset. The input is never
// mutated. Records that cannot be rendered are dropped, malformed date
// keys are stripped, and both are logged.
func (s *Sanitizer) Sanitize(ds models.Dataset) models.Dataset {
	out := make(models.Dataset, len(ds))
	dropped := 0
	badDates := 0

	for id, l := range ds {
		if l == nil || strings.TrimSpace(id) == "" {
			dropped++
			continue
		}

		if l.Latitude == 0 && l.Longitude == 0 {
			s.logger.Warn("[sanitizer] Dropping listing %s: no coordinate", id)
			dropped++
			continue
		}

		if l.PersonCapacity <= 0 {
			s.logger.Warn("[sanitizer] Dropping listing %s: capacity %d", id, l.PersonCapacity)
			dropped++
			continue
		}

		clean := *l
		clean.Name = normaliseText(l.Name)
		clean.RoomType = normaliseText(l.RoomType)
		clean.PricePerDate = make(map[string]float64, len(l.PricePerDate))

		for date, price := range l.PricePerDate {
			if _, err := time.Parse(models.DateLayout, date); err != nil {
				s.logger.Warn("[sanitizer] Listing %s: dropping unparseable date key %q", id, date)
				badDates++
				continue
			}
			clean.PricePerDate[date] = price
		}

		out[id] = &clean
	}

	s.logger.Info("[sanitizer] Sanitized %d → %d listings (dropped %d listings, %d date keys)",
		len(ds), len(out), dropped, badDates)
	return out
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
