package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"stl-viewer/models"
)

// ExportCSV writes every (listing, date, price) quote in the dataset as
// one CSV row. When date is non-empty, only quotes for that calendar day
// are exported. Rows are ordered by listing id so output is stable.
func ExportCSV(w io.Writer, ds models.Dataset, date string) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{
		"id", "name", "url", "room_type", "person_capacity", "currency", "date", "price",
	}); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	ids := make([]string, 0, len(ds))
	for id := range ds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		l := ds[id]

		dates := make([]string, 0, len(l.PricePerDate))
		for d := range l.PricePerDate {
			if date != "" && d != date {
				continue
			}
			dates = append(dates, d)
		}
		sort.Strings(dates)

		for _, d := range dates {
			row := []string{
				id,
				l.Name,
				l.URL,
				l.RoomType,
				strconv.Itoa(l.PersonCapacity),
				l.PriceCurrency,
				d,
				strconv.FormatFloat(l.PricePerDate[d], 'f', 2, 64),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("csv: write row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
