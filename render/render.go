package render

import (
	"fmt"
	"sort"

	"stl-viewer/models"
)

// Marker is one labeled map pin derived from a listing quote.
type Marker struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
	Popup Popup   `json:"popup"`
}

// Popup is the detail content bound to a marker.
type Popup struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	RoomType   string `json:"room_type"`
	HouseRules string `json:"house_rules"`
}

// Point is one (capacity, price) sample in the scatter chart.
type Point struct {
	Capacity int     `json:"capacity"`
	Price    float64 `json:"price"`
}

// Output is everything the external map and chart renderers need for one
// draw: the marker set fully replaces prior markers, the two series fully
// replace prior series, and the y-axis maximum is applied verbatim.
type Output struct {
	Markers     []Marker `json:"markers"`
	Highlighted []Point  `json:"highlighted"`
	Other       []Point  `json:"other"`
	AxisMax     int      `json:"axis_max"`
}

// Render derives markers and chart series from the dataset for the
// selected date and capacity threshold. It is pure: identical inputs
// produce identical outputs, and the dataset is never mutated.
//
// When the selected date is invalid it returns (zero, false) and the
// caller must leave previously rendered state untouched — a no-op, not
// a clear.
func Render(ds models.Dataset, filter models.Filter) (Output, bool) {
	if !filter.ValidDate() {
		return Output{}, false
	}

	out := Output{
		Markers:     []Marker{},
		Highlighted: []Point{},
		Other:       []Point{},
		AxisMax:     filter.AxisMax,
	}

	// Walk ids in sorted order so output is deterministic across calls.
	ids := make([]string, 0, len(ds))
	for id := range ds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		l := ds[id]

		price, ok := l.PriceOn(filter.Date)
		if !ok {
			continue
		}

		point := Point{Capacity: l.PersonCapacity, Price: price}

		if l.PersonCapacity != filter.Capacity {
			out.Other = append(out.Other, point)
			continue
		}

		out.Markers = append(out.Markers, Marker{
			Lat:   l.Latitude,
			Lng:   l.Longitude,
			Label: markerLabel(price, l.PriceCurrency, l.PersonCapacity),
			Popup: Popup{
				Name:       l.Name,
				URL:        l.URL,
				RoomType:   l.RoomType,
				HouseRules: l.HouseRules,
			},
		})
		out.Highlighted = append(out.Highlighted, point)
	}

	return out, true
}

// markerLabel formats the pin text, e.g. "120EUR / 4".
func markerLabel(price float64, currency string, capacity int) string {
	return fmt.Sprintf("%s%s / %d", formatPrice(price), currency, capacity)
}

// formatPrice drops trailing zeros so whole prices print as integers.
func formatPrice(price float64) string {
	if price == float64(int64(price)) {
		return fmt.Sprintf("%d", int64(price))
	}
	return fmt.Sprintf("%.2f", price)
}
