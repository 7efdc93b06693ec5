package models

import "time"

// DateLayout is the calendar-day format used for all price quote keys.
const DateLayout = "2006-01-02"

// Listing is one rentable unit with per-date nightly price quotes.
// The JSON shape matches the persisted dataset blob.
type Listing struct {
	Latitude       float64            `json:"latitude"`
	Longitude      float64            `json:"longitude"`
	Name           string             `json:"name"`
	URL            string             `json:"url"`
	RoomType       string             `json:"room_type"`
	HouseRules     string             `json:"house_rules"`
	PriceCurrency  string             `json:"price_currency"`
	PricePerDate   map[string]float64 `json:"price_per_date"`
	PersonCapacity int                `json:"person_capacity"`
}

// PriceOn returns the nightly price quoted for the given calendar date.
// An absent date means "no quote available", not a zero price.
func (l *Listing) PriceOn(date string) (float64, bool) {
	price, ok := l.PricePerDate[date]
	return price, ok
}

// Dataset is the full collection of listings currently known to the
// viewer, keyed by opaque listing id. It is replaced wholesale on every
// refresh, never merged incrementally.
type Dataset map[string]*Listing

// Filter holds the user-selected view state.
type Filter struct {
	Date     string `json:"date"`
	Capacity int    `json:"capacity"`
	AxisMax  int    `json:"axis_max"`
}

// ValidDate reports whether the selected date parses as a calendar day.
// An invalid or empty selection suppresses rendering entirely.
func (f Filter) ValidDate() bool {
	_, err := time.Parse(DateLayout, f.Date)
	return err == nil
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BoundingBox is the current map viewport, read at refresh time only.
type BoundingBox struct {
	NorthEast LatLng `json:"north_east"`
	SouthWest LatLng `json:"south_west"`
}

// SearchRequest is the engine request payload dispatched through the
// task worker channel. The prior dataset snapshot travels with the
// request so the engine can decide what to (re)fetch; whatever comes
// back is the new authoritative dataset regardless.
type SearchRequest struct {
	Operation string      `json:"operation"`
	Location  string      `json:"location"`
	Currency  string      `json:"currency"`
	Checkin   string      `json:"checkin"`
	Checkout  string      `json:"checkout"`
	Interval  int         `json:"interval"`
	MapSearch bool        `json:"map_search"`
	Bounds    BoundingBox `json:"bounds"`
	Snapshot  Dataset     `json:"snapshot"`
}

// InsightReport holds the computed analytics for one selected date.
type InsightReport struct {
	TotalListings  int
	QuotedListings int
	AveragePrice   float64
	MinPrice       float64
	MaxPrice       float64
	MostExpensive  *Listing
	ByRoomType     map[string]int
	ByCapacity     map[int]int
}
