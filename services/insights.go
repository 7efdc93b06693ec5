package services

import (
	"stl-viewer/models"
	"stl-viewer/utils"
)

// InsightService computes per-date analytics over the current dataset.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate builds a report for one selected date: only listings with a
// quote on that date contribute to the price statistics.
func (s *InsightService) Generate(ds models.Dataset, date string) *models.InsightReport {
	report := &models.InsightReport{
		ByRoomType: make(map[string]int),
		ByCapacity: make(map[int]int),
	}

	if len(ds) == 0 {
		return report
	}

	report.TotalListings = len(ds)

	var total float64
	for _, l := range ds {
		if l.RoomType != "" {
			report.ByRoomType[l.RoomType]++
		}
		report.ByCapacity[l.PersonCapacity]++

		price, ok := l.PriceOn(date)
		if !ok {
			continue
		}

		if report.QuotedListings == 0 {
			report.MinPrice = price
			report.MaxPrice = price
			report.MostExpensive = l
		}
		report.QuotedListings++
		total += price

		if price < report.MinPrice {
			report.MinPrice = price
		}
		if price > report.MaxPrice {
			report.MaxPrice = price
			report.MostExpensive = l
		}
	}

	if report.QuotedListings > 0 {
		report.AveragePrice = total / float64(report.QuotedListings)
	}

	return report
}

// Log writes a one-line summary of the report, typically after a refresh.
func (s *InsightService) Log(date string, r *models.InsightReport) {
	if r.QuotedListings == 0 {
		s.logger.Info("[insights] %s — %d listings, no quotes", date, r.TotalListings)
		return
	}
	s.logger.Info("[insights] %s — %d listings, %d quoted | avg %.2f min %.2f max %.2f",
		date, r.TotalListings, r.QuotedListings, r.AveragePrice, r.MinPrice, r.MaxPrice)
}
