package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"stl-viewer/models"
	"stl-viewer/services"
	"stl-viewer/store"
	"stl-viewer/worker"
)

// handleView returns the last rendered output plus the busy flag — the
// payload the external map and chart renderers poll.
func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.view.Snapshot())
}

// handleListings returns the raw persisted dataset.
func (s *Server) handleListings(w http.ResponseWriter, _ *http.Request) {
	ds, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading dataset failed")
		return
	}
	s.writeJSON(w, http.StatusOK, ds)
}

// handleFilter applies a passive filter change and re-renders. It never
// triggers a refresh.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var f models.Filter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed filter payload")
		return
	}

	s.coordinator.SetFilter(f)
	s.writeJSON(w, http.StatusOK, s.coordinator.Filter())
}

// handleRefresh triggers one refresh cycle for the posted viewport.
// The cycle runs in the background; the spinner duration is bounded only
// by the configured refresh timeout.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var viewport models.BoundingBox
	if err := json.NewDecoder(r.Body).Decode(&viewport); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed viewport payload")
		return
	}

	if s.coordinator.Refreshing() {
		s.writeError(w, http.StatusConflict, "refresh already in progress")
		return
	}

	go func() {
		started, err := s.coordinator.Refresh(context.Background(), viewport)
		if !started {
			return
		}
		if errors.Is(err, worker.ErrChannelUnavailable) {
			s.logger.Error("[http] Refresh rejected: engine channel unavailable")
		} else if err != nil {
			s.logger.Error("[http] Refresh failed: %v", err)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// handleInsights computes per-date statistics for the current dataset.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.coordinator.Filter().Date
	}

	ds, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading dataset failed")
		return
	}

	report := services.NewInsightService(s.logger).Generate(ds, date)
	s.writeJSON(w, http.StatusOK, report)
}

// handleExportCSV streams the dataset as CSV, optionally filtered to one date.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading dataset failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="listings.csv"`)

	if err := store.ExportCSV(w, ds, r.URL.Query().Get("date")); err != nil {
		s.logger.Error("[http] CSV export failed: %v", err)
	}
}
