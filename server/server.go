package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"stl-viewer/config"
	"stl-viewer/store"
	"stl-viewer/utils"
	"stl-viewer/viewer"
)

// Server exposes the viewer over HTTP: the map page, the rendered view
// for the external map/chart renderers, and the refresh trigger.
type Server struct {
	cfg         *config.Config
	coordinator *viewer.Coordinator
	view        *viewer.LatestView
	store       store.Store
	logger      *utils.Logger
	router      *mux.Router
}

// New builds the Server and its routes.
func New(cfg *config.Config, c *viewer.Coordinator, view *viewer.LatestView, st store.Store, logger *utils.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		coordinator: c,
		view:        view,
		store:       st,
		logger:      logger,
		router:      mux.NewRouter(),
	}
	s.routes()
	return s
}

// Router returns the HTTP handler with logging applied.
func (s *Server) Router() http.Handler {
	return s.logRequests(s.router)
}

func (s *Server) routes() {
	s.router.HandleFunc("/map", s.handleMapPage).Methods(http.MethodGet)
	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/view", s.handleView).Methods(http.MethodGet)
	api.HandleFunc("/listings", s.handleListings).Methods(http.MethodGet)
	api.HandleFunc("/filter", s.handleFilter).Methods(http.MethodPut)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/insights", s.handleInsights).Methods(http.MethodGet)
	api.HandleFunc("/export.csv", s.handleExportCSV).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// handleMapPage renders the map page with the configured map center
// templated in.
func (s *Server) handleMapPage(w http.ResponseWriter, _ *http.Request) {
	tmpl, err := template.ParseFiles(filepath.Join(s.cfg.StaticDir, "index.html"))
	if err != nil {
		s.logger.Error("[http] Parsing map page failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "map page unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, map[string]float64{
		"CenterLat": s.cfg.MapCenterLat,
		"CenterLng": s.cfg.MapCenterLng,
	}); err != nil {
		s.logger.Error("[http] Rendering map page failed: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("[http] %s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("[http] Encoding response failed: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
