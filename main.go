package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"stl-viewer/config"
	"stl-viewer/scraper/airbnb"
	"stl-viewer/server"
	"stl-viewer/store"
	"stl-viewer/utils"
	"stl-viewer/viewer"
	"stl-viewer/worker"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== STL viewer starting ===")
	logger.Info("Config — store: %s | location: %s | currency: %s | concurrency: %d | rate: %dms",
		cfg.StoreBackend, cfg.Location, cfg.Currency, cfg.MaxConcurrency, cfg.RateLimitMs)

	st, err := newStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open listing store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	// Store and worker channel must be ready before the first refresh.
	engine := airbnb.New(cfg, logger)
	defer engine.Close()

	channel := worker.NewChannel(engine, logger)
	defer channel.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 60*time.Second)
	if err := channel.Init(initCtx); err != nil {
		// The viewer still serves the persisted dataset; every refresh
		// fails fast with ChannelUnavailable until restart.
		logger.Error("Engine channel failed to initialize: %v", err)
	}
	cancelInit()

	dispatcher := worker.NewDispatcher(channel, logger)

	view := viewer.NewLatestView()
	coordinator := viewer.NewCoordinator(cfg, st, dispatcher, view, logger)

	// Show whatever survived the last run before the first refresh.
	coordinator.OnFilterChanged()

	srv := server.New(cfg, coordinator, view, st, logger)

	logger.Info("Serving viewer on http://%s/map", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Router()); err != nil {
		logger.Error("HTTP server stopped: %v", err)
		os.Exit(1)
	}
}

func newStore(cfg *config.Config, logger *utils.Logger) (store.Store, error) {
	if cfg.StoreBackend == "postgres" {
		return store.NewPostgresStore(cfg.DSN(), logger)
	}
	return store.NewRedisStore(cfg.RedisURL, cfg.RedisKey, logger)
}
