package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stl-viewer/config"
	"stl-viewer/models"
	"stl-viewer/render"
	"stl-viewer/services"
	"stl-viewer/store"
	"stl-viewer/utils"
	"stl-viewer/worker"
)

// Dispatcher is the task-dispatch operation the coordinator drives.
// *worker.Dispatcher satisfies it.
type Dispatcher interface {
	Run(ctx context.Context, payload models.SearchRequest) (models.Dataset, error)
}

const (
	stateIdle int32 = iota
	stateRefreshing
)

// Coordinator orchestrates the refresh cycle and is the only component
// allowed to dispatch data-acquisition tasks or flip the in-flight
// state. The listing store and worker channel must be ready before the
// first Refresh call.
type Coordinator struct {
	cfg        *config.Config
	store      store.Store
	dispatcher Dispatcher
	sanitizer  *services.Sanitizer
	insights   *services.InsightService
	view       View
	logger     *utils.Logger

	// Idle | Refreshing, guarded by CAS so a double-dispatch is
	// impossible rather than merely unlikely.
	state atomic.Int32

	mu     sync.RWMutex
	filter models.Filter
}

// NewCoordinator wires a Coordinator with its collaborators and the
// default filter state.
func NewCoordinator(cfg *config.Config, st store.Store, d Dispatcher, view View, logger *utils.Logger) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
		sanitizer:  services.NewSanitizer(logger),
		insights:   services.NewInsightService(logger),
		view:       view,
		logger:     logger,
		filter: models.Filter{
			Date:     time.Now().AddDate(0, 0, 2).Format(models.DateLayout),
			Capacity: cfg.DefaultCapacity,
			AxisMax:  cfg.DefaultAxisMax,
		},
	}
}

// Refreshing reports whether a refresh cycle is currently in flight.
func (c *Coordinator) Refreshing() bool {
	return c.state.Load() == stateRefreshing
}

// Filter returns the current filter state.
func (c *Coordinator) Filter() models.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// SetFilter applies a passive filter change: capacity is clamped to the
// configured range and the view is re-rendered from the existing store
// contents. A filter change never triggers a refresh.
func (c *Coordinator) SetFilter(f models.Filter) {
	f.Capacity = c.cfg.ClampCapacity(f.Capacity)
	if f.AxisMax <= 0 {
		f.AxisMax = c.cfg.DefaultAxisMax
	}

	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()

	c.OnFilterChanged()
}

// OnFilterChanged synchronously re-renders against the existing dataset.
func (c *Coordinator) OnFilterChanged() {
	c.renderCurrent(c.Filter())
}

// Refresh runs one end-to-end refresh cycle for the given viewport. It
// returns (false, nil) when a refresh is already in flight — at most one
// task is ever outstanding. On task failure the prior dataset is
// retained and the error surfaced; either way the view is re-rendered
// against whatever the store now holds.
func (c *Coordinator) Refresh(ctx context.Context, viewport models.BoundingBox) (bool, error) {
	if !c.state.CompareAndSwap(stateIdle, stateRefreshing) {
		c.logger.Debug("[coordinator] Refresh already in flight — ignoring")
		return false, nil
	}
	defer c.state.Store(stateIdle)

	c.view.SetBusy(true)
	defer func() { c.renderCurrent(c.Filter()) }()
	defer c.view.SetBusy(false)

	filter := c.Filter()

	snapshot, err := c.store.Load()
	if err != nil {
		c.view.SetError("Loading the stored dataset failed")
		return true, fmt.Errorf("load snapshot: %w", err)
	}

	timeout := time.Duration(c.cfg.RefreshTimeoutMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Info("[coordinator] Refreshing — bounds NE(%.4f,%.4f) SW(%.4f,%.4f)",
		viewport.NorthEast.Lat, viewport.NorthEast.Lng,
		viewport.SouthWest.Lat, viewport.SouthWest.Lng)

	result, err := c.dispatcher.Run(runCtx, c.buildRequest(filter, viewport, snapshot))
	if err != nil {
		c.logger.Error("[coordinator] Refresh failed, keeping previous dataset: %v", err)
		c.view.SetError(refreshErrorMessage(err))
		return true, err
	}

	clean := c.sanitizer.Sanitize(result)
	if err := c.store.Replace(clean); err != nil {
		c.logger.Error("[coordinator] Persisting refreshed dataset failed: %v", err)
		c.view.SetError("Persisting the refreshed dataset failed")
		return true, err
	}

	if filter.ValidDate() {
		c.insights.Log(filter.Date, c.insights.Generate(clean, filter.Date))
	}

	c.view.SetError("")
	return true, nil
}

// refreshErrorMessage maps a refresh failure to the message shown in the
// page's error banner.
func refreshErrorMessage(err error) string {
	switch {
	case errors.Is(err, worker.ErrChannelUnavailable):
		return "Scraping engine is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "Refresh timed out"
	default:
		return "Refreshing listings failed"
	}
}

// buildRequest assembles the engine payload: search window derived from
// the selected date, configured location and currency, and the prior
// dataset snapshot for the engine to consult.
func (c *Coordinator) buildRequest(f models.Filter, viewport models.BoundingBox, snapshot models.Dataset) models.SearchRequest {
	checkin := f.Date
	if !f.ValidDate() {
		checkin = time.Now().AddDate(0, 0, 2).Format(models.DateLayout)
	}

	start, _ := time.Parse(models.DateLayout, checkin)
	checkout := start.AddDate(0, 0, c.cfg.IntervalNights).Format(models.DateLayout)

	return models.SearchRequest{
		Operation: "search",
		Location:  c.cfg.Location,
		Currency:  c.cfg.Currency,
		Checkin:   checkin,
		Checkout:  checkout,
		Interval:  c.cfg.IntervalNights,
		MapSearch: true,
		Bounds:    viewport,
		Snapshot:  snapshot,
	}
}

// renderCurrent drives the render pipeline against the store contents.
// An invalid selected date is a recognized no-render condition: the view
// keeps showing whatever it showed before, nothing is cleared.
func (c *Coordinator) renderCurrent(f models.Filter) {
	ds, err := c.store.Load()
	if err != nil {
		c.logger.Error("[coordinator] Cannot load dataset for render: %v", err)
		return
	}

	out, ok := render.Render(ds, f)
	if !ok {
		c.logger.Debug("[coordinator] No valid date selected — skipping render")
		return
	}

	c.view.Apply(out)
}
