package viewer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stl-viewer/config"
	"stl-viewer/models"
	"stl-viewer/utils"
	"stl-viewer/worker"
)

// memStore is an in-memory Store for coordinator tests.
type memStore struct {
	mu sync.Mutex
	ds models.Dataset
}

func (m *memStore) Load() (models.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ds == nil {
		return models.Dataset{}, nil
	}
	return m.ds, nil
}

func (m *memStore) Replace(ds models.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ds = ds
	return nil
}

func (m *memStore) Clear() error { return m.Replace(models.Dataset{}) }
func (m *memStore) Close() error { return nil }

// fakeDispatcher counts dispatches and returns a scripted outcome.
type fakeDispatcher struct {
	calls   atomic.Int64
	block   chan struct{}
	dataset models.Dataset
	err     error
}

func (f *fakeDispatcher) Run(ctx context.Context, payload models.SearchRequest) (models.Dataset, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.dataset, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Location:         "*",
		Currency:         "EUR",
		IntervalNights:   1,
		CapacityMin:      1,
		CapacityMax:      16,
		DefaultCapacity:  4,
		DefaultAxisMax:   100,
		RefreshTimeoutMs: 5000,
	}
}

func quotedListing(capacity int, date string, price float64) *models.Listing {
	return &models.Listing{
		Latitude: 48.8, Longitude: 2.5, Name: "Flat", URL: "https://www.airbnb.com/rooms/1",
		RoomType: "Entire home/apt", PriceCurrency: "EUR",
		PricePerDate:   map[string]float64{date: price},
		PersonCapacity: capacity,
	}
}

func newTestCoordinator(st *memStore, d Dispatcher) (*Coordinator, *LatestView) {
	view := NewLatestView()
	c := NewCoordinator(testConfig(), st, d, view, utils.NewLogger())
	return c, view
}

func TestRefreshReplacesDatasetAndRenders(t *testing.T) {
	st := &memStore{}
	d := &fakeDispatcher{dataset: models.Dataset{"1": quotedListing(4, "2024-07-01", 120)}}
	c, view := newTestCoordinator(st, d)
	c.SetFilter(models.Filter{Date: "2024-07-01", Capacity: 4, AxisMax: 100})

	started, err := c.Refresh(context.Background(), models.BoundingBox{})
	if !started || err != nil {
		t.Fatalf("refresh: started=%v err=%v", started, err)
	}

	ds, _ := st.Load()
	if len(ds) != 1 {
		t.Fatalf("store after refresh: got %d listings, want 1", len(ds))
	}

	snap := view.Snapshot()
	if !snap.Rendered {
		t.Fatal("view was not rendered after refresh")
	}
	if len(snap.Markers) != 1 || snap.Markers[0].Label != "120EUR / 4" {
		t.Errorf("rendered markers: %+v", snap.Markers)
	}
	if snap.Refreshing {
		t.Error("busy affordance not cleared after refresh")
	}
}

func TestRefreshReentrancyGuard(t *testing.T) {
	st := &memStore{}
	d := &fakeDispatcher{block: make(chan struct{}), dataset: models.Dataset{}}
	c, _ := newTestCoordinator(st, d)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Refresh(context.Background(), models.BoundingBox{})
	}()

	// Wait until the first refresh is inside the dispatcher.
	deadline := time.Now().Add(2 * time.Second)
	for d.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first refresh never dispatched")
		}
		time.Sleep(time.Millisecond)
	}

	started, err := c.Refresh(context.Background(), models.BoundingBox{})
	if started || err != nil {
		t.Errorf("second refresh: started=%v err=%v, want no-op", started, err)
	}

	close(d.block)
	<-done

	if got := d.calls.Load(); got != 1 {
		t.Errorf("dispatched tasks: got %d, want exactly 1", got)
	}
}

func TestRefreshFailureRetainsDataset(t *testing.T) {
	prior := models.Dataset{"keep": quotedListing(4, "2024-07-01", 99)}
	st := &memStore{ds: prior}
	d := &fakeDispatcher{err: errors.New("engine exploded")}
	c, _ := newTestCoordinator(st, d)

	started, err := c.Refresh(context.Background(), models.BoundingBox{})
	if !started {
		t.Fatal("refresh should have started")
	}
	if err == nil {
		t.Fatal("expected refresh error")
	}

	after, _ := st.Load()
	if !reflect.DeepEqual(after, prior) {
		t.Errorf("dataset changed on failed refresh: %+v", after)
	}
}

func TestRefreshFailureStillRenders(t *testing.T) {
	st := &memStore{ds: models.Dataset{"1": quotedListing(4, "2024-07-01", 120)}}
	d := &fakeDispatcher{err: errors.New("network down")}
	c, view := newTestCoordinator(st, d)
	c.SetFilter(models.Filter{Date: "2024-07-01", Capacity: 4, AxisMax: 100})

	c.Refresh(context.Background(), models.BoundingBox{})

	snap := view.Snapshot()
	if len(snap.Markers) != 1 {
		t.Errorf("expected stale-but-valid data rendered after failure, got %+v", snap.Markers)
	}
}

func TestRefreshFailureSurfacesErrorMessage(t *testing.T) {
	st := &memStore{}
	d := &fakeDispatcher{err: errors.New("engine exploded")}
	c, view := newTestCoordinator(st, d)

	c.Refresh(context.Background(), models.BoundingBox{})

	snap := view.Snapshot()
	if snap.LastError == "" {
		t.Fatal("failed refresh left no error message in the view")
	}

	d.err = nil
	d.dataset = models.Dataset{}
	c.Refresh(context.Background(), models.BoundingBox{})

	if snap = view.Snapshot(); snap.LastError != "" {
		t.Errorf("successful refresh did not clear the error message: %q", snap.LastError)
	}
}

func TestRefreshUnavailableChannelMessage(t *testing.T) {
	st := &memStore{}
	d := &fakeDispatcher{err: worker.ErrChannelUnavailable}
	c, view := newTestCoordinator(st, d)

	c.Refresh(context.Background(), models.BoundingBox{})

	if got := view.Snapshot().LastError; got != "Scraping engine is unavailable" {
		t.Errorf("error message: got %q", got)
	}
}

func TestFilterChangeNeverDispatches(t *testing.T) {
	st := &memStore{ds: models.Dataset{"1": quotedListing(4, "2024-07-01", 120)}}
	d := &fakeDispatcher{}
	c, view := newTestCoordinator(st, d)

	c.SetFilter(models.Filter{Date: "2024-07-01", Capacity: 4, AxisMax: 100})
	c.SetFilter(models.Filter{Date: "2024-07-01", Capacity: 2, AxisMax: 100})

	if got := d.calls.Load(); got != 0 {
		t.Errorf("filter changes dispatched %d tasks, want 0", got)
	}

	snap := view.Snapshot()
	if len(snap.Markers) != 0 || len(snap.Other) != 1 {
		t.Errorf("capacity 2 view: markers=%d other=%d", len(snap.Markers), len(snap.Other))
	}
}

func TestInvalidDateKeepsPreviousView(t *testing.T) {
	st := &memStore{ds: models.Dataset{"1": quotedListing(4, "2024-07-01", 120)}}
	c, view := newTestCoordinator(st, &fakeDispatcher{})

	c.SetFilter(models.Filter{Date: "2024-07-01", Capacity: 4, AxisMax: 100})
	before := view.Snapshot()

	c.SetFilter(models.Filter{Date: "garbage", Capacity: 4, AxisMax: 100})
	after := view.Snapshot()

	if !reflect.DeepEqual(before.Output, after.Output) {
		t.Error("invalid date must be a no-op render, not a clear")
	}
}

func TestSetFilterClampsCapacity(t *testing.T) {
	st := &memStore{}
	c, _ := newTestCoordinator(st, &fakeDispatcher{})

	c.SetFilter(models.Filter{Date: "2024-07-01", Capacity: 99, AxisMax: 100})
	if got := c.Filter().Capacity; got != 16 {
		t.Errorf("capacity above range: got %d, want 16", got)
	}

	c.SetFilter(models.Filter{Date: "2024-07-01", Capacity: 0, AxisMax: 100})
	if got := c.Filter().Capacity; got != 1 {
		t.Errorf("capacity below range: got %d, want 1", got)
	}
}

func TestRefreshSanitizesEngineOutput(t *testing.T) {
	st := &memStore{}
	d := &fakeDispatcher{dataset: models.Dataset{
		"good": quotedListing(4, "2024-07-01", 120),
		"bad":  {Name: "no coordinate", PersonCapacity: 2},
	}}
	c, _ := newTestCoordinator(st, d)

	if _, err := c.Refresh(context.Background(), models.BoundingBox{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ds, _ := st.Load()
	if len(ds) != 1 {
		t.Fatalf("sanitized dataset: got %d listings, want 1", len(ds))
	}
	if _, ok := ds["good"]; !ok {
		t.Error("expected listing \"good\" to survive sanitization")
	}
}
