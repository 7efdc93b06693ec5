package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"stl-viewer/models"
)

func readyDispatcher(t *testing.T, engine *fakeEngine) (*Dispatcher, *Channel) {
	t.Helper()
	ch := NewChannel(engine, newTestLogger())
	if err := ch.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(ch.Close)
	return NewDispatcher(ch, newTestLogger()), ch
}

func TestDispatcherRunReturnsResult(t *testing.T) {
	engine := &fakeEngine{}
	engine.search = func(req models.SearchRequest) (models.Dataset, error) {
		return models.Dataset{"1": {Name: "Flat", PersonCapacity: 2}}, nil
	}
	d, _ := readyDispatcher(t, engine)

	ds, err := d.Run(context.Background(), models.SearchRequest{Operation: "search"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ds) != 1 || ds["1"].Name != "Flat" {
		t.Errorf("unexpected dataset: %+v", ds)
	}
}

func TestDispatcherIDsNeverRepeat(t *testing.T) {
	engine := &fakeEngine{}
	engine.search = func(req models.SearchRequest) (models.Dataset, error) {
		return models.Dataset{}, nil
	}
	d, _ := readyDispatcher(t, engine)

	for i := 0; i < 10; i++ {
		if _, err := d.Run(context.Background(), models.SearchRequest{}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	// Ids come from a monotonic counter: ten runs consume exactly ids
	// 1..10, so no id can have been issued twice.
	if got := d.nextID.Load(); got != 10 {
		t.Errorf("issued ids: got %d, want 10", got)
	}
}

func TestDispatcherCorrelatesByID(t *testing.T) {
	// The first task blocks until released; the second completes
	// immediately. Each waiter must still receive its own result.
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	engine := &fakeEngine{}
	engine.search = func(req models.SearchRequest) (models.Dataset, error) {
		if req.Operation == "slow" {
			close(firstStarted)
			<-release
			return models.Dataset{"slow": {Name: "slow"}}, nil
		}
		return models.Dataset{"fast": {Name: "fast"}}, nil
	}
	d, _ := readyDispatcher(t, engine)

	type result struct {
		ds  models.Dataset
		err error
	}
	slowDone := make(chan result, 1)
	go func() {
		ds, err := d.Run(context.Background(), models.SearchRequest{Operation: "slow"})
		slowDone <- result{ds, err}
	}()
	<-firstStarted

	fastDone := make(chan result, 1)
	go func() {
		ds, err := d.Run(context.Background(), models.SearchRequest{Operation: "fast"})
		fastDone <- result{ds, err}
	}()

	// Let the fast task queue behind the slow one, then release.
	time.Sleep(50 * time.Millisecond)
	close(release)

	slow := <-slowDone
	fast := <-fastDone

	if slow.err != nil || fast.err != nil {
		t.Fatalf("errors: slow=%v fast=%v", slow.err, fast.err)
	}
	if _, ok := slow.ds["slow"]; !ok {
		t.Errorf("slow caller got wrong dataset: %+v", slow.ds)
	}
	if _, ok := fast.ds["fast"]; !ok {
		t.Errorf("fast caller got wrong dataset: %+v", fast.ds)
	}
}

func TestDispatcherFailedChannelFailsFast(t *testing.T) {
	engine := &fakeEngine{initErr: errors.New("cold start failed")}
	ch := NewChannel(engine, newTestLogger())
	_ = ch.Init(context.Background())
	d := NewDispatcher(ch, newTestLogger())

	before := engine.searches.Load()
	_, err := d.Run(context.Background(), models.SearchRequest{})
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("got %v, want ErrChannelUnavailable", err)
	}
	if engine.searches.Load() != before {
		t.Error("no search should be attempted on a failed channel")
	}
}

func TestDispatcherWrapsTaskError(t *testing.T) {
	engine := &fakeEngine{}
	engine.search = func(req models.SearchRequest) (models.Dataset, error) {
		return nil, errors.New("malformed response")
	}
	d, _ := readyDispatcher(t, engine)

	_, err := d.Run(context.Background(), models.SearchRequest{})
	if !errors.Is(err, ErrTaskFailed) {
		t.Errorf("got %v, want ErrTaskFailed", err)
	}
}

func TestDispatcherContextBoundsWait(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{}
	engine.search = func(req models.SearchRequest) (models.Dataset, error) {
		<-release
		return models.Dataset{}, nil
	}
	d, _ := readyDispatcher(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.Run(ctx, models.SearchRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
	close(release)

	// The late response is dropped by the demux loop, not delivered.
	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending entries after abandoned wait: got %d, want 0", pending)
	}
}
