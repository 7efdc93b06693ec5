package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"stl-viewer/models"
	"stl-viewer/utils"
)

// Dispatcher adapts the event-based Channel into a single-call-site
// operation: Run sends a uniquely identified request and suspends the
// caller until the matching response arrives. Responses are correlated
// by task id through a pending table, so a response can only ever
// resolve the call that issued its request.
type Dispatcher struct {
	channel *Channel
	logger  *utils.Logger

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan Response
}

// NewDispatcher creates a Dispatcher and starts draining the channel's
// response stream.
func NewDispatcher(channel *Channel, logger *utils.Logger) *Dispatcher {
	d := &Dispatcher{
		channel: channel,
		logger:  logger,
		pending: make(map[uint64]chan Response),
	}
	go d.demux()
	return d
}

// Run dispatches one search task and blocks until its response arrives
// or ctx expires. Task identifiers are monotonically assigned and never
// repeat for the lifetime of the process. No timeout is imposed here;
// the caller bounds the wait through ctx.
func (d *Dispatcher) Run(ctx context.Context, payload models.SearchRequest) (models.Dataset, error) {
	if d.channel.State() == StateFailed {
		return nil, ErrChannelUnavailable
	}

	id := d.nextID.Add(1)
	waiter := make(chan Response, 1)

	d.mu.Lock()
	d.pending[id] = waiter
	d.mu.Unlock()

	if err := d.channel.Request(id, payload); err != nil {
		d.unregister(id)
		return nil, err
	}

	select {
	case resp := <-waiter:
		if resp.Err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrTaskFailed, id, resp.Err)
		}
		return resp.Dataset, nil
	case <-ctx.Done():
		// The task keeps running in the channel; its eventual response
		// finds no waiter and is dropped by the demux loop.
		d.unregister(id)
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) unregister(id uint64) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// demux routes each response to the pending call that issued its task
// id. A response bearing an id with no pending entry is a protocol
// violation (or an abandoned wait) and is logged, never delivered.
func (d *Dispatcher) demux() {
	for resp := range d.channel.Responses() {
		d.mu.Lock()
		waiter, ok := d.pending[resp.ID]
		if ok {
			delete(d.pending, resp.ID)
		}
		d.mu.Unlock()

		if !ok {
			d.logger.Warn("[dispatcher] Dropping response with unmatched task id %d", resp.ID)
			continue
		}

		waiter <- resp
	}
}
