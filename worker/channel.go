package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"stl-viewer/models"
	"stl-viewer/utils"
)

var (
	// ErrChannelUnavailable is returned when the channel failed to
	// initialize or has been terminated. Every task request fails fast
	// with this and the data store is untouched.
	ErrChannelUnavailable = errors.New("worker channel unavailable")

	// ErrChannelBusy is returned when a request arrives while a task is
	// already running. The channel processes exactly one task at a time;
	// queueing is the caller's job.
	ErrChannelBusy = errors.New("worker channel busy")

	// ErrTaskFailed wraps engine errors raised during task execution.
	ErrTaskFailed = errors.New("task failed")
)

// State is the lifecycle state of a Channel.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateBusy
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Engine is the external search capability hosted by the channel: given
// a bounding box, a date range and the prior dataset snapshot, it
// returns the refreshed dataset.
type Engine interface {
	// Init performs one-time environment setup. It is called exactly
	// once per process; failure is terminal for the channel.
	Init(ctx context.Context) error
	Search(ctx context.Context, req models.SearchRequest) (models.Dataset, error)
}

// Response carries one task outcome, tagged with the identifier of the
// request that produced it.
type Response struct {
	ID      uint64
	Dataset models.Dataset
	Err     error
}

type request struct {
	id      uint64
	payload models.SearchRequest
}

// Channel hosts the engine on a dedicated goroutine so a slow or hanging
// search cannot block callers. It communicates exclusively via message
// passing: Request enqueues work, Responses delivers outcomes in FIFO
// order (one task runs at a time, so acceptance order is response order).
type Channel struct {
	engine Engine
	logger *utils.Logger

	requests  chan request
	responses chan Response
	quit      chan struct{}
	done      chan struct{}

	state    atomic.Int32
	initOnce sync.Once
	initErr  error
}

// NewChannel creates an uninitialized Channel. Init must succeed before
// any Request is accepted.
func NewChannel(engine Engine, logger *utils.Logger) *Channel {
	return &Channel{
		engine:    engine,
		logger:    logger,
		requests:  make(chan request, 1),
		responses: make(chan Response, 4),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Init performs the one-time engine cold start. Concurrent calls are
// coalesced into the single in-flight initialization; all callers see
// the same outcome. On failure the channel is left in the Failed
// terminal state and every subsequent Request fails with
// ErrChannelUnavailable.
func (c *Channel) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.state.Store(int32(StateInitializing))
		c.logger.Info("[channel] Initializing engine")

		if err := c.engine.Init(ctx); err != nil {
			c.state.Store(int32(StateFailed))
			c.initErr = err
			c.logger.Error("[channel] Engine initialization failed: %v", err)
			return
		}

		c.state.Store(int32(StateReady))
		c.logger.Info("[channel] Engine ready")
		go c.loop()
	})
	return c.initErr
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Request is a fire-and-forget send: the channel emits exactly one
// Response tagged with id per accepted request, in acceptance order.
// One request may sit queued while a task runs; beyond that a request
// is rejected with ErrChannelBusy. ErrChannelUnavailable is returned
// when the channel is not in a serving state.
func (c *Channel) Request(id uint64, payload models.SearchRequest) error {
	switch c.State() {
	case StateReady, StateBusy:
	default:
		return ErrChannelUnavailable
	}

	select {
	case c.requests <- request{id: id, payload: payload}:
		return nil
	default:
		return ErrChannelBusy
	}
}

// Responses is the stream of task outcomes. It is closed when the
// channel terminates.
func (c *Channel) Responses() <-chan Response {
	return c.responses
}

// Close terminates the channel. An in-flight task runs to completion;
// its response is discarded if nobody is draining.
func (c *Channel) Close() {
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)

	if c.State() == StateReady || c.State() == StateBusy {
		<-c.done
	}
}

func (c *Channel) loop() {
	defer close(c.responses)
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			c.state.Store(int32(StateTerminated))
			return
		case req := <-c.requests:
			c.state.Store(int32(StateBusy))
			c.logger.Debug("[channel] Task %d started", req.id)

			// Cancellation of a dispatched task is not supported:
			// it runs to completion or failure.
			ds, err := c.engine.Search(context.Background(), req.payload)
			if err != nil {
				c.logger.Warn("[channel] Task %d failed: %v", req.id, err)
			} else {
				c.logger.Debug("[channel] Task %d done — %d listings", req.id, len(ds))
			}

			c.state.Store(int32(StateReady))

			select {
			case c.responses <- Response{ID: req.id, Dataset: ds, Err: err}:
			case <-c.quit:
				c.state.Store(int32(StateTerminated))
				return
			}
		}
	}
}
