package viewer

import (
	"sync"

	"stl-viewer/render"
)

// Snapshot is the view state delivered to the external map and chart
// renderers: the last rendered output plus the busy affordance.
type Snapshot struct {
	render.Output
	Refreshing bool   `json:"refreshing"`
	Rendered   bool   `json:"rendered"`
	LastError  string `json:"last_error,omitempty"`
}

// View receives render outputs, busy-state changes and refresh errors
// from the coordinator.
type View interface {
	Apply(out render.Output)
	SetBusy(busy bool)
	SetError(msg string)
}

// LatestView keeps only the most recent render output. An invalid-date
// no-op render never reaches Apply, so the previous output stays visible
// by construction.
type LatestView struct {
	mu       sync.RWMutex
	out      render.Output
	busy     bool
	rendered bool
	lastErr  string
}

func NewLatestView() *LatestView {
	return &LatestView{}
}

// Apply replaces the rendered output wholesale.
func (v *LatestView) Apply(out render.Output) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.out = out
	v.rendered = true
}

// SetBusy toggles the busy affordance shown while a refresh is in flight.
func (v *LatestView) SetBusy(busy bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.busy = busy
}

// SetError records the message shown for the last failed refresh. An
// empty message clears it.
func (v *LatestView) SetError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastErr = msg
}

// Snapshot returns the current view state.
func (v *LatestView) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{Output: v.out, Refreshing: v.busy, Rendered: v.rendered, LastError: v.lastErr}
}
