// Package datafilter implements scoped data filters such as the soft-delete
// filter. A filter is owned by a unit of work rather than by the process, so
// concurrent requests never observe each other's overrides.
package datafilter

import "sync"

// Filter is a switch with stack-discipline overrides. Each Disable or Enable
// pushes a frame; releasing the returned Handle removes exactly that frame,
// so the effective state is always the innermost live override, or the
// default when none is live.
type Filter struct {
	mu       sync.Mutex
	defaults bool
	frames   []*frame
}

type frame struct {
	enabled bool
}

// New returns a filter whose state is enabled when no override is live.
func New(enabled bool) *Filter {
	return &Filter{defaults: enabled}
}

// IsEnabled reports the effective state.
func (f *Filter) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.frames); n > 0 {
		return f.frames[n-1].enabled
	}
	return f.defaults
}

// Disable turns the filter off until the returned handle is released.
func (f *Filter) Disable() *Handle {
	return f.push(false)
}

// Enable turns the filter on until the returned handle is released.
func (f *Filter) Enable() *Handle {
	return f.push(true)
}

// Depth returns the number of live overrides.
func (f *Filter) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *Filter) push(enabled bool) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr := &frame{enabled: enabled}
	f.frames = append(f.frames, fr)
	return &Handle{filter: f, frame: fr}
}

func (f *Filter) remove(fr *frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i] == fr {
			f.frames = append(f.frames[:i], f.frames[i+1:]...)
			return
		}
	}
}

// Handle releases one override. Release is idempotent.
type Handle struct {
	filter *Filter
	frame  *frame
	once   sync.Once
}

// Release removes the override. Releasing an outer handle before an inner
// one keeps the inner override in force.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.filter.remove(h.frame)
	})
}
