package poller

import (
	"sync"
	"sync/atomic"
)

// Visibility tracks whether the consuming surface is active. Pollers only
// tick while it is. A session owns one and every poller shares it.
type Visibility struct {
	active atomic.Bool

	mu     sync.Mutex
	nextID int
	subs   map[int]func(active bool)
}

// NewVisibility creates a gate in the given initial state
func NewVisibility(active bool) *Visibility {
	v := &Visibility{subs: make(map[int]func(bool))}
	v.active.Store(active)
	return v
}

// Active reports the current state. A nil gate is always active.
func (v *Visibility) Active() bool {
	if v == nil {
		return true
	}
	return v.active.Load()
}

// SetActive updates the state and notifies listeners on change
func (v *Visibility) SetActive(active bool) {
	if v.active.Swap(active) == active {
		return
	}

	v.mu.Lock()
	subs := make([]func(bool), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(active)
	}
}

// OnChange registers fn for state transitions and returns an unsubscribe func
func (v *Visibility) OnChange(fn func(active bool)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}
