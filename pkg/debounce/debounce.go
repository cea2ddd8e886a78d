// Package debounce coalesces bursts of change signals into one callback
// fired after a quiet period.
package debounce

import (
	"sync"
	"time"
)

// Quiet periods used by the feature services.
const (
	VoteQuiet         = 300 * time.Millisecond
	NotificationQuiet = 300 * time.Millisecond
	ConversationQuiet = time.Second
	TypingQuiet       = 2 * time.Second
	PresenceQuiet     = 5 * time.Second
)

// Window owns one pending timer. Every Signal restarts the quiet period; the
// callback runs once the period elapses with no further signal.
type Window struct {
	mu      sync.Mutex
	quiet   time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool
	fired   uint64
}

// New creates a Window. fn runs on its own goroutine.
func New(quiet time.Duration, fn func()) *Window {
	return &Window{quiet: quiet, fn: fn}
}

// Signal records a change and restarts the quiet period.
// Signals after Stop are ignored.
func (w *Window) Signal() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.gen++
	gen := w.gen
	w.pending = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.quiet, func() { w.fire(gen) })
}

// Flush runs the callback now if a signal is pending.
func (w *Window) Flush() bool {
	w.mu.Lock()
	if w.stopped || !w.pending {
		w.mu.Unlock()
		return false
	}
	w.gen++
	w.pending = false
	w.fired++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.fn()
	return true
}

// Stop cancels any pending timer and closes the window. A callback that
// already started is not interrupted.
func (w *Window) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	w.pending = false
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Pending reports whether a callback is scheduled
func (w *Window) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Fired returns how many times the callback has run
func (w *Window) Fired() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Window) fire(gen uint64) {
	w.mu.Lock()
	// A later Signal, Flush or Stop superseded this timer.
	if w.stopped || gen != w.gen || !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.fired++
	w.mu.Unlock()

	w.fn()
}

// Group keeps one Window per topic
type Group struct {
	mu      sync.Mutex
	windows map[string]*Window
	quiet   map[string]time.Duration
	def     time.Duration
	fn      func(topic string)
	stopped bool
}

// NewGroup creates a Group whose windows call fn with their topic
func NewGroup(defaultQuiet time.Duration, fn func(topic string)) *Group {
	return &Group{
		windows: make(map[string]*Window),
		quiet:   make(map[string]time.Duration),
		def:     defaultQuiet,
		fn:      fn,
	}
}

// SetQuiet overrides the quiet period for topic. It applies to windows
// created after the call.
func (g *Group) SetQuiet(topic string, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quiet[topic] = d
}

// Signal signals the window for topic, creating it on first use
func (g *Group) Signal(topic string) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	w, ok := g.windows[topic]
	if !ok {
		quiet, set := g.quiet[topic]
		if !set {
			quiet = g.def
		}
		w = New(quiet, func() { g.fn(topic) })
		g.windows[topic] = w
	}
	g.mu.Unlock()

	w.Signal()
}

// Pending reports whether topic has a scheduled callback
func (g *Group) Pending(topic string) bool {
	g.mu.Lock()
	w, ok := g.windows[topic]
	g.mu.Unlock()
	return ok && w.Pending()
}

// Stop cancels every window
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = true
	for _, w := range g.windows {
		w.Stop()
	}
}
