// Package poller re-runs a load on a fixed interval while the consuming
// surface is visible, never stacking overlapping ticks.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
)

// Tick results reported to metrics
const (
	TickRan             = "ran"
	TickSkippedInflight = "skipped_inflight"
	TickSkippedInactive = "skipped_inactive"
)

// Config configures a Poller
type Config struct {
	// Name labels logs and metrics
	Name     string
	Interval time.Duration
	Tick     func(ctx context.Context) error
	// Visibility gates ticks. Nil means always active.
	Visibility *Visibility
	// RefreshOnResume runs a tick as soon as the surface becomes active again.
	RefreshOnResume bool
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// Stats counts tick outcomes
type Stats struct {
	Ran             uint64 `json:"ran"`
	SkippedInflight uint64 `json:"skipped_inflight"`
	SkippedInactive uint64 `json:"skipped_inactive"`
	Errors          uint64 `json:"errors"`
}

// Poller runs Tick every Interval
type Poller struct {
	cfg Config

	inflight atomic.Bool
	running  atomic.Bool

	ran             atomic.Uint64
	skippedInflight atomic.Uint64
	skippedInactive atomic.Uint64
	errors          atomic.Uint64

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	unwatch  func()
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Poller. Call Start to begin ticking.
func New(cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Poller{cfg: cfg}
}

// Start begins ticking until ctx ends or Stop is called
func (p *Poller) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	if p.cfg.RefreshOnResume && p.cfg.Visibility != nil {
		p.unwatch = p.cfg.Visibility.OnChange(func(active bool) {
			if active {
				p.tryTick(ctx)
			}
		})
	}
	done := p.done
	p.mu.Unlock()

	go p.loop(ctx, done)
}

// Stop halts the poller and waits for a running tick to finish
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel, done, unwatch := p.cancel, p.done, p.unwatch
		p.mu.Unlock()

		if unwatch != nil {
			unwatch()
		}
		if cancel != nil {
			cancel()
			<-done
		}
		p.wg.Wait()
		p.running.Store(false)
	})
}

// Halt cancels the poller without waiting for a running tick. It is safe to
// call from inside Tick.
func (p *Poller) Halt() {
	p.mu.Lock()
	cancel, unwatch := p.cancel, p.unwatch
	p.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if cancel != nil {
		cancel()
	}
}

// TickNow runs a tick immediately, subject to the same gates
func (p *Poller) TickNow(ctx context.Context) bool {
	return p.tryTick(ctx)
}

// Stats returns tick counters
func (p *Poller) Stats() Stats {
	return Stats{
		Ran:             p.ran.Load(),
		SkippedInflight: p.skippedInflight.Load(),
		SkippedInactive: p.skippedInactive.Load(),
		Errors:          p.errors.Load(),
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tryTick(ctx)
		}
	}
}

// tryTick starts a tick in the background unless the surface is inactive
// or the previous tick is still running.
func (p *Poller) tryTick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !p.cfg.Visibility.Active() {
		p.skippedInactive.Add(1)
		p.cfg.Metrics.RecordPollTick(p.cfg.Name, TickSkippedInactive)
		return false
	}
	if !p.inflight.CompareAndSwap(false, true) {
		p.skippedInflight.Add(1)
		p.cfg.Metrics.RecordPollTick(p.cfg.Name, TickSkippedInflight)
		p.cfg.Logger.Debug("poll tick skipped, previous still in flight", zap.String("poller", p.cfg.Name))
		return false
	}

	p.ran.Add(1)
	p.cfg.Metrics.RecordPollTick(p.cfg.Name, TickRan)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inflight.Store(false)

		if err := p.cfg.Tick(ctx); err != nil {
			p.errors.Add(1)
			p.cfg.Logger.Debug("poll tick failed",
				zap.String("poller", p.cfg.Name),
				zap.Error(err),
			)
		}
	}()
	return true
}
