package syncer

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	"github.com/zfogg/sidechain/clientsync/pkg/debounce"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/poller"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// Mode is how a subscription learns about changes
type Mode string

const (
	ModeRealtime Mode = "realtime"
	ModePolling  Mode = "polling"
	ModeClosed   Mode = "closed"
)

// Subscription keeps one projection in sync with a realtime topic, falling
// back to polling while the channel is unavailable. Dispose releases it.
type Subscription[P any, V any] struct {
	s        *Synchronizer[P, V]
	id       int
	topic    remote.Topic
	params   P
	key      cache.Key
	onChange func(Result[V])
	window   *debounce.Window

	closed atomic.Bool

	// deliverMu orders closing against the start of each onChange call;
	// running counts calls in progress.
	deliverMu sync.Mutex
	delivered *sync.Cond
	running   int

	mu     sync.Mutex
	handle remote.Subscription
	poll   *poller.Poller
	mode   Mode
	err    error
	once   sync.Once
}

// Subscribe watches topic and, after each burst of change events settles,
// force-reloads params and passes the result to onChange. If the realtime
// channel cannot be opened, or drops later, the projection is polled instead
// until the channel comes back. Errors never fail the subscription; Err
// reports the latest one.
func (s *Synchronizer[P, V]) Subscribe(ctx context.Context, topic remote.Topic, params P, onChange func(Result[V])) *Subscription[P, V] {
	sub := &Subscription[P, V]{
		s:        s,
		topic:    topic,
		params:   params,
		key:      s.src.Key(params),
		onChange: onChange,
	}
	sub.delivered = sync.NewCond(&sub.deliverMu)
	sub.window = debounce.New(s.cfg.Quiet, func() { sub.refresh("debounce") })

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.closed.Store(true)
		sub.mode = ModeClosed
		sub.err = serrors.ErrDisposed
		return sub
	}
	s.nextSubID++
	sub.id = s.nextSubID
	s.subs[sub.id] = sub
	s.mu.Unlock()

	if s.cfg.Subscriber == nil {
		sub.fallback(serrors.SubscriptionError(topic.Name(), nil))
		return sub
	}

	handle, err := s.cfg.Subscriber.Subscribe(ctx, topic, remote.Handler{
		OnChange: func(remote.ChangeEvent) { sub.window.Signal() },
		OnStatus: sub.onStatus,
	})
	if err != nil {
		sub.fallback(serrors.SubscriptionError(topic.Name(), err))
		return sub
	}

	sub.mu.Lock()
	if sub.closed.Load() {
		// Disposed during the handshake; dispose never saw the handle.
		sub.mu.Unlock()
		_ = handle.Unsubscribe()
		return sub
	}
	sub.handle = handle
	if sub.mode == "" {
		sub.mode = ModeRealtime
	}
	sub.mu.Unlock()
	return sub
}

// Dispose cancels the debounce timer, stops polling and releases the
// channel. It is safe to call more than once. onChange never starts after
// Dispose returns, and a call already running finishes first, so onChange
// must not call Dispose or Close itself; use go sub.Dispose() there.
func (sub *Subscription[P, V]) Dispose() {
	sub.s.mu.Lock()
	delete(sub.s.subs, sub.id)
	sub.s.mu.Unlock()
	sub.dispose()
}

// Mode reports whether the subscription is realtime, polling or closed
func (sub *Subscription[P, V]) Mode() Mode {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.mode
}

// Err returns the last subscription error, if any
func (sub *Subscription[P, V]) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

// Topic returns the watched topic
func (sub *Subscription[P, V]) Topic() remote.Topic {
	return sub.topic
}

// Pending reports whether a debounced refetch is scheduled
func (sub *Subscription[P, V]) Pending() bool {
	return sub.window.Pending()
}

func (sub *Subscription[P, V]) dispose() {
	sub.once.Do(func() {
		sub.deliverMu.Lock()
		sub.closed.Store(true)
		sub.deliverMu.Unlock()
		sub.window.Stop()

		sub.mu.Lock()
		handle, p := sub.handle, sub.poll
		sub.handle, sub.poll = nil, nil
		sub.mode = ModeClosed
		sub.mu.Unlock()

		if p != nil {
			p.Halt()
		}
		if handle != nil {
			if err := handle.Unsubscribe(); err != nil {
				sub.s.logger.Debug("unsubscribe failed",
					zap.String("topic", sub.topic.Name()),
					zap.Error(err),
				)
			}
		}
	})

	sub.deliverMu.Lock()
	for sub.running > 0 {
		sub.delivered.Wait()
	}
	sub.deliverMu.Unlock()
}

func (sub *Subscription[P, V]) onStatus(status remote.Status, err error) {
	if sub.closed.Load() {
		return
	}
	sub.s.cfg.Metrics.RecordSubscriptionStatus(sub.topic.Table, string(status))

	switch status {
	case remote.StatusDropped:
		sub.fallback(serrors.SubscriptionError(sub.topic.Name(), err))
	case remote.StatusRejoined:
		sub.mu.Lock()
		p := sub.poll
		sub.poll = nil
		sub.mode = ModeRealtime
		sub.err = nil
		sub.mu.Unlock()
		if p != nil {
			p.Halt()
		}
		// Catch up on whatever changed while the channel was down.
		sub.window.Signal()
	}
}

// fallback switches to polling
func (sub *Subscription[P, V]) fallback(err error) {
	s := sub.s
	s.logger.Warn("realtime unavailable, polling instead",
		zap.String("topic", sub.topic.Name()),
		zap.Duration("interval", s.cfg.PollInterval),
		zap.Error(err),
	)

	sub.mu.Lock()
	sub.err = err
	sub.mode = ModePolling
	if sub.poll != nil || sub.closed.Load() {
		sub.mu.Unlock()
		return
	}
	p := poller.New(poller.Config{
		Name:       s.cfg.Feature,
		Interval:   s.cfg.PollInterval,
		Visibility: s.cfg.Visibility,
		Metrics:    s.cfg.Metrics,
		Logger:     s.logger,
		Tick: func(ctx context.Context) error {
			return sub.refresh("poll")
		},
	})
	sub.poll = p
	sub.mu.Unlock()

	p.Start(s.ctx)
}

// refresh force-reloads the projection and hands it to onChange
func (sub *Subscription[P, V]) refresh(trigger string) error {
	if sub.closed.Load() {
		return nil
	}
	if trigger == "debounce" {
		// A change signal means a fetch already running may predate the
		// change, so it must not be joined.
		sub.s.store.Supersede(sub.key)
	}
	r := sub.s.Load(sub.s.ctx, sub.params, Force())
	if serrors.IsDisposed(r.Err) {
		return nil
	}
	sub.s.cfg.Metrics.RecordRefetch(sub.s.cfg.Feature, trigger)
	sub.deliver(r)
	return r.Err
}

func (sub *Subscription[P, V]) deliver(r Result[V]) {
	sub.deliverMu.Lock()
	if sub.closed.Load() || sub.onChange == nil {
		sub.deliverMu.Unlock()
		return
	}
	sub.running++
	sub.deliverMu.Unlock()

	defer func() {
		sub.deliverMu.Lock()
		sub.running--
		if sub.running == 0 {
			sub.delivered.Broadcast()
		}
		sub.deliverMu.Unlock()
	}()
	sub.onChange(r)
}
