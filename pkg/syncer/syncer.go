// Package syncer orchestrates one feature's read, write and subscribe cycle
// on top of the shared cache store.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
	"github.com/zfogg/sidechain/clientsync/pkg/poller"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/telemetry"
)

// Default timings
const (
	DefaultTTL          = 5 * time.Minute
	DefaultQuiet        = 300 * time.Millisecond
	DefaultPollInterval = 30 * time.Second
)

// Config configures a Synchronizer
type Config struct {
	// Feature labels logs, metrics and spans ("polls", "notifications", ...)
	Feature string
	// TTL is how long a fetched value stays fresh
	TTL time.Duration
	// Quiet is the debounce period for change notifications
	Quiet time.Duration
	// PollInterval drives the polling fallback when realtime is unavailable
	PollInterval time.Duration

	Store      *cache.Store
	Subscriber remote.Subscriber
	Visibility *poller.Visibility
	Locks      *EntityLocks
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type pendingEdit struct {
	key      cache.Key
	version  uint64
	snapshot cache.Entry
	had      bool
}

// Synchronizer serves one feature's projections from the cache store,
// fetching, writing and subscribing through a DataSource. Close disposes it;
// nothing it started changes state afterwards.
type Synchronizer[P any, V any] struct {
	cfg    Config
	src    DataSource[P, V]
	store  *cache.Store
	locks  *EntityLocks
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed, subs and pending. Store writes that must not happen
	// after Close are made while holding it.
	mu        sync.Mutex
	closed    bool
	subs      map[int]*Subscription[P, V]
	nextSubID int
	pending   map[string]pendingEdit

	bg sync.WaitGroup
}

// New creates a Synchronizer for src
func New[P any, V any](cfg Config, src DataSource[P, V]) *Synchronizer[P, V] {
	if cfg.Store == nil {
		cfg.Store = cache.New(cache.Options{Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Quiet <= 0 {
		cfg.Quiet = DefaultQuiet
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Locks == nil {
		cfg.Locks = NewEntityLocks()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer[P, V]{
		cfg:     cfg,
		src:     src,
		store:   cfg.Store,
		locks:   cfg.Locks,
		logger:  cfg.Logger.With(zap.String("feature", cfg.Feature)),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[int]*Subscription[P, V]),
		pending: make(map[string]pendingEdit),
	}
}

// Feature returns the feature label
func (s *Synchronizer[P, V]) Feature() string {
	return s.cfg.Feature
}

// Key returns the cache key for params
func (s *Synchronizer[P, V]) Key(params P) cache.Key {
	return s.src.Key(params)
}

// Closed reports whether the scope was disposed
func (s *Synchronizer[P, V]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Peek returns the current projection without any I/O
func (s *Synchronizer[P, V]) Peek(params P) (V, bool) {
	e, ok := s.store.Get(s.src.Key(params))
	if !ok {
		var zero V
		return zero, false
	}
	v, ok := e.Value.(V)
	return v, ok
}

// Prime stores a value obtained elsewhere (e.g. returned by a create call)
func (s *Synchronizer[P, V]) Prime(params P, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.store.Set(s.src.Key(params), v, s.cfg.TTL)
}

// Invalidate drops the cached projection for params
func (s *Synchronizer[P, V]) Invalidate(params P) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.store.Invalidate(s.src.Key(params))
}

// Load returns the projection for params. A fresh cache entry is served
// without a network call; otherwise the value is fetched, with concurrent
// loads of one key sharing a single fetch. When the fetch fails the last
// cached value is returned with Stale set and Err holding the failure.
func (s *Synchronizer[P, V]) Load(ctx context.Context, params P, opts ...LoadOption) Result[V] {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := s.src.Key(params)
	ctx, span := telemetry.TraceSyncCall(ctx, "load", s.cfg.Feature, string(key))
	defer span.End()

	if s.Closed() {
		telemetry.RecordError(span, serrors.ErrDisposed)
		return Result[V]{Err: serrors.ErrDisposed}
	}

	if !o.force {
		if v, e, ok := s.cached(key); ok {
			if e.Fresh(s.store.Now()) {
				s.cfg.Metrics.RecordLoad(s.cfg.Feature, "hit", 0)
				telemetry.RecordSuccess(span, attribute.Bool("sync.from_cache", true))
				return Result[V]{Value: v, Found: true, FromCache: true}
			}
			if o.allowStale {
				s.revalidate(key, params)
				s.cfg.Metrics.RecordLoad(s.cfg.Feature, "stale", 0)
				telemetry.RecordSuccess(span, attribute.Bool("sync.stale", true))
				return Result[V]{Value: v, Found: true, FromCache: true, Stale: true}
			}
		}
	}

	r := s.fetch(ctx, key, params)
	if r.Err != nil {
		telemetry.RecordError(span, r.Err)
	} else {
		telemetry.RecordSuccess(span, attribute.Bool("sync.from_cache", r.FromCache))
	}
	return r
}

func (s *Synchronizer[P, V]) cached(key cache.Key) (V, cache.Entry, bool) {
	e, ok := s.store.Get(key)
	if !ok {
		var zero V
		return zero, cache.Entry{}, false
	}
	v, ok := e.Value.(V)
	return v, e, ok
}

func (s *Synchronizer[P, V]) fetch(ctx context.Context, key cache.Key, params P) Result[V] {
	start := time.Now()
	fr, err := s.store.Do(ctx, key, func(ctx context.Context) (any, error) {
		return s.src.Fetch(ctx, params)
	})
	elapsed := time.Since(start)

	if err != nil {
		err = fetchError(err)
		s.logger.Debug("fetch failed",
			zap.String("key", string(key)),
			zap.Error(err),
		)

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			s.cfg.Metrics.RecordLoad(s.cfg.Feature, "discarded", elapsed)
			return Result[V]{Err: serrors.ErrDisposed}
		}

		if v, _, ok := s.cached(key); ok {
			s.cfg.Metrics.RecordLoad(s.cfg.Feature, "stale_error", elapsed)
			return Result[V]{Value: v, Found: true, FromCache: true, Stale: true, Err: err}
		}
		s.cfg.Metrics.RecordLoad(s.cfg.Feature, "error", elapsed)
		return Result[V]{Err: err}
	}

	v, _ := fr.Value.(V)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.cfg.Metrics.RecordLoad(s.cfg.Feature, "discarded", elapsed)
		return Result[V]{Err: serrors.ErrDisposed}
	}
	stored := s.store.SetFetched(key, v, s.cfg.TTL, fr)
	s.mu.Unlock()

	outcome := "fetched"
	if fr.Shared {
		outcome = "shared"
	}
	s.cfg.Metrics.RecordLoad(s.cfg.Feature, outcome, elapsed)

	if !stored {
		// The key was written or superseded while the fetch ran. Serve what
		// is there now.
		if cur, _, ok := s.cached(key); ok {
			return Result[V]{Value: cur, Found: true, FromCache: true}
		}
	}
	return Result[V]{Value: v, Found: true}
}

// revalidate refreshes key in the background. Store.Do de-duplicates it
// against any load already running.
func (s *Synchronizer[P, V]) revalidate(key cache.Key, params P) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		r := s.fetch(s.ctx, key, params)
		s.bg.Done()
		if r.Err == nil {
			s.notify(key)
		}
	}()
}

// Mutate applies an optimistic edit, performs the write, and then either
// confirms it (invalidating the affected keys) or rolls the projection back
// to exactly its previous state.
func (s *Synchronizer[P, V]) Mutate(ctx context.Context, m Mutation[P, V]) MutationResult[V] {
	key := s.src.Key(m.Params)
	ctx, span := telemetry.TraceSyncCall(ctx, "mutate", s.cfg.Feature, string(key))
	defer span.End()

	fail := func(res MutationResult[V], outcome string) MutationResult[V] {
		s.cfg.Metrics.RecordMutation(s.cfg.Feature, outcome)
		telemetry.RecordError(span, res.Err)
		return res
	}

	if s.Closed() {
		return fail(MutationResult[V]{Err: serrors.ErrDisposed}, "discarded")
	}

	if m.Validate != nil {
		if err := m.Validate(); err != nil {
			return fail(MutationResult[V]{Err: validationError(err)}, "rejected")
		}
	}

	entity := m.EntityID
	if entity == "" {
		entity = string(key)
	}
	// Edits to different entities can still share a projection, so the key
	// is held too. Otherwise one edit's rollback could land on top of the
	// other's projection and be skipped.
	release, err := s.locks.AcquireAll(ctx, string(key), entity)
	if err != nil {
		return fail(MutationResult[V]{Err: serrors.TransientFetchError(err)}, "cancelled")
	}
	defer release()

	edit := &OptimisticEdit[V]{
		ID:        uuid.NewString(),
		EntityID:  entity,
		Key:       key,
		Status:    EditPending,
		CreatedAt: time.Now(),
	}

	// Apply the projection. The snapshot is taken under s.mu so that Close
	// either sees this edit as pending or rejects it outright.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fail(MutationResult[V]{Err: serrors.ErrDisposed}, "discarded")
	}
	snapshot, had := s.store.Get(key)
	prev, typed := snapshot.Value.(V)
	had = had && typed
	edit.Previous, edit.HadPrevious = prev, had

	projected := false
	if m.Apply != nil {
		proposed, err := m.Apply(prev, had)
		switch {
		case errors.Is(err, ErrNoProjection):
		case err != nil:
			s.mu.Unlock()
			return fail(MutationResult[V]{Edit: edit, Value: prev, Err: validationError(err)}, "rejected")
		default:
			edit.Proposed = proposed
			var written cache.Entry
			patched := false
			if had {
				written, patched = s.store.Patch(key, func(any) any { return proposed })
			}
			if !patched {
				// Nothing to patch: project as an immediately stale entry so
				// the next load still goes to the backend.
				written = s.store.Set(key, proposed, 0)
			}
			s.pending[edit.ID] = pendingEdit{key: key, version: written.Version, snapshot: snapshot, had: had}
			projected = true
		}
	}
	s.mu.Unlock()

	if projected {
		s.notify(key)
	}

	var writeErr error
	if m.Write != nil {
		writeErr = m.Write(ctx)
	}

	s.mu.Lock()
	if s.closed {
		// Close already rolled this edit back.
		s.mu.Unlock()
		edit.Status = EditRolledBack
		return fail(MutationResult[V]{Edit: edit, Value: prev, Err: serrors.ErrDisposed}, "discarded")
	}
	pend, wasPending := s.pending[edit.ID]
	delete(s.pending, edit.ID)

	if writeErr == nil {
		edit.Status = EditConfirmed
		// Fetches that started before the write must not answer for it.
		s.store.Invalidate(key)
		s.store.Supersede(key)
		for _, prefix := range m.Invalidate {
			s.store.InvalidatePrefix(prefix)
			s.store.SupersedePrefix(prefix)
		}
		s.mu.Unlock()

		s.cfg.Metrics.RecordMutation(s.cfg.Feature, "confirmed")
		res := MutationResult[V]{Edit: edit, Value: edit.Proposed}
		if !projected {
			res.Value = prev
		}
		if m.Refetch {
			r := s.Load(ctx, m.Params, Force())
			res.Reloaded = &r
			if r.Found {
				res.Value = r.Value
			}
		}
		s.notify(key)
		telemetry.RecordSuccess(span, attribute.String("sync.edit_status", string(edit.Status)))
		return res
	}

	writeErr = writeError(writeErr)
	edit.Status = EditRolledBack
	restored := false
	if wasPending {
		restored = s.store.CompareAndRestore(pend.key, pend.version, pend.snapshot, pend.had)
	}
	s.mu.Unlock()

	s.cfg.Metrics.RecordRollback(s.cfg.Feature)
	s.logger.Info("optimistic edit rolled back",
		zap.String("key", string(key)),
		zap.String("edit_id", edit.ID),
		zap.Bool("restored", restored),
		zap.Error(writeErr),
	)
	if projected {
		s.notify(key)
	}

	res := MutationResult[V]{Edit: edit, Value: prev, Err: writeErr}
	if serrors.IsConflict(writeErr) {
		s.store.Supersede(key)
		r := s.Load(ctx, m.Params, Force())
		res.Reloaded = &r
		if r.Found {
			res.Value = r.Value
		}
		s.notify(key)
	} else if cur, ok := s.Peek(m.Params); ok {
		res.Value = cur
	}
	return fail(res, "rolled_back")
}

// notify pushes the current projection for key to subscriptions watching it
func (s *Synchronizer[P, V]) notify(key cache.Key) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var targets []*Subscription[P, V]
	for _, sub := range s.subs {
		if sub.key == key {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	v, e, ok := s.cached(key)
	if !ok {
		return
	}
	r := Result[V]{Value: v, Found: true, FromCache: true, Stale: !e.Fresh(s.store.Now())}
	for _, sub := range targets {
		sub.deliver(r)
	}
}

// Close disposes the scope: pending debounce timers and pollers stop,
// subscriptions are released, and unresolved optimistic edits are rolled
// back and marked stale. Work still in flight is discarded when it returns.
func (s *Synchronizer[P, V]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*Subscription[P, V], 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[int]*Subscription[P, V])

	for id, pend := range s.pending {
		if s.store.CompareAndRestore(pend.key, pend.version, pend.snapshot, pend.had) && pend.had {
			s.store.Expire(pend.key)
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.dispose()
	}
	s.bg.Wait()
	s.logger.Debug("synchronizer closed")
}

func fetchError(err error) error {
	var syncErr *serrors.SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	return serrors.TransientFetchError(err)
}

func writeError(err error) error {
	var syncErr *serrors.SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return serrors.TransientFetchError(err)
	}
	return serrors.CategorizeError(err)
}

func validationError(err error) error {
	if serrors.IsValidation(err) {
		return err
	}
	return serrors.New(serrors.ErrorTypeValidation, err.Error(), err)
}
