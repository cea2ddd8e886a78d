package cache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
)

// DefaultMaxAge bounds how long any entry may be served, fresh or stale.
const DefaultMaxAge = 24 * time.Hour

// Entry is one cached query result
type Entry struct {
	Key       Key
	Value     any
	FetchedAt time.Time
	TTL       time.Duration
	// Version changes on every write to the key. Zero means absent.
	Version uint64
}

// Fresh reports whether now falls inside [FetchedAt, FetchedAt+TTL)
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Age returns how long ago the value was fetched
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Options configures a Store
type Options struct {
	// Name labels metrics and logs. Defaults to "sync".
	Name string
	// Capacity bounds the number of entries. Zero means unbounded.
	Capacity int
	// MaxAge is the absolute limit past which an entry is never served.
	MaxAge time.Duration
	// Clock overrides time.Now, for tests.
	Clock   func() time.Time
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Stats is a snapshot of store counters
type Stats struct {
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Sets        uint64 `json:"sets"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Inflight    int    `json:"inflight"`
}

// FetchResult is the outcome of a de-duplicated fetch
type FetchResult struct {
	Value any
	// Version is the key's version when the shared fetch started. Writing the
	// value back with SetFetched fails if anything touched the key since.
	Version uint64
	// Epoch is the key's fetch generation. Supersede moves it on, after
	// which the result can no longer be written back.
	Epoch uint64
	// Shared is true when this caller joined a fetch started by another.
	Shared bool
}

type flightValue struct {
	value   any
	version uint64
}

// Store is the process-wide keyed cache. All methods are safe for
// concurrent use; a single mutex makes every key single-writer.
type Store struct {
	mu       sync.Mutex
	entries  map[Key]*Entry
	order    *setOrder
	version  uint64
	stats    Stats
	inflight map[Key]int
	// epochs holds the fetch generation of keys that were superseded at
	// least once. epochSeq only grows, so a generation is never reused.
	epochs   map[Key]uint64
	epochSeq uint64

	flight singleflight.Group

	name     string
	capacity int
	maxAge   time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a Store
func New(opts Options) *Store {
	s := &Store{
		entries:  make(map[Key]*Entry),
		order:    newSetOrder(),
		inflight: make(map[Key]int),
		epochs:   make(map[Key]uint64),
		name:     opts.Name,
		capacity: opts.Capacity,
		maxAge:   opts.MaxAge,
		now:      opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if s.name == "" {
		s.name = "sync"
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Now returns the store's clock reading
func (s *Store) Now() time.Time {
	return s.now()
}

// Get returns the entry for key if present and younger than MaxAge
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		s.stats.Misses++
		s.metrics.RecordCacheMiss(s.name)
		return Entry{}, false
	}
	s.stats.Hits++
	s.metrics.RecordCacheHit(s.name)
	return *e, true
}

// Set overwrites the entry for key and resets its fetch time to now
func (s *Store) Set(key Key, value any, ttl time.Duration) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, value, s.now(), ttl)
}

// SetFetched writes the result of Do back unless the key was written or
// superseded since that fetch started. A zero Version expects the key to
// still be absent.
func (s *Store) SetFetched(key Key, value any, ttl time.Duration, fr FetchResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentVersion(key) != fr.Version || s.epochs[key] != fr.Epoch {
		return false
	}
	s.write(key, value, s.now(), ttl)
	return true
}

// Supersede starts a new fetch generation for key. Fetches already running
// keep serving the callers that joined them, but a later Do starts its own
// fetch and the older results can no longer be stored.
func (s *Store) Supersede(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersede(key)
}

// SupersedePrefix supersedes every cached, in-flight or previously
// superseded key under prefix
func (s *Store) SupersedePrefix(prefix Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		if k.HasPrefix(prefix) {
			s.supersede(k)
		}
	}
	for k := range s.inflight {
		if k.HasPrefix(prefix) {
			s.supersede(k)
		}
	}
	for k := range s.epochs {
		if k.HasPrefix(prefix) {
			s.supersede(k)
		}
	}
}

// Invalidate drops key
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(key)
}

// InvalidatePrefix drops every key under prefix and returns how many went
func (s *Store) InvalidatePrefix(prefix Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if k.HasPrefix(prefix) {
			s.drop(k)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("cache prefix invalidated",
			zap.String("cache", s.name),
			zap.String("prefix", string(prefix)),
			zap.Int("count", n),
		)
	}
	return n
}

// IsFresh reports whether key holds a fresh entry
func (s *Store) IsFresh(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	return ok && e.Fresh(s.now())
}

// Expire keeps the value but marks it stale
func (s *Store) Expire(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return false
	}
	e.TTL = 0
	s.bump(e)
	return true
}

// Patch replaces the value of an existing entry. Fetch time, TTL and set
// order are preserved. It returns false if the key is absent.
func (s *Store) Patch(key Key, fn func(old any) any) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return Entry{}, false
	}
	e.Value = fn(e.Value)
	s.bump(e)
	return *e, true
}

// Restore reinstates a snapshot exactly as it was
func (s *Store) Restore(snapshot Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(snapshot.Key, snapshot.Value, snapshot.FetchedAt, snapshot.TTL)
}

// CompareAndRestore reinstates snapshot (or removes the key when present is
// false) only if nobody wrote key since version.
func (s *Store) CompareAndRestore(key Key, version uint64, snapshot Entry, present bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentVersion(key) != version {
		return false
	}
	if present {
		s.write(key, snapshot.Value, snapshot.FetchedAt, snapshot.TTL)
	} else {
		s.drop(key)
	}
	return true
}

// Version returns key's current version, or 0 when absent
func (s *Store) Version(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentVersion(key)
}

// Do runs fetch at most once at a time per key. Concurrent callers for the
// same key wait for and share the first caller's result. A caller whose ctx
// ends stops waiting, but the shared fetch keeps running for the others.
func (s *Store) Do(ctx context.Context, key Key, fetch func(ctx context.Context) (any, error)) (FetchResult, error) {
	fetchCtx := context.WithoutCancel(ctx)
	s.mu.Lock()
	epoch := s.epochs[key]
	s.mu.Unlock()

	flightKey := string(key) + "@" + strconv.FormatUint(epoch, 10)
	ch := s.flight.DoChan(flightKey, func() (any, error) {
		s.trackInflight(key, 1)
		defer s.trackInflight(key, -1)

		version := s.Version(key)
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		return flightValue{value: v, version: version}, nil
	})

	select {
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return FetchResult{Shared: r.Shared}, r.Err
		}
		fv := r.Val.(flightValue)
		return FetchResult{Value: fv.value, Version: fv.version, Epoch: epoch, Shared: r.Shared}, nil
	}
}

// Inflight reports whether a fetch for key is running
func (s *Store) Inflight(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[key] > 0
}

// Len returns the number of entries, including ones past MaxAge not yet dropped
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns all keys, sorted
func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Entries returns copies of the entries under prefix, sorted by key. Unlike
// Get it does not count as a hit or miss.
func (s *Store) Entries(prefix Key) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for k, e := range s.entries {
		if k.HasPrefix(prefix) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Clear drops all entries
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[Key]*Entry)
	s.order.reset()
	s.metrics.SetCacheEntries(s.name, 0)
}

// Stats returns a snapshot of the store counters
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Entries = len(s.entries)
	for _, n := range s.inflight {
		if n > 0 {
			st.Inflight++
		}
	}
	return st
}

// lookup returns the live entry, dropping it if it outlived MaxAge.
// Caller holds s.mu.
func (s *Store) lookup(key Key) (*Entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.Age(s.now()) >= s.maxAge {
		s.drop(key)
		s.stats.Expirations++
		s.metrics.RecordExpiration(s.name)
		return nil, false
	}
	return e, true
}

func (s *Store) currentVersion(key Key) uint64 {
	e, ok := s.lookup(key)
	if !ok {
		return 0
	}
	return e.Version
}

func (s *Store) write(key Key, value any, fetchedAt time.Time, ttl time.Duration) Entry {
	e := &Entry{Key: key, Value: value, FetchedAt: fetchedAt, TTL: ttl}
	s.bump(e)
	s.entries[key] = e
	s.order.touch(key)
	s.stats.Sets++

	if s.capacity > 0 {
		for len(s.entries) > s.capacity {
			oldest, ok := s.order.oldest()
			if !ok || oldest == key {
				break
			}
			s.drop(oldest)
			s.stats.Evictions++
			s.metrics.RecordEviction(s.name)
			s.logger.Debug("cache entry evicted",
				zap.String("cache", s.name),
				zap.String("key", string(oldest)),
			)
		}
	}
	s.metrics.SetCacheEntries(s.name, len(s.entries))
	return *e
}

func (s *Store) bump(e *Entry) {
	s.version++
	e.Version = s.version
}

func (s *Store) supersede(key Key) {
	s.epochSeq++
	s.epochs[key] = s.epochSeq
}

func (s *Store) drop(key Key) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	s.order.remove(key)
	s.metrics.SetCacheEntries(s.name, len(s.entries))
}

func (s *Store) trackInflight(key Key, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight[key] += delta
	if s.inflight[key] <= 0 {
		delete(s.inflight, key)
	}
}
