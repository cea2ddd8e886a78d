package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(clock *fakeClock, opts Options) *Store {
	opts.Clock = clock.Now
	return New(opts)
}

func TestFreshnessWindow(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Options{})
	key := NewKey("posts", "detail", "1")

	s.Set(key, "v1", 10*time.Second)
	assert.True(t, s.IsFresh(key), "fresh at t")

	clock.Advance(9*time.Second + 999*time.Millisecond)
	assert.True(t, s.IsFresh(key), "fresh just before t+ttl")

	clock.Advance(time.Millisecond)
	assert.False(t, s.IsFresh(key), "stale at t+ttl")

	e, ok := s.Get(key)
	require.True(t, ok, "stale entries are still served")
	assert.Equal(t, "v1", e.Value)
}

func TestSetResetsFetchedAt(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Options{})
	key := NewKey("poll", "7")

	s.Set(key, 1, time.Second)
	clock.Advance(5 * time.Second)
	assert.False(t, s.IsFresh(key))

	s.Set(key, 2, time.Second)
	assert.True(t, s.IsFresh(key))
	e, _ := s.Get(key)
	assert.Equal(t, clock.Now(), e.FetchedAt)
}

func TestMaxAgeIsAbsolute(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Options{MaxAge: time.Minute})
	key := NewKey("stories")

	s.Set(key, []string{"a"}, 10*time.Second)
	clock.Advance(59 * time.Second)
	_, ok := s.Get(key)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = s.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(1), s.Stats().Expirations)
}

func TestInvalidate(t *testing.T) {
	s := New(Options{})
	key := NewKey("notifications", "unread")

	s.Set(key, 3, time.Minute)
	s.Invalidate(key)

	_, ok := s.Get(key)
	assert.False(t, ok)
	assert.False(t, s.IsFresh(key))
}

func TestInvalidatePrefix(t *testing.T) {
	s := New(Options{})
	s.Set(NewKey("posts", "1"), "a", time.Minute)
	s.Set(NewKey("posts", "10"), "b", time.Minute)
	s.Set(NewKey("posts", "1", "comments"), "c", time.Minute)
	s.Set(NewKey("poll", "1"), "d", time.Minute)

	n := s.InvalidatePrefix(NewKey("posts", "1"))
	assert.Equal(t, 2, n)
	assert.Equal(t, []Key{"poll/1", "posts/10"}, s.Keys())
}

func TestEvictsLeastRecentlySet(t *testing.T) {
	s := New(Options{Capacity: 2})
	a, b, c := NewKey("a"), NewKey("b"), NewKey("c")

	s.Set(a, 1, time.Minute)
	s.Set(b, 2, time.Minute)

	// Reading a does not protect it; only sets reorder.
	_, _ = s.Get(a)
	s.Set(c, 3, time.Minute)

	_, ok := s.Get(a)
	assert.False(t, ok)
	_, ok = s.Get(b)
	assert.True(t, ok)

	// Re-setting b moves it ahead of c.
	s.Set(b, 22, time.Minute)
	s.Set(a, 11, time.Minute)
	_, ok = s.Get(c)
	assert.False(t, ok)
	assert.Equal(t, uint64(2), s.Stats().Evictions)
}

func TestPatchKeepsTimestamps(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Options{})
	key := NewKey("poll", "1")

	before := s.Set(key, 8, time.Minute)
	clock.Advance(10 * time.Second)

	after, ok := s.Patch(key, func(old any) any { return old.(int) + 1 })
	require.True(t, ok)
	assert.Equal(t, 9, after.Value)
	assert.Equal(t, before.FetchedAt, after.FetchedAt)
	assert.Equal(t, before.TTL, after.TTL)
	assert.Greater(t, after.Version, before.Version)

	_, ok = s.Patch(NewKey("missing"), func(old any) any { return old })
	assert.False(t, ok)
}

func TestExpireKeepsValue(t *testing.T) {
	s := New(Options{})
	key := NewKey("feed", "0")
	s.Set(key, "page", time.Hour)

	require.True(t, s.Expire(key))
	assert.False(t, s.IsFresh(key))
	e, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "page", e.Value)
}

func TestCompareAndRestore(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Options{})
	key := NewKey("comments", "9")

	snapshot := s.Set(key, "original", time.Minute)
	clock.Advance(3 * time.Second)
	patched, _ := s.Patch(key, func(any) any { return "optimistic" })

	ok := s.CompareAndRestore(key, patched.Version, snapshot, true)
	require.True(t, ok)
	e, _ := s.Get(key)
	assert.Equal(t, "original", e.Value)
	assert.Equal(t, snapshot.FetchedAt, e.FetchedAt)
	assert.Equal(t, snapshot.TTL, e.TTL)

	// A newer write wins over a late restore.
	s.Set(key, "server", time.Minute)
	assert.False(t, s.CompareAndRestore(key, patched.Version, snapshot, true))
	e, _ = s.Get(key)
	assert.Equal(t, "server", e.Value)
}

func TestSetFetchedChecksVersion(t *testing.T) {
	s := New(Options{})
	key := NewKey("presence", "u1")

	assert.True(t, s.SetFetched(key, "online", time.Second, FetchResult{}))
	assert.False(t, s.SetFetched(key, "away", time.Second, FetchResult{}))

	v := s.Version(key)
	assert.True(t, s.SetFetched(key, "away", time.Second, FetchResult{Version: v}))
	e, _ := s.Get(key)
	assert.Equal(t, "away", e.Value)
}

func TestDoSharesOneFetch(t *testing.T) {
	s := New(Options{})
	key := NewKey("posts", "feed", "0")

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "rows", nil
	}

	var wg sync.WaitGroup
	results := make([]FetchResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.Do(context.Background(), key, fetch)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	require.Eventually(t, func() bool { return s.Inflight(key) }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "rows", r.Value)
		assert.Equal(t, uint64(0), r.Version)
	}
	assert.False(t, s.Inflight(key))
}

func TestDoCallerCancelDoesNotCancelFetch(t *testing.T) {
	s := New(Options{})
	key := NewKey("analytics", "overview")

	release := make(chan struct{})
	done := make(chan error, 1)
	fetch := func(ctx context.Context) (any, error) {
		<-release
		done <- ctx.Err()
		return 1, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	callerErr := make(chan error, 1)
	go func() {
		_, err := s.Do(ctx, key, fetch)
		callerErr <- err
	}()
	require.Eventually(t, func() bool { return s.Inflight(key) }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-callerErr, context.Canceled)
	close(release)
	assert.NoError(t, <-done)
}

func TestDoPropagatesError(t *testing.T) {
	s := New(Options{})
	boom := errors.New("boom")

	_, err := s.Do(context.Background(), NewKey("x"), func(context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSupersedeStartsFreshFetch(t *testing.T) {
	s := New(Options{})
	key := NewKey("counter", "a")

	var calls atomic.Int32
	release := make(chan struct{})
	old := make(chan FetchResult, 1)
	go func() {
		r, err := s.Do(context.Background(), key, func(context.Context) (any, error) {
			calls.Add(1)
			<-release
			return 5, nil
		})
		assert.NoError(t, err)
		old <- r
	}()
	require.Eventually(t, func() bool { return s.Inflight(key) }, time.Second, time.Millisecond)

	s.Supersede(key)
	fresh, err := s.Do(context.Background(), key, func(context.Context) (any, error) {
		calls.Add(1)
		return 6, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, fresh.Value)
	assert.False(t, fresh.Shared)
	assert.True(t, s.SetFetched(key, fresh.Value, time.Minute, fresh))

	close(release)
	stale := <-old
	assert.Equal(t, 5, stale.Value)
	assert.False(t, s.SetFetched(key, stale.Value, time.Minute, stale))

	e, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, 6, e.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSetFetchedRejectsDroppedKey(t *testing.T) {
	s := New(Options{})
	key := NewKey("notifications", "unread")

	release := make(chan struct{})
	done := make(chan FetchResult, 1)
	go func() {
		r, _ := s.Do(context.Background(), key, func(context.Context) (any, error) {
			<-release
			return 5, nil
		})
		done <- r
	}()
	require.Eventually(t, func() bool { return s.Inflight(key) }, time.Second, time.Millisecond)

	// absent before and after, so only the generation tells them apart
	s.SupersedePrefix(NewKey("notifications"))
	close(release)
	r := <-done
	assert.False(t, s.SetFetched(key, r.Value, time.Minute, r))
	_, ok := s.Get(key)
	assert.False(t, ok)
}

func TestKeyHelpers(t *testing.T) {
	k := NewKey("conversations", "u1").Append("messages").AppendInt(3)
	assert.Equal(t, Key("conversations/u1/messages/3"), k)
	assert.Equal(t, "conversations", k.Feature())
	assert.Equal(t, []string{"conversations", "u1", "messages", "3"}, k.Segments())
	assert.True(t, k.HasPrefix(NewKey("conversations")))
	assert.False(t, k.HasPrefix(NewKey("conv")))
	assert.True(t, k.HasPrefix(""))
}

func TestEntriesDoesNotCountLookups(t *testing.T) {
	s := newTestStore(newFakeClock(), Options{})
	s.Set(NewKey("posts", "detail", "2"), "b", time.Minute)
	s.Set(NewKey("posts", "detail", "1"), "a", time.Minute)
	s.Set(NewKey("polls", "1"), 3, time.Minute)

	entries := s.Entries(NewKey("posts"))
	require.Len(t, entries, 2)
	assert.Equal(t, NewKey("posts", "detail", "1"), entries[0].Key)
	assert.Len(t, s.Entries(""), 3)

	st := s.Stats()
	assert.Zero(t, st.Hits)
	assert.Zero(t, st.Misses)
}
