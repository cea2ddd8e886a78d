package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 20 * time.Millisecond

func TestPollsWhileActive(t *testing.T) {
	var calls atomic.Int32
	p := New(Config{
		Name:     "test",
		Interval: interval,
		Tick: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestPausesWhileInactive(t *testing.T) {
	vis := NewVisibility(false)
	var calls atomic.Int32
	p := New(Config{
		Interval:   interval,
		Visibility: vis,
		Tick: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	})
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(5 * interval)
	assert.Equal(t, int32(0), calls.Load())
	assert.Greater(t, p.Stats().SkippedInactive, uint64(0))

	vis.SetActive(true)
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)

	vis.SetActive(false)
	time.Sleep(2 * interval)
	paused := calls.Load()
	time.Sleep(5 * interval)
	assert.Equal(t, paused, calls.Load())
}

func TestSkipsWhilePreviousInFlight(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	p := New(Config{
		Interval: interval,
		Tick: func(ctx context.Context) error {
			started.Add(1)
			<-release
			return nil
		},
	})
	p.Start(context.Background())

	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(5 * interval)
	assert.Equal(t, int32(1), started.Load())
	assert.Greater(t, p.Stats().SkippedInflight, uint64(0))

	close(release)
	require.Eventually(t, func() bool { return started.Load() >= 2 }, time.Second, time.Millisecond)
	p.Stop()
}

func TestRefreshOnResume(t *testing.T) {
	vis := NewVisibility(false)
	var calls atomic.Int32
	p := New(Config{
		Interval:        time.Hour,
		Visibility:      vis,
		RefreshOnResume: true,
		Tick: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	})
	p.Start(context.Background())
	defer p.Stop()

	vis.SetActive(true)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestStopWaitsForTick(t *testing.T) {
	var finished atomic.Bool
	p := New(Config{
		Interval: interval,
		Tick: func(ctx context.Context) error {
			time.Sleep(3 * interval)
			finished.Store(true)
			return nil
		},
	})
	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.Stats().Ran == 1 }, time.Second, time.Millisecond)

	p.Stop()
	assert.True(t, finished.Load())
	p.Stop()
}

func TestVisibilityOnChange(t *testing.T) {
	vis := NewVisibility(true)
	var seen []bool
	unsubscribe := vis.OnChange(func(active bool) { seen = append(seen, active) })

	vis.SetActive(true)
	vis.SetActive(false)
	unsubscribe()
	vis.SetActive(true)

	assert.Equal(t, []bool{false}, seen)
	assert.True(t, (*Visibility)(nil).Active())
}
