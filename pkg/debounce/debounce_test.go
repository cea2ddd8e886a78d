package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quiet = 40 * time.Millisecond

func TestBurstCoalescesToOne(t *testing.T) {
	var calls atomic.Int32
	w := New(quiet, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		w.Signal()
		time.Sleep(5 * time.Millisecond)
	}

	assert.True(t, w.Pending())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(3 * quiet)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, w.Pending())
}

func TestSpacedSignalsFireEach(t *testing.T) {
	var calls atomic.Int32
	w := New(quiet, func() { calls.Add(1) })

	for i := 1; i <= 3; i++ {
		w.Signal()
		want := int32(i)
		require.Eventually(t, func() bool { return calls.Load() == want }, time.Second, time.Millisecond)
		time.Sleep(quiet / 2)
	}
	assert.Equal(t, uint64(3), w.Fired())
}

func TestFiresAfterLastSignal(t *testing.T) {
	var firedAt atomic.Int64
	w := New(quiet, func() { firedAt.Store(time.Now().UnixNano()) })

	w.Signal()
	time.Sleep(quiet / 2)
	w.Signal()
	last := time.Now()

	require.Eventually(t, func() bool { return firedAt.Load() != 0 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Duration(firedAt.Load()-last.UnixNano()), quiet-5*time.Millisecond)
}

func TestStopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	w := New(quiet, func() { calls.Add(1) })

	w.Signal()
	w.Stop()
	w.Signal()

	time.Sleep(3 * quiet)
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, w.Pending())
}

func TestFlush(t *testing.T) {
	var calls atomic.Int32
	w := New(time.Hour, func() { calls.Add(1) })

	assert.False(t, w.Flush())
	w.Signal()
	assert.True(t, w.Flush())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, w.Pending())
}

func TestGroupKeepsTopicsApart(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}
	g := NewGroup(quiet, func(topic string) {
		mu.Lock()
		fired[topic]++
		mu.Unlock()
	})
	g.SetQuiet("conversations", 2*quiet)

	g.Signal("votes")
	g.Signal("votes")
	g.Signal("conversations")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired["votes"] == 1 && fired["conversations"] == 1
	}, time.Second, time.Millisecond)
}

func TestGroupStop(t *testing.T) {
	var calls atomic.Int32
	g := NewGroup(quiet, func(string) { calls.Add(1) })

	g.Signal("a")
	assert.True(t, g.Pending("a"))
	g.Stop()
	g.Signal("b")

	time.Sleep(3 * quiet)
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, g.Pending("b"))
}
