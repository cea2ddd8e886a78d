package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	"github.com/zfogg/sidechain/clientsync/pkg/poller"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

const testUser = "u1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newDeps wires services to an in-memory backend with short timings
func newDeps(t *testing.T, mock *remote.MockClient, mutate ...func(*Deps)) Deps {
	t.Helper()
	d := Deps{
		API:        api.NewClient(mock, nil),
		Store:      cache.New(cache.Options{}),
		Subscriber: mock,
		Visibility: poller.NewVisibility(true),
		UserID:     testUser,
		Timings: Timings{
			StatusQuiet:      20 * time.Millisecond,
			TypingQuiet:      20 * time.Millisecond,
			TypingClear:      40 * time.Millisecond,
			DefaultPoll:      time.Hour,
			VotePoll:         time.Hour,
			NotificationPoll: time.Hour,
			ConversationPoll: time.Hour,
			AnalyticsPoll:    time.Hour,
		},
	}
	for _, fn := range mutate {
		fn(&d)
	}
	return d
}

func mutations(mock *remote.MockClient, table string) []remote.Mutation {
	var out []remote.Mutation
	for _, call := range mock.GetCallsForMethod("Mutate") {
		if call.Args[0] == table {
			out = append(out, call.Args[1].(remote.Mutation))
		}
	}
	return out
}

func queries(mock *remote.MockClient, table string) int {
	n := 0
	for _, call := range mock.GetCallsForMethod("Query") {
		if call.Args[0] == table {
			n++
		}
	}
	return n
}

func waitForMutate(t *testing.T, mock *remote.MockClient, table string) {
	t.Helper()
	require.Eventually(t, func() bool { return len(mutations(mock, table)) > 0 }, time.Second, 5*time.Millisecond)
}
