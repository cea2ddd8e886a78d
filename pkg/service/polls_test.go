package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// pollBackend serves poll_votes rows from a mutable list
type pollBackend struct {
	mu    sync.Mutex
	votes []api.PollVote
}

func (b *pollBackend) set(votes ...api.PollVote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.votes = votes
}

func (b *pollBackend) query(_ context.Context, q remote.Query) (*remote.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []api.PollVote
	for _, v := range b.votes {
		if userFilter(q) != "" && v.UserID != userFilter(q) {
			continue
		}
		out = append(out, v)
	}
	if out == nil {
		out = []api.PollVote{}
	}
	return remote.NewResult(out)
}

func userFilter(q remote.Query) string {
	for _, f := range q.Filters {
		if f.Column == "user_id" {
			return f.Value
		}
	}
	return ""
}

func votes(counts map[int]int) []api.PollVote {
	var out []api.PollVote
	for option, n := range counts {
		for i := 0; i < n; i++ {
			out = append(out, api.PollVote{OptionIndex: option, UserID: "other"})
		}
	}
	return out
}

func newPolls(t *testing.T) (*Polls, *remote.MockClient, *pollBackend) {
	t.Helper()
	mock := remote.NewMockClient()
	backend := &pollBackend{}
	backend.set(votes(map[int]int{0: 3, 1: 5})...)
	mock.QueryFunc = backend.query

	p := NewPolls(newDeps(t, mock))
	t.Cleanup(p.Close)
	return p, mock, backend
}

func TestVoteProjectsTallyBeforeConfirmation(t *testing.T) {
	polls, mock, backend := newPolls(t)
	ctx := context.Background()

	r := polls.Tally(ctx, "p1")
	require.NoError(t, r.Err)
	require.Equal(t, 8, r.Value.Total)

	release := mock.Hold()
	done := make(chan syncer.MutationResult[api.PollTally], 1)
	go func() { done <- polls.Vote(ctx, "p1", 1) }()
	waitForMutate(t, mock, api.TablePollVotes)

	projected, ok := polls.Peek("p1")
	require.True(t, ok)
	assert.Equal(t, map[int]int{0: 3, 1: 6}, projected.Counts)
	assert.Equal(t, 9, projected.Total)
	assert.Equal(t, map[int]int{0: 33, 1: 67}, projected.Percentages())

	backend.set(append(votes(map[int]int{0: 3, 1: 5}), api.PollVote{OptionIndex: 1, UserID: testUser})...)
	release()

	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, syncer.EditConfirmed, res.Edit.Status)
	require.NotNil(t, res.Reloaded)
	assert.Equal(t, map[int]int{0: 3, 1: 6}, res.Value.Counts)
	require.NotNil(t, res.Value.UserVote)
	assert.Equal(t, 1, *res.Value.UserVote)

	m := mutations(mock, api.TablePollVotes)[0]
	assert.Equal(t, remote.OpUpsert, m.Op)
}

func TestVoteRollsBackOnFailure(t *testing.T) {
	polls, mock, _ := newPolls(t)
	ctx := context.Background()
	require.NoError(t, polls.Tally(ctx, "p1").Err)

	mock.MutateFunc = func(context.Context, remote.Mutation) (*remote.Result, error) {
		return nil, serrors.TransientFetchError(errors.New("offline"))
	}

	res := polls.Vote(ctx, "p1", 0)
	require.Error(t, res.Err)
	assert.True(t, serrors.IsTransient(res.Err))
	assert.Equal(t, syncer.EditRolledBack, res.Edit.Status)

	tally, ok := polls.Peek("p1")
	require.True(t, ok)
	assert.Equal(t, map[int]int{0: 3, 1: 5}, tally.Counts)
	assert.Equal(t, 8, tally.Total)
	assert.Nil(t, tally.UserVote)
}

func TestVoteValidation(t *testing.T) {
	polls, mock, _ := newPolls(t)

	res := polls.Vote(context.Background(), "p1", -1)
	assert.True(t, serrors.IsValidation(res.Err))

	anon := NewPolls(newDeps(t, mock, func(d *Deps) { d.UserID = "" }))
	defer anon.Close()
	res = anon.Vote(context.Background(), "p1", 0)
	assert.Error(t, res.Err)

	assert.True(t, mock.AssertNotCalled("Mutate"))
}

func TestWatchPollRefreshesAfterVotes(t *testing.T) {
	polls, mock, backend := newPolls(t)

	results := make(chan syncer.Result[api.PollTally], 4)
	sub := polls.Watch(context.Background(), "p1", func(r syncer.Result[api.PollTally]) { results <- r })
	defer sub.Dispose()
	assert.Equal(t, syncer.ModeRealtime, sub.Mode())

	backend.set(votes(map[int]int{0: 4, 1: 5})...)
	mock.EmitInsert(api.TablePollVotes, map[string]any{"post_id": "p1", "option_index": 0})
	mock.EmitInsert(api.TablePollVotes, map[string]any{"post_id": "p1", "option_index": 0})

	select {
	case r := <-results:
		require.NoError(t, r.Err)
		assert.Equal(t, 9, r.Value.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after votes")
	}
	assert.Empty(t, results)
}
