package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

func newNotifications(t *testing.T) (*Notifications, *remote.MockClient) {
	t.Helper()
	mock := remote.NewMockClient()
	n := NewNotifications(newDeps(t, mock))
	t.Cleanup(n.Close)
	return n, mock
}

func fakeNotification(read bool) api.Notification {
	return api.Notification{
		ID:          gofakeit.UUID(),
		RecipientID: testUser,
		Type:        "like",
		Content:     gofakeit.HipsterSentence(),
		IsRead:      read,
		CreatedAt:   time.Now(),
	}
}

func TestNotificationBurstCausesOneRefetch(t *testing.T) {
	n, mock := newNotifications(t)
	mock.SetCount(api.TableNotifications, 5)

	var (
		mu    sync.Mutex
		fired []time.Time
	)
	sub := n.Watch(context.Background(), func(r syncer.Result[int]) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, time.Now())
	})
	defer sub.Dispose()

	for i := 0; i < 5; i++ {
		mock.EmitInsert(api.TableNotifications, fakeNotification(false))
		if i < 4 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	last := time.Now()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	delay := fired[0].Sub(last)
	assert.GreaterOrEqual(t, delay, 250*time.Millisecond)
	assert.Less(t, delay, time.Second)
	assert.Equal(t, 1, queries(mock, api.TableNotifications))

	r := n.UnreadCount(context.Background())
	require.NoError(t, r.Err)
	assert.Equal(t, 5, r.Value)
	assert.True(t, r.FromCache)
}

func TestHasNewFollowsUnreadGrowth(t *testing.T) {
	n, mock := newNotifications(t)
	mock.SetCount(api.TableNotifications, 2)
	require.NoError(t, n.UnreadCount(context.Background()).Err)
	assert.False(t, n.HasNew())

	got := make(chan int, 1)
	sub := n.Watch(context.Background(), func(r syncer.Result[int]) { got <- r.Value })
	defer sub.Dispose()

	mock.SetCount(api.TableNotifications, 3)
	mock.EmitInsert(api.TableNotifications, fakeNotification(false))

	select {
	case v := <-got:
		assert.Equal(t, 3, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no refetch")
	}
	assert.True(t, n.HasNew())

	res := n.MarkAllRead(context.Background())
	require.NoError(t, res.Err)
	assert.False(t, n.HasNew())
	assert.Equal(t, 0, res.Value)
	assert.True(t, mock.AssertCalled("RPC"))
}

func TestMarkReadDecrementsUnread(t *testing.T) {
	n, mock := newNotifications(t)
	unread, read := fakeNotification(false), fakeNotification(true)
	mock.SetRows(api.TableNotifications, []api.Notification{unread, read})
	mock.SetCount(api.TableNotifications, 4)

	ctx := context.Background()
	require.NoError(t, n.List(ctx, 0).Err)
	require.NoError(t, n.UnreadCount(ctx).Err)

	release := mock.Hold()
	done := make(chan syncer.MutationResult[int], 1)
	go func() { done <- n.MarkRead(ctx, unread.ID) }()
	waitForMutate(t, mock, api.TableNotifications)

	v, ok := n.unread.Peek(testUser)
	require.True(t, ok)
	assert.Equal(t, 3, v)
	release()
	require.NoError(t, (<-done).Err)

	// already read: no change
	require.NoError(t, n.List(ctx, 0).Err)
	mock.SetCount(api.TableNotifications, 3)
	require.NoError(t, n.UnreadCount(ctx).Err)
	res := n.MarkRead(ctx, read.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Value)
}

func TestConcurrentFailedMarkReadsRestoreCount(t *testing.T) {
	n, mock := newNotifications(t)
	a, b := fakeNotification(false), fakeNotification(false)
	mock.SetRows(api.TableNotifications, []api.Notification{a, b})
	mock.SetCount(api.TableNotifications, 5)

	ctx := context.Background()
	require.NoError(t, n.List(ctx, 0).Err)
	require.NoError(t, n.UnreadCount(ctx).Err)

	var calls sync.Mutex
	first := true
	releaseFirst := make(chan struct{})
	mock.MutateFunc = func(context.Context, remote.Mutation) (*remote.Result, error) {
		calls.Lock()
		hold := first
		first = false
		calls.Unlock()
		if hold {
			<-releaseFirst
		}
		return nil, serrors.TransientFetchError(errors.New("offline"))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.Error(t, n.MarkRead(ctx, a.ID).Err)
	}()
	waitForMutate(t, mock, api.TableNotifications)
	go func() {
		defer wg.Done()
		assert.Error(t, n.MarkRead(ctx, b.ID).Err)
	}()

	// b shares the unread count with a, so its write waits for a to settle
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, mutations(mock, api.TableNotifications), 1)
	close(releaseFirst)
	wg.Wait()

	v, ok := n.unread.Peek(testUser)
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Len(t, mutations(mock, api.TableNotifications), 2)
}

func TestDeleteNotificationRollsBack(t *testing.T) {
	n, mock := newNotifications(t)
	a, b := fakeNotification(false), fakeNotification(true)
	mock.SetRows(api.TableNotifications, []api.Notification{a, b})
	ctx := context.Background()
	require.NoError(t, n.List(ctx, 0).Err)

	mock.MutateFunc = func(context.Context, remote.Mutation) (*remote.Result, error) {
		return nil, serrors.TransientFetchError(errors.New("offline"))
	}
	res := n.Delete(ctx, a.ID)
	require.Error(t, res.Err)

	page, ok := n.list.Peek(n.params(0))
	require.True(t, ok)
	assert.Len(t, page.Items, 2)

	mock.MutateFunc = nil
	res = n.Delete(ctx, a.ID)
	require.NoError(t, res.Err)
	require.Len(t, res.Value.Items, 1)
	assert.Equal(t, b.ID, res.Value.Items[0].ID)
}

func TestNotificationsRequireUser(t *testing.T) {
	mock := remote.NewMockClient()
	n := NewNotifications(newDeps(t, mock, func(d *Deps) { d.UserID = "" }))
	defer n.Close()

	assert.Equal(t, serrors.ErrorTypeAuth, serrors.TypeOf(n.List(context.Background(), 0).Err))
	assert.True(t, mock.AssertNotCalled("Query"))
}
