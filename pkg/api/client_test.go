package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

func newTestClient(t *testing.T) (*Client, *remote.MockClient) {
	t.Helper()
	mock := remote.NewMockClient()
	return NewClient(mock, nil), mock
}

func hasFilter(filters []remote.Filter, column, value string) bool {
	for _, f := range filters {
		if f.Column == column && f.Value == value {
			return true
		}
	}
	return false
}

func lastMutation(t *testing.T, mock *remote.MockClient) remote.Mutation {
	t.Helper()
	calls := mock.GetCallsForMethod("Mutate")
	require.NotEmpty(t, calls)
	return calls[len(calls)-1].Args[1].(remote.Mutation)
}

func TestFeedQuery(t *testing.T) {
	c, mock := newTestClient(t)
	mock.SetRows(TablePosts, []Post{{ID: gofakeit.UUID(), Content: gofakeit.HipsterSentence()}})

	posts, err := c.Feed(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	q := mock.GetCallsForMethod("Query")[0].Args[1].(remote.Query)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, 20, q.Offset)
	assert.True(t, hasFilter(q.Filters, "status", "published"))
	assert.Equal(t, []remote.Order{{Column: "created_at", Desc: true}}, q.Order)
}

func TestPostNotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Post(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, serrors.ErrorTypeNotFound, serrors.TypeOf(err))

	_, err = c.Post(context.Background(), "")
	assert.True(t, serrors.IsValidation(err))
}

func TestPostWithInteractions(t *testing.T) {
	c, mock := newTestClient(t)
	mock.QueryFunc = func(_ context.Context, q remote.Query) (*remote.Result, error) {
		switch q.Table {
		case TablePosts:
			return remote.NewResult(Post{ID: "p1", LikeCount: 4})
		case TablePostLikes:
			return &remote.Result{Count: 1}, nil
		default:
			return &remote.Result{Count: 0}, nil
		}
	}

	post, err := c.PostWithInteractions(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, post.LikeCount)
	assert.True(t, post.IsLiked)
	assert.False(t, post.IsSaved)
}

func TestLikeIgnoresDuplicate(t *testing.T) {
	c, mock := newTestClient(t)
	mock.MutateFunc = func(context.Context, remote.Mutation) (*remote.Result, error) {
		return nil, serrors.ConflictError("duplicate key", nil)
	}

	require.NoError(t, c.Like(context.Background(), "p1", "u1"))

	err := c.Unlike(context.Background(), "p1", "u1")
	assert.True(t, serrors.IsConflict(err))

	m := lastMutation(t, mock)
	assert.Equal(t, remote.OpDelete, m.Op)
	assert.True(t, hasFilter(m.Filters, "post_id", "p1"))
	assert.True(t, hasFilter(m.Filters, "user_id", "u1"))
}

func TestValidateComment(t *testing.T) {
	content, err := ValidateComment("  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	_, err = ValidateComment("   ")
	assert.True(t, serrors.IsValidation(err))

	long := make([]rune, MaxCommentLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = ValidateComment(string(long))
	assert.True(t, serrors.IsValidation(err))

	_, err = ValidateComment(string(long[:MaxCommentLength]))
	assert.NoError(t, err)
}

func TestAddCommentRejectsEmptyWithoutWrite(t *testing.T) {
	c, mock := newTestClient(t)

	_, err := c.AddComment(context.Background(), "p1", "u1", "")
	assert.True(t, serrors.IsValidation(err))
	assert.True(t, mock.AssertNotCalled("Mutate"))

	comment, err := c.AddComment(context.Background(), "p1", "u1", "nice")
	require.NoError(t, err)
	assert.Equal(t, "nice", comment.Content)
	assert.Equal(t, "p1", comment.PostID)
}

func TestPollTallyFromBackend(t *testing.T) {
	c, mock := newTestClient(t)
	mock.QueryFunc = func(_ context.Context, q remote.Query) (*remote.Result, error) {
		if hasFilter(q.Filters, "user_id", "u1") {
			return remote.NewResult([]PollVote{{OptionIndex: 1}})
		}
		return remote.NewResult([]PollVote{{OptionIndex: 0}, {OptionIndex: 1}, {OptionIndex: 1}})
	}

	tally, err := c.PollTally(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1, 1: 2}, tally.Counts)
	assert.Equal(t, 3, tally.Total)
	require.NotNil(t, tally.UserVote)
	assert.Equal(t, 1, *tally.UserVote)
}

func TestSubmitVoteUpserts(t *testing.T) {
	c, mock := newTestClient(t)

	require.NoError(t, c.SubmitVote(context.Background(), "p1", "u1", 2))
	m := lastMutation(t, mock)
	assert.Equal(t, remote.OpUpsert, m.Op)
	assert.Equal(t, "post_id,user_id", m.OnConflict)
	assert.Equal(t, 2, m.Payload.(map[string]any)["option_index"])
}

func TestNotificationsPaging(t *testing.T) {
	c, mock := newTestClient(t)
	items := make([]Notification, 2)
	for i := range items {
		items[i] = Notification{ID: gofakeit.UUID(), Type: "like"}
	}
	mock.SetRows(TableNotifications, items)
	mock.SetCount(TableNotifications, 7)

	page, err := c.Notifications(context.Background(), "u1", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 1, page.Page)

	page, err = c.Notifications(context.Background(), "u1", 0, 5)
	require.NoError(t, err)
	assert.False(t, page.HasMore)

	n, err := c.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	q := mock.GetCallsForMethod("Query")[2].Args[1].(remote.Query)
	assert.True(t, q.Head)
	assert.True(t, hasFilter(q.Filters, "is_read", "false"))
}

func TestMarkAllNotificationsRead(t *testing.T) {
	c, mock := newTestClient(t)

	require.NoError(t, c.MarkAllNotificationsRead(context.Background(), "u1"))
	calls := mock.GetCallsForMethod("RPC")
	require.Len(t, calls, 1)
	assert.Equal(t, "mark_all_notifications_read", calls[0].Args[0])
}

func TestConversationsWithDetails(t *testing.T) {
	c, mock := newTestClient(t)
	older := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	mock.QueryFunc = func(_ context.Context, q remote.Query) (*remote.Result, error) {
		switch {
		case q.Table == TableConversationParticipants && q.Select == membershipSelect:
			return remote.NewResult([]map[string]any{
				{"conversation_id": "c1", "conversations": map[string]any{"id": "c1", "type": "direct", "updated_at": older}},
				{"conversation_id": "c2", "conversations": map[string]any{"id": "c2", "type": "group", "name": "Band", "updated_at": newer}},
				{"conversation_id": "c3"},
			})
		case q.Table == TableConversationParticipants:
			return remote.NewResult([]Participant{{UserID: "u2", Profile: &Profile{Username: "bob", AvatarURL: "a.png"}}})
		case q.Table == TableMessages:
			convID := q.Filters[0].Value
			return remote.NewResult([]Message{{ID: "m-" + convID, ConversationID: convID}})
		}
		return nil, errors.New("unexpected query")
	}
	mock.RPCFunc = func(ctx context.Context, fn string, _ any) (*remote.Result, error) {
		assert.True(t, remote.IsReadOnly(ctx))
		assert.Equal(t, "get_unread_count", fn)
		return remote.NewResult(3)
	}

	convs, err := c.Conversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "Band", convs[0].Name)
	assert.Equal(t, "c1", convs[1].ID)
	assert.Equal(t, "bob", convs[1].Name)
	assert.Equal(t, "a.png", convs[1].AvatarURL)
	assert.Equal(t, 3, convs[1].UnreadCount)
	require.NotNil(t, convs[1].LastMessage)
	assert.Equal(t, "m-c1", convs[1].LastMessage.ID)
}

func TestConversationDetailFailure(t *testing.T) {
	c, mock := newTestClient(t)
	mock.SetRows(TableConversationParticipants, []map[string]any{
		{"conversation_id": "c1", "conversations": map[string]any{"id": "c1", "type": "group"}},
	})
	mock.RPCFunc = func(context.Context, string, any) (*remote.Result, error) {
		return nil, serrors.TransientFetchError(errors.New("boom"))
	}

	_, err := c.Conversations(context.Background(), "u1")
	assert.True(t, serrors.IsTransient(err))
}

func TestMessagesOldestFirst(t *testing.T) {
	c, mock := newTestClient(t)
	mock.SetRows(TableMessages, []Message{{ID: "m3"}, {ID: "m2"}, {ID: "m1"}})

	msgs, err := c.Messages(context.Background(), "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestCreateGroup(t *testing.T) {
	c, mock := newTestClient(t)
	mock.MutateFunc = func(_ context.Context, m remote.Mutation) (*remote.Result, error) {
		if m.Table == TableConversations {
			return remote.NewResult([]map[string]string{{"id": "g1"}})
		}
		return &remote.Result{}, nil
	}

	_, err := c.CreateGroup(context.Background(), "u1", "", []string{"u2"})
	assert.True(t, serrors.IsValidation(err))

	id, err := c.CreateGroup(context.Background(), "u1", "Band", []string{"u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, "g1", id)

	m := lastMutation(t, mock)
	assert.Equal(t, TableConversationParticipants, m.Table)
	assert.Len(t, m.Payload.([]map[string]string), 3)
}

func TestPresenceSourceDefaultsOffline(t *testing.T) {
	c, mock := newTestClient(t)
	mock.SetRPCResult("get_user_presence_batch", []Presence{{UserID: "u1", Status: StatusAway}})

	src := c.PresenceSource()
	p, err := src.Fetch(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusAway, p.Status)

	p, err = src.Fetch(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, p.Status)
	assert.Equal(t, "presence/u9", src.Key("u9").String())
}

func TestUpsertPresenceValidatesStatus(t *testing.T) {
	c, mock := newTestClient(t)

	err := c.UpsertPresence(context.Background(), "u1", "busy", nil)
	assert.True(t, serrors.IsValidation(err))

	conv := "c1"
	require.NoError(t, c.UpsertPresence(context.Background(), "u1", StatusOnline, &conv))
	m := lastMutation(t, mock)
	assert.Equal(t, "user_id", m.OnConflict)
	assert.Equal(t, &conv, m.Payload.(map[string]any)["typing_in_conversation"])
}

func TestStoriesSourceMarksViewed(t *testing.T) {
	c, mock := newTestClient(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.SetRows(TableStories, []Story{{ID: "s1", CreatorID: "a"}, {ID: "s2", CreatorID: "b"}})
	mock.SetRows(TableStoryViews, []map[string]string{{"story_id": "s2"}})

	stories, err := c.StoriesSource("u1", func() time.Time { return now }).Fetch(context.Background(), struct{}{})
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.False(t, stories[0].Viewed)
	assert.True(t, stories[1].Viewed)

	q := mock.GetCallsForMethod("Query")[0].Args[1].(remote.Query)
	assert.True(t, hasFilter(q.Filters, "expires_at", now.Format(time.RFC3339)))
}

func TestMarkStoryViewedIsIdempotent(t *testing.T) {
	c, mock := newTestClient(t)
	mock.MutateFunc = func(context.Context, remote.Mutation) (*remote.Result, error) {
		err := serrors.ConflictError("duplicate", nil)
		err.Code = "23505"
		return nil, err
	}
	assert.NoError(t, c.MarkStoryViewed(context.Background(), "s1", "u1"))
}

func TestAnalyticsNullDefaults(t *testing.T) {
	c, mock := newTestClient(t)

	overview, err := c.AnalyticsOverview(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, overview.TotalViews)

	trend, err := c.EngagementTrend(context.Background(), "u1", PeriodWeek, "views")
	require.NoError(t, err)
	assert.NotNil(t, trend.Labels)

	mock.SetRPCResult("get_revenue_breakdown", RevenueBreakdown{PremiumContent: 10, Tips: 2.5})
	rev, err := c.RevenueBreakdown(context.Background(), "u1", PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, 12.5, rev.Total())

	_, err = c.AnalyticsOverview(context.Background(), "")
	assert.True(t, serrors.IsValidation(err))
}

func TestContentPerformanceEarnings(t *testing.T) {
	c, mock := newTestClient(t)
	mock.SetRows(TablePosts, []ContentPerformance{
		{ID: "p1", ViewCount: 1000},
		{ID: "p2", ViewCount: 1000, IsPremium: true, Price: 2.5},
	})

	rows, err := c.ContentPerformance(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 10.0, rows[0].Earnings)
	assert.Equal(t, 100.0, rows[1].Earnings)
}

func TestFollowersJoinProfiles(t *testing.T) {
	c, mock := newTestClient(t)
	fan := Profile{ID: gofakeit.UUID(), Username: gofakeit.Username()}
	mock.SetRows(TableFollowers, []map[string]any{
		{"follower_id": fan.ID, "profiles": fan},
		{"follower_id": gofakeit.UUID(), "profiles": nil},
	})

	followers, err := c.Followers(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, fan.Username, followers[0].Username)

	q := mock.GetCallsForMethod("Query")[0].Args[1].(remote.Query)
	assert.True(t, hasFilter(q.Filters, "following_id", "u1"))
	assert.Equal(t, "follower_id,profiles!follower_id(id,username,display_name,avatar_url,is_verified)", q.Select)
}

func TestFollowWrites(t *testing.T) {
	c, mock := newTestClient(t)
	ctx := context.Background()
	edge := FollowParams{FollowerID: "u1", FollowingID: "u2"}

	require.NoError(t, c.Follow(ctx, edge))
	assert.Equal(t, remote.OpInsert, lastMutation(t, mock).Op)

	require.NoError(t, c.Unfollow(ctx, edge))
	m := lastMutation(t, mock)
	assert.Equal(t, remote.OpDelete, m.Op)
	assert.True(t, hasFilter(m.Filters, "follower_id", "u1"))
	assert.True(t, hasFilter(m.Filters, "following_id", "u2"))

	err := c.Follow(ctx, FollowParams{FollowerID: "u1", FollowingID: "u1"})
	assert.True(t, serrors.IsValidation(err))

	mock.MutateFunc = func(context.Context, remote.Mutation) (*remote.Result, error) {
		return nil, serrors.ConflictError("duplicate", nil)
	}
	assert.NoError(t, c.Follow(ctx, edge), "following twice is not an error")
}

func TestIsFollowingCountsEdge(t *testing.T) {
	c, mock := newTestClient(t)
	ctx := context.Background()

	ok, err := c.IsFollowing(ctx, FollowParams{FollowerID: "u1", FollowingID: "u2"})
	require.NoError(t, err)
	assert.False(t, ok)

	mock.SetCount(TableFollowers, 1)
	ok, err = c.IsFollowing(ctx, FollowParams{FollowerID: "u1", FollowingID: "u2"})
	require.NoError(t, err)
	assert.True(t, ok)
}
