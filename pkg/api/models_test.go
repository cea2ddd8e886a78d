package api

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestPollTallyFirstVote(t *testing.T) {
	tally := TallyVotes([]PollVote{
		{OptionIndex: 0}, {OptionIndex: 0}, {OptionIndex: 0},
		{OptionIndex: 1}, {OptionIndex: 1}, {OptionIndex: 1}, {OptionIndex: 1}, {OptionIndex: 1},
	}, nil)
	require.Equal(t, 8, tally.Total)

	after := tally.WithVote(1)
	assert.Equal(t, map[int]int{0: 3, 1: 6}, after.Counts)
	assert.Equal(t, 9, after.Total)
	assert.Equal(t, map[int]int{0: 33, 1: 67}, after.Percentages())
	require.NotNil(t, after.UserVote)
	assert.Equal(t, 1, *after.UserVote)

	// original untouched
	assert.Equal(t, 5, tally.Counts[1])
	assert.Nil(t, tally.UserVote)
}

func TestPollTallyChangeVote(t *testing.T) {
	tally := PollTally{Counts: map[int]int{0: 3, 1: 5}, Total: 8, UserVote: intPtr(0)}

	moved := tally.WithVote(1)
	assert.Equal(t, map[int]int{0: 2, 1: 6}, moved.Counts)
	assert.Equal(t, 8, moved.Total)

	same := tally.WithVote(0)
	assert.Equal(t, tally.Counts, same.Counts)
	assert.Equal(t, 8, same.Total)
}

func TestPercentagesEmpty(t *testing.T) {
	tally := PollTally{Counts: map[int]int{0: 0, 1: 0}}
	assert.Equal(t, map[int]int{0: 0, 1: 0}, tally.Percentages())
	assert.Equal(t, []int{0, 1}, tally.Options())
}

func TestPresenceEffectiveStatus(t *testing.T) {
	now := time.Now()
	p := Presence{UserID: gofakeit.UUID(), Status: StatusOnline, LastSeenAt: now.Add(-time.Minute)}
	assert.Equal(t, StatusOnline, p.EffectiveStatus(now))

	p.LastSeenAt = now.Add(-6 * time.Minute)
	assert.Equal(t, StatusOffline, p.EffectiveStatus(now))

	conv := "c1"
	p.TypingInConversation = &conv
	assert.True(t, p.IsTypingIn("c1"))
	assert.False(t, p.IsTypingIn("c2"))
	assert.False(t, p.IsTypingIn(""))
}

func TestGroupStories(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stories := []Story{
		{ID: "a2", CreatorID: "a", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "b1", CreatorID: "b", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "a1", CreatorID: "a", CreatedAt: base},
		{ID: "c1", Creator: &Profile{ID: "c"}, CreatedAt: base.Add(time.Hour)},
		{ID: "orphan", CreatedAt: base},
	}

	groups := GroupStories(stories)
	require.Len(t, groups, 3)
	assert.Equal(t, "b", groups[0].CreatorID)
	assert.Equal(t, "a", groups[1].CreatorID)
	assert.Equal(t, "c", groups[2].CreatorID)

	assert.Equal(t, "a1", groups[1].Stories[0].ID)
	assert.Equal(t, "a2", groups[1].Latest.ID)
}

func TestEstimateEarnings(t *testing.T) {
	assert.Equal(t, 10.0, estimateEarnings(ContentPerformance{ViewCount: 1000}))
	// 1000*0.05 + 2.5*20
	assert.Equal(t, 100.0, estimateEarnings(ContentPerformance{ViewCount: 1000, IsPremium: true, Price: 2.5}))
	assert.Equal(t, 0.0, estimateEarnings(ContentPerformance{}))
}

func TestProfileName(t *testing.T) {
	var nilProfile *Profile
	assert.Equal(t, "Unknown User", nilProfile.Name())

	username := gofakeit.Username()
	assert.Equal(t, username, (&Profile{Username: username}).Name())
	assert.Equal(t, "Ada", (&Profile{Username: username, DisplayName: "Ada"}).Name())
}

func TestKeysPrefixes(t *testing.T) {
	assert.True(t, Keys.Posts.Feed(2).HasPrefix(Keys.Posts.Feeds()))
	assert.True(t, Keys.Posts.Feed(2).HasPrefix(Keys.Posts.All()))
	assert.False(t, Keys.Posts.Detail("1").HasPrefix(Keys.Posts.Feeds()))
	assert.True(t, Keys.Notifications.List("u1", 0).HasPrefix(Keys.Notifications.Lists("u1")))
	assert.True(t, Keys.Notifications.Unread("u1").HasPrefix(Keys.Notifications.All("u1")))
	assert.False(t, Keys.Notifications.Unread("u1").HasPrefix(Keys.Notifications.Lists("u1")))
	assert.True(t, Keys.Analytics.Revenue("c", PeriodMonth).HasPrefix(Keys.Analytics.All()))
	assert.Equal(t, "posts/poll/p1", Keys.Poll("p1").String())
}
