package api

import (
	"context"
	"time"

	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// FeedParams selects one feed page
type FeedParams struct {
	Page  int
	Limit int
}

// NotificationParams selects one page of a user's notifications
type NotificationParams struct {
	UserID string
	Page   int
	Limit  int
}

// MessageParams selects the latest messages of a conversation
type MessageParams struct {
	ConversationID string
	Limit          int
}

// ContentParams selects a creator's content performance list
type ContentParams struct {
	CreatorID string
	Limit     int
}

// TrendParams selects one engagement series
type TrendParams struct {
	CreatorID string
	Period    string
	Metric    string
}

// RevenueParams selects a revenue breakdown
type RevenueParams struct {
	CreatorID string
	Period    string
}

// FeedSource serves feed pages
func (c *Client) FeedSource() syncer.DataSource[FeedParams, []Post] {
	return syncer.SourceFuncs[FeedParams, []Post]{
		KeyFunc: func(p FeedParams) cache.Key { return Keys.Posts.Feed(p.Page) },
		FetchFunc: func(ctx context.Context, p FeedParams) ([]Post, error) {
			return c.Feed(ctx, p.Page, p.Limit)
		},
	}
}

// PostSource serves post details with userID's like and save state
func (c *Client) PostSource(userID string) syncer.DataSource[string, Post] {
	return syncer.SourceFuncs[string, Post]{
		KeyFunc: Keys.Posts.Detail,
		FetchFunc: func(ctx context.Context, postID string) (Post, error) {
			return c.PostWithInteractions(ctx, postID, userID)
		},
	}
}

// CommentsSource serves the comment list of a post
func (c *Client) CommentsSource() syncer.DataSource[string, []Comment] {
	return syncer.SourceFuncs[string, []Comment]{
		KeyFunc:   Keys.Comments,
		FetchFunc: c.Comments,
	}
}

// PollSource serves the tally of a poll post as seen by userID
func (c *Client) PollSource(userID string) syncer.DataSource[string, PollTally] {
	return syncer.SourceFuncs[string, PollTally]{
		KeyFunc: Keys.Poll,
		FetchFunc: func(ctx context.Context, postID string) (PollTally, error) {
			return c.PollTally(ctx, postID, userID)
		},
	}
}

// NotificationsSource serves notification pages
func (c *Client) NotificationsSource() syncer.DataSource[NotificationParams, NotificationPage] {
	return syncer.SourceFuncs[NotificationParams, NotificationPage]{
		KeyFunc: func(p NotificationParams) cache.Key { return Keys.Notifications.List(p.UserID, p.Page) },
		FetchFunc: func(ctx context.Context, p NotificationParams) (NotificationPage, error) {
			return c.Notifications(ctx, p.UserID, p.Page, p.Limit)
		},
	}
}

// UnreadCountSource serves a user's unread notification count
func (c *Client) UnreadCountSource() syncer.DataSource[string, int] {
	return syncer.SourceFuncs[string, int]{
		KeyFunc:   Keys.Notifications.Unread,
		FetchFunc: c.UnreadCount,
	}
}

// ConversationsSource serves a user's inbox
func (c *Client) ConversationsSource() syncer.DataSource[string, []Conversation] {
	return syncer.SourceFuncs[string, []Conversation]{
		KeyFunc:   Keys.Conversations.List,
		FetchFunc: c.Conversations,
	}
}

// MessagesSource serves the latest messages of a conversation
func (c *Client) MessagesSource() syncer.DataSource[MessageParams, []Message] {
	return syncer.SourceFuncs[MessageParams, []Message]{
		KeyFunc: func(p MessageParams) cache.Key { return Keys.Conversations.Messages(p.ConversationID) },
		FetchFunc: func(ctx context.Context, p MessageParams) ([]Message, error) {
			return c.Messages(ctx, p.ConversationID, p.Limit)
		},
	}
}

// PresenceSource serves one user's presence. A user with no row is offline.
func (c *Client) PresenceSource() syncer.DataSource[string, Presence] {
	return syncer.SourceFuncs[string, Presence]{
		KeyFunc: Keys.Presence,
		FetchFunc: func(ctx context.Context, userID string) (Presence, error) {
			rows, err := c.PresenceBatch(ctx, []string{userID})
			if err != nil {
				return Presence{}, err
			}
			for _, p := range rows {
				if p.UserID == userID {
					return p, nil
				}
			}
			return Presence{UserID: userID, Status: StatusOffline}, nil
		},
	}
}

// StoriesSource serves the active stories with userID's viewed flags. now
// is the clock used for the expiry filter.
func (c *Client) StoriesSource(userID string, now func() time.Time) syncer.DataSource[struct{}, []Story] {
	if now == nil {
		now = time.Now
	}
	return syncer.SourceFuncs[struct{}, []Story]{
		KeyFunc: func(struct{}) cache.Key { return Keys.Stories() },
		FetchFunc: func(ctx context.Context, _ struct{}) ([]Story, error) {
			stories, err := c.ActiveStories(ctx, now())
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(stories))
			for i, s := range stories {
				ids[i] = s.ID
			}
			viewed, err := c.ViewedStories(ctx, userID, ids)
			if err != nil {
				return nil, err
			}
			for i := range stories {
				stories[i].Viewed = viewed[stories[i].ID]
			}
			return stories, nil
		},
	}
}

// OverviewSource serves a creator's analytics overview
func (c *Client) OverviewSource() syncer.DataSource[string, AnalyticsOverview] {
	return syncer.SourceFuncs[string, AnalyticsOverview]{
		KeyFunc:   Keys.Analytics.Overview,
		FetchFunc: c.AnalyticsOverview,
	}
}

// ContentSource serves content performance lists
func (c *Client) ContentSource() syncer.DataSource[ContentParams, []ContentPerformance] {
	return syncer.SourceFuncs[ContentParams, []ContentPerformance]{
		KeyFunc: func(p ContentParams) cache.Key { return Keys.Analytics.Content(p.CreatorID, p.Limit) },
		FetchFunc: func(ctx context.Context, p ContentParams) ([]ContentPerformance, error) {
			return c.ContentPerformance(ctx, p.CreatorID, p.Limit)
		},
	}
}

// TrendSource serves engagement series
func (c *Client) TrendSource() syncer.DataSource[TrendParams, EngagementTrend] {
	return syncer.SourceFuncs[TrendParams, EngagementTrend]{
		KeyFunc: func(p TrendParams) cache.Key { return Keys.Analytics.Engagement(p.CreatorID, p.Period, p.Metric) },
		FetchFunc: func(ctx context.Context, p TrendParams) (EngagementTrend, error) {
			return c.EngagementTrend(ctx, p.CreatorID, p.Period, p.Metric)
		},
	}
}

// AudienceSource serves audience demographics
func (c *Client) AudienceSource() syncer.DataSource[string, AudienceDemographics] {
	return syncer.SourceFuncs[string, AudienceDemographics]{
		KeyFunc:   Keys.Analytics.Audience,
		FetchFunc: c.AudienceDemographics,
	}
}

// RevenueSource serves revenue breakdowns
func (c *Client) RevenueSource() syncer.DataSource[RevenueParams, RevenueBreakdown] {
	return syncer.SourceFuncs[RevenueParams, RevenueBreakdown]{
		KeyFunc: func(p RevenueParams) cache.Key { return Keys.Analytics.Revenue(p.CreatorID, p.Period) },
		FetchFunc: func(ctx context.Context, p RevenueParams) (RevenueBreakdown, error) {
			return c.RevenueBreakdown(ctx, p.CreatorID, p.Period)
		},
	}
}

// ProfileSource serves profiles by username
func (c *Client) ProfileSource() syncer.DataSource[string, Profile] {
	return syncer.SourceFuncs[string, Profile]{
		KeyFunc:   Keys.Profiles.ByUsername,
		FetchFunc: c.Profile,
	}
}

// FollowersSource serves the followers of a user
func (c *Client) FollowersSource() syncer.DataSource[string, []Profile] {
	return syncer.SourceFuncs[string, []Profile]{
		KeyFunc:   Keys.Profiles.Followers,
		FetchFunc: c.Followers,
	}
}

// FollowingSource serves the users a user follows
func (c *Client) FollowingSource() syncer.DataSource[string, []Profile] {
	return syncer.SourceFuncs[string, []Profile]{
		KeyFunc:   Keys.Profiles.Following,
		FetchFunc: c.Following,
	}
}

// FollowStatusSource serves whether one user follows another
func (c *Client) FollowStatusSource() syncer.DataSource[FollowParams, bool] {
	return syncer.SourceFuncs[FollowParams, bool]{
		KeyFunc:   func(p FollowParams) cache.Key { return Keys.Profiles.FollowStatus(p.FollowingID, p.FollowerID) },
		FetchFunc: c.IsFollowing,
	}
}
