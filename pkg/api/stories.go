package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

const storySelect = "*,profiles!creator_id(id,username,display_name,avatar_url,is_verified)"

// ActiveStories retrieves stories that have not expired at now, newest first
func (c *Client) ActiveStories(ctx context.Context, now time.Time) ([]Story, error) {
	c.logger.Debug("Fetching active stories")

	var stories []Story
	_, err := c.query(ctx, remote.Query{
		Table:  TableStories,
		Select: storySelect,
		Filters: []remote.Filter{
			remote.Eq("is_active", true),
			remote.Gt("expires_at", now.UTC().Format(time.RFC3339)),
		},
		Order: []remote.Order{{Column: "created_at", Desc: true}},
	}, &stories)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stories: %w", err)
	}
	return stories, nil
}

// ViewedStories returns the subset of storyIDs that userID has viewed
func (c *Client) ViewedStories(ctx context.Context, userID string, storyIDs []string) (map[string]bool, error) {
	viewed := make(map[string]bool)
	if userID == "" || len(storyIDs) == 0 {
		return viewed, nil
	}
	var rows []struct {
		StoryID string `json:"story_id"`
	}
	_, err := c.query(ctx, remote.Query{
		Table:   TableStoryViews,
		Select:  "story_id",
		Filters: []remote.Filter{remote.Eq("viewer_id", userID), remote.In("story_id", storyIDs...)},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch story views: %w", err)
	}
	for _, r := range rows {
		viewed[r.StoryID] = true
	}
	return viewed, nil
}

// MarkStoryViewed records that userID viewed storyID. Viewing twice is not
// an error.
func (c *Client) MarkStoryViewed(ctx context.Context, storyID, userID string) error {
	if err := requireID("story_id", storyID); err != nil {
		return err
	}
	c.logger.Debug("Marking story viewed", zap.String("story_id", storyID))

	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableStoryViews,
		Op:      remote.OpInsert,
		Payload: map[string]string{"story_id": storyID, "viewer_id": userID},
	})
	if err != nil && !isDuplicate(err) {
		return fmt.Errorf("failed to mark story viewed: %w", err)
	}
	return nil
}
