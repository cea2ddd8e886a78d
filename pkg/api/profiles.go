package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

const profileSummarySelect = "id,username,display_name,avatar_url,is_verified"

// FollowParams names one follow edge
type FollowParams struct {
	FollowerID  string
	FollowingID string
}

// followRow is a followers row with the joined profile on the far side
type followRow struct {
	Profile *Profile `json:"profiles"`
}

// Profile retrieves a profile by username
func (c *Client) Profile(ctx context.Context, username string) (Profile, error) {
	if err := requireID("username", username); err != nil {
		return Profile{}, err
	}
	return c.profileBy(ctx, "username", username)
}

// ProfileByID retrieves a profile by user id
func (c *Client) ProfileByID(ctx context.Context, userID string) (Profile, error) {
	if err := requireID("user_id", userID); err != nil {
		return Profile{}, err
	}
	return c.profileBy(ctx, "id", userID)
}

func (c *Client) profileBy(ctx context.Context, column, value string) (Profile, error) {
	c.logger.Debug("Fetching profile", zap.String(column, value))

	var profile *Profile
	_, err := c.query(ctx, remote.Query{
		Table:   TableProfiles,
		Select:  "*",
		Filters: []remote.Filter{remote.Eq(column, value)},
		Single:  true,
	}, &profile)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if profile == nil {
		return Profile{}, serrors.NotFoundError("Profile", value)
	}
	return *profile, nil
}

// Followers lists the profiles following userID
func (c *Client) Followers(ctx context.Context, userID string) ([]Profile, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	return c.followEdges(ctx, "follower_id", "following_id", userID)
}

// Following lists the profiles userID follows
func (c *Client) Following(ctx context.Context, userID string) ([]Profile, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	return c.followEdges(ctx, "following_id", "follower_id", userID)
}

// followEdges joins the profile on the side named by far for every row
// whose near column equals userID. Rows whose profile is gone are skipped.
func (c *Client) followEdges(ctx context.Context, far, near, userID string) ([]Profile, error) {
	c.logger.Debug("Fetching follow edges", zap.String(near, userID))

	var rows []followRow
	_, err := c.query(ctx, remote.Query{
		Table:   TableFollowers,
		Select:  fmt.Sprintf("%s,profiles!%s(%s)", far, far, profileSummarySelect),
		Filters: []remote.Filter{remote.Eq(near, userID)},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", TableFollowers, err)
	}
	out := make([]Profile, 0, len(rows))
	for _, r := range rows {
		if r.Profile != nil {
			out = append(out, *r.Profile)
		}
	}
	return out, nil
}

// IsFollowing reports whether followerID follows followingID
func (c *Client) IsFollowing(ctx context.Context, p FollowParams) (bool, error) {
	if p.FollowerID == "" || p.FollowingID == "" {
		return false, nil
	}
	res, err := c.remote.Query(ctx, remote.Query{
		Table:   TableFollowers,
		Select:  "follower_id",
		Filters: []remote.Filter{remote.Eq("follower_id", p.FollowerID), remote.Eq("following_id", p.FollowingID)},
		Head:    true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check follow status: %w", err)
	}
	return res.Count > 0, nil
}

// Follow records that followerID follows followingID. Following twice is
// not an error.
func (c *Client) Follow(ctx context.Context, p FollowParams) error {
	return c.setFollow(ctx, p, true)
}

// Unfollow removes the follow edge
func (c *Client) Unfollow(ctx context.Context, p FollowParams) error {
	return c.setFollow(ctx, p, false)
}

func (c *Client) setFollow(ctx context.Context, p FollowParams, on bool) error {
	if err := requireID("follower_id", p.FollowerID); err != nil {
		return err
	}
	if err := requireID("following_id", p.FollowingID); err != nil {
		return err
	}
	if p.FollowerID == p.FollowingID {
		return serrors.ValidationError("following_id", "cannot follow yourself")
	}
	c.logger.Debug("Updating follow",
		zap.String("follower_id", p.FollowerID),
		zap.String("following_id", p.FollowingID),
		zap.Bool("on", on),
	)

	m := remote.Mutation{Table: TableFollowers}
	if on {
		m.Op = remote.OpInsert
		m.Payload = map[string]string{"follower_id": p.FollowerID, "following_id": p.FollowingID}
	} else {
		m.Op = remote.OpDelete
		m.Filters = []remote.Filter{remote.Eq("follower_id", p.FollowerID), remote.Eq("following_id", p.FollowingID)}
	}
	if _, err := c.remote.Mutate(ctx, m); err != nil {
		if on && isDuplicate(err) {
			return nil
		}
		return fmt.Errorf("failed to update %s: %w", TableFollowers, err)
	}
	return nil
}
