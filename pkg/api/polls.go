package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// PollVotes retrieves every vote on a poll post
func (c *Client) PollVotes(ctx context.Context, postID string) ([]PollVote, error) {
	var votes []PollVote
	_, err := c.query(ctx, remote.Query{
		Table:   TablePollVotes,
		Select:  "option_index",
		Filters: []remote.Filter{remote.Eq("post_id", postID)},
	}, &votes)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch poll votes: %w", err)
	}
	return votes, nil
}

// UserVote returns userID's option, or nil if they have not voted
func (c *Client) UserVote(ctx context.Context, postID, userID string) (*int, error) {
	if userID == "" {
		return nil, nil
	}
	var votes []PollVote
	_, err := c.query(ctx, remote.Query{
		Table:   TablePollVotes,
		Select:  "option_index",
		Filters: []remote.Filter{remote.Eq("post_id", postID), remote.Eq("user_id", userID)},
		Limit:   1,
	}, &votes)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user vote: %w", err)
	}
	if len(votes) == 0 {
		return nil, nil
	}
	option := votes[0].OptionIndex
	return &option, nil
}

// PollTally counts the votes on postID and looks up userID's choice
func (c *Client) PollTally(ctx context.Context, postID, userID string) (PollTally, error) {
	c.logger.Debug("Fetching poll tally", zap.String("post_id", postID))

	var (
		votes    []PollVote
		userVote *int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		votes, err = c.PollVotes(gctx, postID)
		return err
	})
	g.Go(func() error {
		var err error
		userVote, err = c.UserVote(gctx, postID, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return PollTally{}, err
	}
	return TallyVotes(votes, userVote), nil
}

// SubmitVote records or changes userID's vote
func (c *Client) SubmitVote(ctx context.Context, postID, userID string, option int) error {
	c.logger.Debug("Submitting vote", zap.String("post_id", postID), zap.Int("option", option))

	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table: TablePollVotes,
		Op:    remote.OpUpsert,
		Payload: map[string]any{
			"post_id":      postID,
			"user_id":      userID,
			"option_index": option,
			"created_at":   time.Now().UTC().Format(time.RFC3339),
		},
		OnConflict: "post_id,user_id",
	})
	if err != nil {
		return fmt.Errorf("failed to submit vote: %w", err)
	}
	return nil
}
