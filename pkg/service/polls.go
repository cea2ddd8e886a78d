package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Polls keeps poll tallies in sync and casts votes optimistically
type Polls struct {
	deps   Deps
	sync   *syncer.Synchronizer[string, api.PollTally]
	logger *zap.Logger
}

// NewPolls creates the polls service
func NewPolls(d Deps) *Polls {
	d = d.withDefaults()
	t := d.Timings
	return &Polls{
		deps:   d,
		sync:   syncer.New(d.syncConfig("polls", t.DefaultTTL, t.VoteQuiet, t.VotePoll), d.API.PollSource(d.UserID)),
		logger: d.Logger.Named("polls"),
	}
}

// Tally loads the tally of a poll post
func (p *Polls) Tally(ctx context.Context, postID string) syncer.Result[api.PollTally] {
	return p.sync.Load(ctx, postID)
}

// Vote casts the current user's vote for option. The tally changes at once:
// a previous vote moves, a first vote adds to the total. On success the
// tally is reloaded from the backend; on failure it reverts.
func (p *Polls) Vote(ctx context.Context, postID string, option int) syncer.MutationResult[api.PollTally] {
	p.logger.Debug("Casting vote", zap.String("post_id", postID), zap.Int("option", option))

	return p.sync.Mutate(ctx, syncer.Mutation[string, api.PollTally]{
		Params: postID,
		Validate: func() error {
			if err := p.deps.requireUser(); err != nil {
				return err
			}
			if postID == "" {
				return serrors.ValidationError("post_id", "is required")
			}
			if option < 0 {
				return serrors.ValidationError("option", fmt.Sprintf("invalid option %d", option))
			}
			return nil
		},
		Apply: func(prev api.PollTally, found bool) (api.PollTally, error) {
			if !found {
				return prev, syncer.ErrNoProjection
			}
			return prev.WithVote(option), nil
		},
		Write: func(ctx context.Context) error {
			return p.deps.API.SubmitVote(ctx, postID, p.deps.UserID, option)
		},
		Refetch: true,
	})
}

// Watch refreshes the tally after bursts of votes on the post settle
func (p *Polls) Watch(ctx context.Context, postID string, onChange func(syncer.Result[api.PollTally])) *syncer.Subscription[string, api.PollTally] {
	topic := remote.TableTopic(api.TablePollVotes, remote.EventAll, eqFilter("post_id", postID))
	return p.sync.Subscribe(ctx, topic, postID, onChange)
}

// Peek returns the cached tally without I/O
func (p *Polls) Peek(postID string) (api.PollTally, bool) {
	return p.sync.Peek(postID)
}

// Close releases every subscription and rolls back unconfirmed votes
func (p *Polls) Close() {
	p.sync.Close()
}
