package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Profiles serves user profiles and follow lists and toggles follows
type Profiles struct {
	deps      Deps
	profile   *syncer.Synchronizer[string, api.Profile]
	followers *syncer.Synchronizer[string, []api.Profile]
	following *syncer.Synchronizer[string, []api.Profile]
	status    *syncer.Synchronizer[api.FollowParams, bool]
	logger    *zap.Logger
}

// NewProfiles creates the profiles service
func NewProfiles(d Deps) *Profiles {
	d = d.withDefaults()
	t := d.Timings
	cfg := d.syncConfig("profiles", t.DefaultTTL, t.VoteQuiet, t.DefaultPoll)
	return &Profiles{
		deps:      d,
		profile:   syncer.New(cfg, d.API.ProfileSource()),
		followers: syncer.New(cfg, d.API.FollowersSource()),
		following: syncer.New(cfg, d.API.FollowingSource()),
		status:    syncer.New(cfg, d.API.FollowStatusSource()),
		logger:    d.Logger.Named("profiles"),
	}
}

// Profile loads a profile by username
func (p *Profiles) Profile(ctx context.Context, username string) syncer.Result[api.Profile] {
	if username == "" {
		return syncer.Result[api.Profile]{Err: serrors.ValidationError("username", "is required")}
	}
	return p.profile.Load(ctx, username)
}

// Followers loads the users following userID
func (p *Profiles) Followers(ctx context.Context, userID string) syncer.Result[[]api.Profile] {
	return p.followers.Load(ctx, userID, syncer.AllowStale())
}

// Following loads the users userID follows
func (p *Profiles) Following(ctx context.Context, userID string) syncer.Result[[]api.Profile] {
	return p.following.Load(ctx, userID, syncer.AllowStale())
}

// IsFollowing reports whether the current user follows userID
func (p *Profiles) IsFollowing(ctx context.Context, userID string) syncer.Result[bool] {
	if err := p.deps.requireUser(); err != nil {
		return syncer.Result[bool]{Err: err}
	}
	return p.status.Load(ctx, p.edge(userID))
}

// ToggleFollow follows or unfollows userID. The follow state flips at once;
// after a confirmed write both users' follow lists are reloaded on next use.
func (p *Profiles) ToggleFollow(ctx context.Context, userID string) syncer.MutationResult[bool] {
	validate := func() error {
		if err := p.deps.requireUser(); err != nil {
			return err
		}
		if userID == "" {
			return serrors.ValidationError("user_id", "is required")
		}
		if userID == p.deps.UserID {
			return serrors.ValidationError("user_id", "cannot follow yourself")
		}
		return nil
	}
	if err := validate(); err != nil {
		return syncer.MutationResult[bool]{Err: err}
	}

	edge := p.edge(userID)
	if _, ok := p.status.Peek(edge); !ok {
		if r := p.status.Load(ctx, edge); r.Err != nil {
			return syncer.MutationResult[bool]{Err: r.Err}
		}
	}

	var follow bool
	p.logger.Debug("Toggling follow", zap.String("user_id", userID))
	return p.status.Mutate(ctx, syncer.Mutation[api.FollowParams, bool]{
		EntityID: "follow/" + userID,
		Params:   edge,
		Apply: func(prev bool, found bool) (bool, error) {
			follow = !prev
			return follow, nil
		},
		Write: func(ctx context.Context) error {
			if follow {
				return p.deps.API.Follow(ctx, edge)
			}
			return p.deps.API.Unfollow(ctx, edge)
		},
		Invalidate: []cache.Key{
			api.Keys.Profiles.Followers(userID),
			api.Keys.Profiles.Following(p.deps.UserID),
		},
	})
}

// WatchFollowers reloads userID's followers after bursts of follow changes
func (p *Profiles) WatchFollowers(ctx context.Context, userID string, onChange func(syncer.Result[[]api.Profile])) *syncer.Subscription[string, []api.Profile] {
	topic := remote.TableTopic(api.TableFollowers, remote.EventAll, eqFilter("following_id", userID))
	return p.followers.Subscribe(ctx, topic, userID, onChange)
}

func (p *Profiles) edge(userID string) api.FollowParams {
	return api.FollowParams{FollowerID: p.deps.UserID, FollowingID: userID}
}

// Close releases subscriptions and rolls back unconfirmed edits
func (p *Profiles) Close() {
	p.status.Close()
	p.following.Close()
	p.followers.Close()
	p.profile.Close()
}
