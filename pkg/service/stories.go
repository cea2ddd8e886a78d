package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Stories serves the active stories carousel
type Stories struct {
	deps   Deps
	sync   *syncer.Synchronizer[struct{}, []api.Story]
	logger *zap.Logger
}

// NewStories creates the stories service
func NewStories(d Deps) *Stories {
	d = d.withDefaults()
	t := d.Timings
	return &Stories{
		deps:   d,
		sync:   syncer.New(d.syncConfig("stories", t.StoriesTTL, t.VoteQuiet, t.DefaultPoll), d.API.StoriesSource(d.UserID, d.Clock)),
		logger: d.Logger.Named("stories"),
	}
}

// Active loads every active story, newest first
func (s *Stories) Active(ctx context.Context, opts ...syncer.LoadOption) syncer.Result[[]api.Story] {
	return s.sync.Load(ctx, struct{}{}, opts...)
}

// Carousel loads the active stories grouped per creator, creators with the
// newest story first
func (s *Stories) Carousel(ctx context.Context) syncer.Result[[]api.StoryGroup] {
	r := s.Active(ctx)
	out := syncer.Result[[]api.StoryGroup]{
		Err:       r.Err,
		Found:     r.Found,
		FromCache: r.FromCache,
		Stale:     r.Stale,
	}
	if r.Found {
		out.Value = api.GroupStories(r.Value)
	}
	return out
}

// MarkViewed marks a story as seen by the current user. Marking a story
// that is already seen does nothing.
func (s *Stories) MarkViewed(ctx context.Context, storyID string) syncer.MutationResult[[]api.Story] {
	if cur, ok := s.sync.Peek(struct{}{}); ok {
		for _, st := range cur {
			if st.ID == storyID && st.Viewed {
				return syncer.MutationResult[[]api.Story]{Value: cur}
			}
		}
	}

	return s.sync.Mutate(ctx, syncer.Mutation[struct{}, []api.Story]{
		EntityID: "story/" + storyID,
		Validate: func() error {
			if err := s.deps.requireUser(); err != nil {
				return err
			}
			if storyID == "" {
				return serrors.ValidationError("story_id", "is required")
			}
			return nil
		},
		Apply: func(prev []api.Story, found bool) ([]api.Story, error) {
			if !found {
				return prev, syncer.ErrNoProjection
			}
			out := make([]api.Story, len(prev))
			copy(out, prev)
			for i := range out {
				if out[i].ID == storyID {
					out[i].Viewed = true
				}
			}
			return out, nil
		},
		Write: func(ctx context.Context) error {
			return s.deps.API.MarkStoryViewed(ctx, storyID, s.deps.UserID)
		},
	})
}

// Close releases subscriptions and rolls back unconfirmed edits
func (s *Stories) Close() {
	s.sync.Close()
}
