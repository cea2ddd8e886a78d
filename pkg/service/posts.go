package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Posts serves feed pages and post details and toggles likes and saves
type Posts struct {
	deps   Deps
	feed   *syncer.Synchronizer[api.FeedParams, []api.Post]
	detail *syncer.Synchronizer[string, api.Post]
	logger *zap.Logger
}

// NewPosts creates the posts service
func NewPosts(d Deps) *Posts {
	d = d.withDefaults()
	t := d.Timings
	cfg := d.syncConfig("posts", t.DefaultTTL, t.VoteQuiet, t.DefaultPoll)
	return &Posts{
		deps:   d,
		feed:   syncer.New(cfg, d.API.FeedSource()),
		detail: syncer.New(cfg, d.API.PostSource(d.UserID)),
		logger: d.Logger.Named("posts"),
	}
}

// Feed loads one feed page. Stale pages are served at once and refreshed in
// the background.
func (p *Posts) Feed(ctx context.Context, page int) syncer.Result[[]api.Post] {
	return p.feed.Load(ctx, api.FeedParams{Page: page, Limit: api.DefaultPageSize}, syncer.AllowStale())
}

// Post loads a post with the current user's like and save state
func (p *Posts) Post(ctx context.Context, postID string, opts ...syncer.LoadOption) syncer.Result[api.Post] {
	return p.detail.Load(ctx, postID, opts...)
}

// ToggleLike flips the current user's like on the cached post at once and
// writes it. Feed pages are dropped after a confirmed write.
func (p *Posts) ToggleLike(ctx context.Context, postID string) syncer.MutationResult[api.Post] {
	return p.toggle(ctx, postID, "like",
		func(post *api.Post) bool {
			post.IsLiked = !post.IsLiked
			if post.IsLiked {
				post.LikeCount++
			} else if post.LikeCount > 0 {
				post.LikeCount--
			}
			return post.IsLiked
		},
		p.deps.API.Like, p.deps.API.Unlike)
}

// ToggleSave flips the current user's bookmark on the cached post
func (p *Posts) ToggleSave(ctx context.Context, postID string) syncer.MutationResult[api.Post] {
	return p.toggle(ctx, postID, "save",
		func(post *api.Post) bool {
			post.IsSaved = !post.IsSaved
			return post.IsSaved
		},
		p.deps.API.Save, p.deps.API.Unsave)
}

type relationWrite func(ctx context.Context, postID, userID string) error

func (p *Posts) toggle(ctx context.Context, postID, kind string, flip func(*api.Post) bool, on, off relationWrite) syncer.MutationResult[api.Post] {
	if err := p.deps.requireUser(); err != nil {
		return syncer.MutationResult[api.Post]{Err: err}
	}
	if postID == "" {
		return syncer.MutationResult[api.Post]{Err: serrors.ValidationError("post_id", "is required")}
	}

	// The toggle needs the current state.
	if _, ok := p.detail.Peek(postID); !ok {
		if r := p.detail.Load(ctx, postID); r.Err != nil {
			return syncer.MutationResult[api.Post]{Err: r.Err}
		}
	}

	var enable bool
	p.logger.Debug("Toggling post relation", zap.String("post_id", postID), zap.String("kind", kind))
	return p.detail.Mutate(ctx, syncer.Mutation[string, api.Post]{
		EntityID: kind + "/" + postID,
		Params:   postID,
		Apply: func(prev api.Post, found bool) (api.Post, error) {
			if !found {
				return prev, serrors.NotFoundError("Post", postID)
			}
			next := prev
			enable = flip(&next)
			return next, nil
		},
		Write: func(ctx context.Context) error {
			if enable {
				return on(ctx, postID, p.deps.UserID)
			}
			return off(ctx, postID, p.deps.UserID)
		},
		Invalidate: []cache.Key{api.Keys.Posts.Feeds()},
	})
}

// adjustCommentCount patches the cached post's comment count and returns a
// func that reverts it
func (p *Posts) adjustCommentCount(postID string, delta int) (undo func()) {
	patch := func(d int) {
		p.deps.Store.Patch(api.Keys.Posts.Detail(postID), func(old any) any {
			post, ok := old.(api.Post)
			if !ok {
				return old
			}
			post.CommentCount += d
			if post.CommentCount < 0 {
				post.CommentCount = 0
			}
			return post
		})
	}
	patch(delta)
	return func() { patch(-delta) }
}

// Close releases subscriptions and rolls back unconfirmed edits
func (p *Posts) Close() {
	p.feed.Close()
	p.detail.Close()
}
