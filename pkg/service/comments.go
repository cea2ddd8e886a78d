package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Comments serves per-post comment lists with optimistic add and delete
type Comments struct {
	deps   Deps
	sync   *syncer.Synchronizer[string, []api.Comment]
	posts  *Posts
	logger *zap.Logger
}

// NewComments creates the comments service. posts, when set, has its cached
// comment counts kept in step.
func NewComments(d Deps, posts *Posts) *Comments {
	d = d.withDefaults()
	t := d.Timings
	return &Comments{
		deps:   d,
		sync:   syncer.New(d.syncConfig("comments", t.DefaultTTL, t.VoteQuiet, t.DefaultPoll), d.API.CommentsSource()),
		posts:  posts,
		logger: d.Logger.Named("comments"),
	}
}

// List loads a post's comments, oldest first
func (c *Comments) List(ctx context.Context, postID string) syncer.Result[[]api.Comment] {
	return c.sync.Load(ctx, postID)
}

// Add appends the comment at once with a temporary id and posts it
func (c *Comments) Add(ctx context.Context, postID, content string) syncer.MutationResult[[]api.Comment] {
	content, verr := api.ValidateComment(content)
	var undo func()

	res := c.sync.Mutate(ctx, syncer.Mutation[string, []api.Comment]{
		Params: postID,
		Validate: func() error {
			if err := c.deps.requireUser(); err != nil {
				return err
			}
			if postID == "" {
				return serrors.ValidationError("post_id", "is required")
			}
			return verr
		},
		Apply: func(prev []api.Comment, found bool) ([]api.Comment, error) {
			out := make([]api.Comment, len(prev), len(prev)+1)
			copy(out, prev)
			if c.posts != nil {
				undo = c.posts.adjustCommentCount(postID, 1)
			}
			return append(out, api.Comment{
				ID:        tempIDPrefix + uuid.NewString(),
				PostID:    postID,
				UserID:    c.deps.UserID,
				Content:   content,
				CreatedAt: c.deps.Clock(),
				Pending:   true,
			}), nil
		},
		Write: func(ctx context.Context) error {
			_, err := c.deps.API.AddComment(ctx, postID, c.deps.UserID, content)
			return err
		},
		Invalidate: []cache.Key{api.Keys.Posts.Detail(postID)},
		Refetch:    true,
	})
	if res.Err != nil && undo != nil && !serrors.IsDisposed(res.Err) {
		undo()
	}
	return res
}

// Delete removes the comment at once and deletes it
func (c *Comments) Delete(ctx context.Context, postID, commentID string) syncer.MutationResult[[]api.Comment] {
	var undo func()

	res := c.sync.Mutate(ctx, syncer.Mutation[string, []api.Comment]{
		EntityID: "comment/" + commentID,
		Params:   postID,
		Validate: func() error {
			if err := c.deps.requireUser(); err != nil {
				return err
			}
			if commentID == "" {
				return serrors.ValidationError("comment_id", "is required")
			}
			return nil
		},
		Apply: func(prev []api.Comment, found bool) ([]api.Comment, error) {
			if !found {
				return prev, syncer.ErrNoProjection
			}
			out := make([]api.Comment, 0, len(prev))
			for _, cm := range prev {
				if cm.ID != commentID {
					out = append(out, cm)
				}
			}
			if len(out) < len(prev) && c.posts != nil {
				undo = c.posts.adjustCommentCount(postID, -1)
			}
			return out, nil
		},
		Write: func(ctx context.Context) error {
			return c.deps.API.DeleteComment(ctx, commentID, c.deps.UserID)
		},
		Invalidate: []cache.Key{api.Keys.Posts.Detail(postID)},
	})
	if res.Err != nil && undo != nil && !serrors.IsDisposed(res.Err) {
		undo()
	}
	return res
}

// Watch reloads the comment list after bursts of changes settle
func (c *Comments) Watch(ctx context.Context, postID string, onChange func(syncer.Result[[]api.Comment])) *syncer.Subscription[string, []api.Comment] {
	topic := remote.TableTopic(api.TablePostComments, remote.EventAll, eqFilter("post_id", postID))
	return c.sync.Subscribe(ctx, topic, postID, onChange)
}

// Close releases subscriptions and rolls back unconfirmed edits
func (c *Comments) Close() {
	c.sync.Close()
}
