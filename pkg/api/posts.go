package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

const postAuthorSelect = "profiles:user_id(id,username,display_name,avatar_url,is_verified,user_type)"

const feedSelect = "id,user_id,content,media_urls,is_premium,price,tags,poll,status," +
	"like_count,comment_count,share_count,view_count,created_at,updated_at," + postAuthorSelect

// Feed retrieves one page of published posts, newest first
func (c *Client) Feed(ctx context.Context, page, limit int) ([]Post, error) {
	limit = pageSize(limit)
	c.logger.Debug("Fetching feed", zap.Int("page", page), zap.Int("limit", limit))

	var posts []Post
	_, err := c.query(ctx, remote.Query{
		Table:   TablePosts,
		Select:  feedSelect,
		Filters: []remote.Filter{remote.Eq("status", "published")},
		Order:   []remote.Order{{Column: "created_at", Desc: true}},
		Limit:   limit,
		Offset:  pageOffset(page, limit),
	}, &posts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	return posts, nil
}

// Post retrieves a single post
func (c *Client) Post(ctx context.Context, postID string) (Post, error) {
	if err := requireID("post_id", postID); err != nil {
		return Post{}, err
	}
	c.logger.Debug("Fetching post", zap.String("post_id", postID))

	var post *Post
	_, err := c.query(ctx, remote.Query{
		Table:   TablePosts,
		Select:  "*," + postAuthorSelect,
		Filters: []remote.Filter{remote.Eq("id", postID)},
		Single:  true,
	}, &post)
	if err != nil {
		return Post{}, fmt.Errorf("failed to fetch post: %w", err)
	}
	if post == nil {
		return Post{}, serrors.NotFoundError("Post", postID)
	}
	return *post, nil
}

// UserPosts retrieves every post by userID, newest first
func (c *Client) UserPosts(ctx context.Context, userID string) ([]Post, error) {
	var posts []Post
	_, err := c.query(ctx, remote.Query{
		Table:   TablePosts,
		Filters: []remote.Filter{remote.Eq("user_id", userID)},
		Order:   []remote.Order{{Column: "created_at", Desc: true}},
	}, &posts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user posts: %w", err)
	}
	return posts, nil
}

// Interactions checks whether userID liked and saved postID
func (c *Client) Interactions(ctx context.Context, postID, userID string) (Interactions, error) {
	var out Interactions
	if userID == "" {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		liked, err := c.exists(gctx, TablePostLikes, remote.Eq("post_id", postID), remote.Eq("user_id", userID))
		out.IsLiked = liked
		return err
	})
	g.Go(func() error {
		saved, err := c.exists(gctx, TablePostSaves, remote.Eq("post_id", postID), remote.Eq("user_id", userID))
		out.IsSaved = saved
		return err
	})
	if err := g.Wait(); err != nil {
		return Interactions{}, fmt.Errorf("failed to check post interactions: %w", err)
	}
	return out, nil
}

// PostWithInteractions retrieves a post and the user's like and save state
func (c *Client) PostWithInteractions(ctx context.Context, postID, userID string) (Post, error) {
	var (
		post Post
		in   Interactions
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		post, err = c.Post(gctx, postID)
		return err
	})
	g.Go(func() error {
		var err error
		in, err = c.Interactions(gctx, postID, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Post{}, err
	}
	post.IsLiked = in.IsLiked
	post.IsSaved = in.IsSaved
	return post, nil
}

// Like records userID's like of postID
func (c *Client) Like(ctx context.Context, postID, userID string) error {
	return c.togglePostRelation(ctx, TablePostLikes, postID, userID, true)
}

// Unlike removes userID's like of postID
func (c *Client) Unlike(ctx context.Context, postID, userID string) error {
	return c.togglePostRelation(ctx, TablePostLikes, postID, userID, false)
}

// Save bookmarks postID for userID
func (c *Client) Save(ctx context.Context, postID, userID string) error {
	return c.togglePostRelation(ctx, TablePostSaves, postID, userID, true)
}

// Unsave removes the bookmark
func (c *Client) Unsave(ctx context.Context, postID, userID string) error {
	return c.togglePostRelation(ctx, TablePostSaves, postID, userID, false)
}

func (c *Client) togglePostRelation(ctx context.Context, table, postID, userID string, on bool) error {
	if err := requireID("post_id", postID); err != nil {
		return err
	}
	if err := requireID("user_id", userID); err != nil {
		return err
	}
	c.logger.Debug("Updating post relation",
		zap.String("table", table),
		zap.String("post_id", postID),
		zap.Bool("on", on),
	)

	m := remote.Mutation{Table: table}
	if on {
		m.Op = remote.OpInsert
		m.Payload = map[string]string{"post_id": postID, "user_id": userID}
	} else {
		m.Op = remote.OpDelete
		m.Filters = []remote.Filter{remote.Eq("post_id", postID), remote.Eq("user_id", userID)}
	}
	if _, err := c.remote.Mutate(ctx, m); err != nil {
		if on && isDuplicate(err) {
			return nil
		}
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}
