package api

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// MaxCommentLength is the longest comment the backend accepts
const MaxCommentLength = 2000

const commentSelect = "*,profiles:user_id(username,display_name,avatar_url,is_verified)"

// ValidateComment trims content and checks it is non-empty and within
// MaxCommentLength characters
func ValidateComment(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", serrors.ValidationError("content", "comment cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return "", serrors.ValidationError("content", fmt.Sprintf("comment exceeds %d characters", MaxCommentLength))
	}
	return content, nil
}

// Comments retrieves a post's comments, oldest first
func (c *Client) Comments(ctx context.Context, postID string) ([]Comment, error) {
	c.logger.Debug("Fetching comments", zap.String("post_id", postID))

	var comments []Comment
	_, err := c.query(ctx, remote.Query{
		Table:   TablePostComments,
		Select:  commentSelect,
		Filters: []remote.Filter{remote.Eq("post_id", postID)},
		Order:   []remote.Order{{Column: "created_at"}},
	}, &comments)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments: %w", err)
	}
	return comments, nil
}

// AddComment posts a comment and returns the stored row
func (c *Client) AddComment(ctx context.Context, postID, userID, content string) (Comment, error) {
	content, err := ValidateComment(content)
	if err != nil {
		return Comment{}, err
	}
	c.logger.Debug("Adding comment", zap.String("post_id", postID))

	res, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:     TablePostComments,
		Op:        remote.OpInsert,
		Payload:   map[string]string{"post_id": postID, "user_id": userID, "content": content},
		Returning: true,
	})
	if err != nil {
		return Comment{}, fmt.Errorf("failed to add comment: %w", err)
	}

	var rows []Comment
	if err := res.Decode(&rows); err != nil {
		return Comment{}, fmt.Errorf("decode comment: %w", err)
	}
	if len(rows) == 0 {
		return Comment{PostID: postID, UserID: userID, Content: content}, nil
	}
	return rows[0], nil
}

// DeleteComment removes userID's comment
func (c *Client) DeleteComment(ctx context.Context, commentID, userID string) error {
	if err := requireID("comment_id", commentID); err != nil {
		return err
	}
	c.logger.Debug("Deleting comment", zap.String("comment_id", commentID))

	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TablePostComments,
		Op:      remote.OpDelete,
		Filters: []remote.Filter{remote.Eq("id", commentID), remote.Eq("user_id", userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}
