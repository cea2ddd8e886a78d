// Package api maps the backend's tables and functions onto typed calls and
// the per-feature data sources the synchronizers drive.
package api

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// Table names
const (
	TablePosts                    = "posts"
	TablePostLikes                = "post_likes"
	TablePostSaves                = "post_saves"
	TablePostComments             = "post_comments"
	TablePollVotes                = "poll_votes"
	TableNotifications            = "notifications"
	TableConversations            = "conversations"
	TableConversationParticipants = "conversation_participants"
	TableMessages                 = "messages"
	TableUserPresence             = "user_presence"
	TableStories                  = "stories"
	TableStoryViews               = "story_views"
	TableProfiles                 = "profiles"
	TableFollowers                = "followers"
)

// DefaultPageSize is used when a caller passes a non-positive limit
const DefaultPageSize = 20

// Client is a typed wrapper over remote.Client
type Client struct {
	remote remote.Client
	logger *zap.Logger
}

// NewClient wraps rc
func NewClient(rc remote.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{remote: rc, logger: logger.Named("api")}
}

// Remote returns the underlying client
func (c *Client) Remote() remote.Client {
	return c.remote
}

func (c *Client) query(ctx context.Context, q remote.Query, out any) (*remote.Result, error) {
	res, err := c.remote.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := res.Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.Table, err)
		}
	}
	return res, nil
}

func (c *Client) rpc(ctx context.Context, fn string, args any, out any) error {
	res, err := c.remote.RPC(ctx, fn, args)
	if err != nil {
		return err
	}
	if out != nil {
		if err := res.Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", fn, err)
		}
	}
	return nil
}

// exists reports whether any row matches filters
func (c *Client) exists(ctx context.Context, table string, filters ...remote.Filter) (bool, error) {
	res, err := c.remote.Query(ctx, remote.Query{Table: table, Select: "id", Filters: filters, Head: true})
	if err != nil {
		return false, err
	}
	return res.Count > 0, nil
}

// isDuplicate reports whether err is a unique constraint violation
func isDuplicate(err error) bool {
	var syncErr *serrors.SyncError
	if errors.As(err, &syncErr) && syncErr.Code == "23505" {
		return true
	}
	return serrors.IsConflict(err)
}

func requireID(field, value string) error {
	if value == "" {
		return serrors.ValidationError(field, "is required")
	}
	return nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}
