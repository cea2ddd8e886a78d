package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// PresenceBatch retrieves the presence rows of userIDs. Users without a row
// are absent from the result.
func (c *Client) PresenceBatch(ctx context.Context, userIDs []string) ([]Presence, error) {
	if len(userIDs) == 0 {
		return []Presence{}, nil
	}
	c.logger.Debug("Fetching presence", zap.Int("users", len(userIDs)))

	var rows []Presence
	err := c.rpc(remote.ReadOnly(ctx), "get_user_presence_batch", map[string][]string{"user_ids": userIDs}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch presence: %w", err)
	}
	if rows == nil {
		rows = []Presence{}
	}
	return rows, nil
}

// UpsertPresence publishes userID's status. A nil typingIn clears the typing
// indicator.
func (c *Client) UpsertPresence(ctx context.Context, userID, status string, typingIn *string) error {
	if err := requireID("user_id", userID); err != nil {
		return err
	}
	switch status {
	case StatusOnline, StatusAway, StatusOffline:
	default:
		return serrors.ValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table: TableUserPresence,
		Op:    remote.OpUpsert,
		Payload: map[string]any{
			"user_id":                userID,
			"status":                 status,
			"typing_in_conversation": typingIn,
			"last_seen_at":           now,
			"updated_at":             now,
		},
		OnConflict: "user_id",
	})
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}
