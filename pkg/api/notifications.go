package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

const notificationSelect = "*,sender_profile:sender_id(id,username,display_name,avatar_url,is_verified)"

// Notifications retrieves one page of userID's notifications, newest first
func (c *Client) Notifications(ctx context.Context, userID string, page, limit int) (NotificationPage, error) {
	if err := requireID("user_id", userID); err != nil {
		return NotificationPage{}, err
	}
	limit = pageSize(limit)
	c.logger.Debug("Fetching notifications", zap.Int("page", page))

	var items []Notification
	_, err := c.query(ctx, remote.Query{
		Table:   TableNotifications,
		Select:  notificationSelect,
		Filters: []remote.Filter{remote.Eq("recipient_id", userID)},
		Order:   []remote.Order{{Column: "created_at", Desc: true}},
		Limit:   limit,
		Offset:  pageOffset(page, limit),
	}, &items)
	if err != nil {
		return NotificationPage{}, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	if items == nil {
		items = []Notification{}
	}
	return NotificationPage{
		Items:   items,
		Page:    page,
		Limit:   limit,
		HasMore: len(items) == limit,
	}, nil
}

// UnreadCount retrieves the count of unread notifications
func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	c.logger.Debug("Fetching unread notification count")

	res, err := c.remote.Query(ctx, remote.Query{
		Table:   TableNotifications,
		Select:  "id",
		Filters: []remote.Filter{remote.Eq("recipient_id", userID), remote.Is("is_read", "false")},
		Head:    true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unread count: %w", err)
	}
	return res.Count, nil
}

// MarkNotificationRead marks a single notification as read
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	if err := requireID("notification_id", notificationID); err != nil {
		return err
	}
	c.logger.Debug("Marking notification as read", zap.String("notification_id", notificationID))

	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableNotifications,
		Op:      remote.OpUpdate,
		Payload: map[string]bool{"is_read": true},
		Filters: []remote.Filter{remote.Eq("id", notificationID), remote.Eq("recipient_id", userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every notification of userID as read
func (c *Client) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	c.logger.Debug("Marking all notifications as read")

	if err := c.rpc(ctx, "mark_all_notifications_read", map[string]string{"user_id": userID}, nil); err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return nil
}

// DeleteNotification removes a notification
func (c *Client) DeleteNotification(ctx context.Context, notificationID, userID string) error {
	if err := requireID("notification_id", notificationID); err != nil {
		return err
	}
	c.logger.Debug("Deleting notification", zap.String("notification_id", notificationID))

	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableNotifications,
		Op:      remote.OpDelete,
		Filters: []remote.Filter{remote.Eq("id", notificationID), remote.Eq("recipient_id", userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}
