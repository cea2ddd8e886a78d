package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Notifications serves the current user's notification pages and unread
// count, and applies read and delete actions optimistically
type Notifications struct {
	deps   Deps
	list   *syncer.Synchronizer[api.NotificationParams, api.NotificationPage]
	unread *syncer.Synchronizer[string, int]
	logger *zap.Logger

	hasNew atomic.Bool

	mu        sync.Mutex
	lastCount int
	counted   bool
}

// NewNotifications creates the notifications service
func NewNotifications(d Deps) *Notifications {
	d = d.withDefaults()
	t := d.Timings
	cfg := d.syncConfig("notifications", t.DefaultTTL, t.NotificationQuiet, t.NotificationPoll)
	return &Notifications{
		deps:   d,
		list:   syncer.New(cfg, d.API.NotificationsSource()),
		unread: syncer.New(cfg, d.API.UnreadCountSource()),
		logger: d.Logger.Named("notifications"),
	}
}

func (n *Notifications) params(page int) api.NotificationParams {
	return api.NotificationParams{UserID: n.deps.UserID, Page: page, Limit: api.DefaultPageSize}
}

// List loads one page of notifications, newest first
func (n *Notifications) List(ctx context.Context, page int, opts ...syncer.LoadOption) syncer.Result[api.NotificationPage] {
	if err := n.deps.requireUser(); err != nil {
		return syncer.Result[api.NotificationPage]{Err: err}
	}
	return n.list.Load(ctx, n.params(page), opts...)
}

// UnreadCount loads the unread count
func (n *Notifications) UnreadCount(ctx context.Context, opts ...syncer.LoadOption) syncer.Result[int] {
	if err := n.deps.requireUser(); err != nil {
		return syncer.Result[int]{Err: err}
	}
	r := n.unread.Load(ctx, n.deps.UserID, opts...)
	if r.OK() {
		n.observeCount(r.Value)
	}
	return r
}

// HasNew reports whether a notification arrived since the last mark-all-read
func (n *Notifications) HasNew() bool {
	return n.hasNew.Load()
}

// MarkRead marks one notification read. The unread count drops at once if
// the notification was known to be unread.
func (n *Notifications) MarkRead(ctx context.Context, notificationID string) syncer.MutationResult[int] {
	wasUnread := true
	if item, _, ok := n.cachedNotification(notificationID); ok {
		wasUnread = !item.IsRead
	}

	return n.unread.Mutate(ctx, syncer.Mutation[string, int]{
		EntityID: "notification/" + notificationID,
		Params:   n.deps.UserID,
		Validate: func() error {
			if err := n.deps.requireUser(); err != nil {
				return err
			}
			if notificationID == "" {
				return serrors.ValidationError("notification_id", "is required")
			}
			return nil
		},
		Apply: func(prev int, found bool) (int, error) {
			if !found {
				return prev, syncer.ErrNoProjection
			}
			if wasUnread && prev > 0 {
				return prev - 1, nil
			}
			return prev, nil
		},
		Write: func(ctx context.Context) error {
			return n.deps.API.MarkNotificationRead(ctx, notificationID, n.deps.UserID)
		},
		Invalidate: []cache.Key{api.Keys.Notifications.Lists(n.deps.UserID)},
	})
}

// MarkAllRead zeroes the unread count and clears HasNew
func (n *Notifications) MarkAllRead(ctx context.Context) syncer.MutationResult[int] {
	res := n.unread.Mutate(ctx, syncer.Mutation[string, int]{
		Params:   n.deps.UserID,
		Validate: n.deps.requireUser,
		Apply: func(prev int, found bool) (int, error) {
			return 0, nil
		},
		Write: func(ctx context.Context) error {
			return n.deps.API.MarkAllNotificationsRead(ctx, n.deps.UserID)
		},
		Invalidate: []cache.Key{api.Keys.Notifications.Lists(n.deps.UserID)},
	})
	if res.Err == nil {
		n.hasNew.Store(false)
		n.observeCount(0)
	}
	return res
}

// Delete removes a notification from its cached page at once and from the
// backend. The unread count is refetched afterwards.
func (n *Notifications) Delete(ctx context.Context, notificationID string) syncer.MutationResult[api.NotificationPage] {
	page := 0
	if _, p, ok := n.cachedNotification(notificationID); ok {
		page = p
	}

	return n.list.Mutate(ctx, syncer.Mutation[api.NotificationParams, api.NotificationPage]{
		EntityID: "notification/" + notificationID,
		Params:   n.params(page),
		Validate: func() error {
			if err := n.deps.requireUser(); err != nil {
				return err
			}
			if notificationID == "" {
				return serrors.ValidationError("notification_id", "is required")
			}
			return nil
		},
		Apply: func(prev api.NotificationPage, found bool) (api.NotificationPage, error) {
			if !found {
				return prev, syncer.ErrNoProjection
			}
			out := prev
			out.Items = make([]api.Notification, 0, len(prev.Items))
			for _, item := range prev.Items {
				if item.ID != notificationID {
					out.Items = append(out.Items, item)
				}
			}
			return out, nil
		},
		Write: func(ctx context.Context) error {
			return n.deps.API.DeleteNotification(ctx, notificationID, n.deps.UserID)
		},
		Invalidate: []cache.Key{api.Keys.Notifications.All(n.deps.UserID)},
	})
}

// Watch subscribes to new notifications for the current user. Each burst of
// inserts settles into one unread count refetch, handed to onChange. Cached
// pages are dropped so the next List sees the new items.
func (n *Notifications) Watch(ctx context.Context, onChange func(syncer.Result[int])) *syncer.Subscription[string, int] {
	topic := remote.TableTopic(api.TableNotifications, remote.EventInsert, eqFilter("recipient_id", n.deps.UserID))
	return n.unread.Subscribe(ctx, topic, n.deps.UserID, func(r syncer.Result[int]) {
		if r.OK() {
			n.observeCount(r.Value)
			n.deps.Store.InvalidatePrefix(api.Keys.Notifications.Lists(n.deps.UserID))
		}
		if onChange != nil {
			onChange(r)
		}
	})
}

// observeCount raises HasNew when the unread count grows
func (n *Notifications) observeCount(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.counted && count > n.lastCount {
		n.hasNew.Store(true)
		n.logger.Debug("New notifications", zap.Int("unread", count))
	}
	n.lastCount, n.counted = count, true
}

// cachedNotification finds a notification in the cached pages
func (n *Notifications) cachedNotification(id string) (api.Notification, int, bool) {
	for page := 0; ; page++ {
		p, ok := n.list.Peek(n.params(page))
		if !ok {
			return api.Notification{}, 0, false
		}
		for _, item := range p.Items {
			if item.ID == id {
				return item, page, true
			}
		}
	}
}

// Close releases subscriptions and rolls back unconfirmed edits
func (n *Notifications) Close() {
	n.list.Close()
	n.unread.Close()
}
