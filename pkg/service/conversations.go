package service

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/poller"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// MessagePageSize is how many recent messages a conversation loads
const MessagePageSize = 50

// tempIDPrefix marks ids of optimistic rows not yet stored by the backend
const tempIDPrefix = "temp-"

// Conversations serves the inbox and message threads
type Conversations struct {
	deps     Deps
	list     *syncer.Synchronizer[string, []api.Conversation]
	messages *syncer.Synchronizer[api.MessageParams, []api.Message]
	logger   *zap.Logger

	mu      sync.Mutex
	watches map[*InboxWatch]struct{}
}

// NewConversations creates the conversations service
func NewConversations(d Deps) *Conversations {
	d = d.withDefaults()
	t := d.Timings
	cfg := d.syncConfig("conversations", t.DefaultTTL, t.ConversationQuiet, t.ConversationPoll)
	return &Conversations{
		deps:     d,
		list:     syncer.New(cfg, d.API.ConversationsSource()),
		messages: syncer.New(cfg, d.API.MessagesSource()),
		logger:   d.Logger.Named("conversations"),
		watches:  make(map[*InboxWatch]struct{}),
	}
}

// List loads the inbox
func (c *Conversations) List(ctx context.Context, opts ...syncer.LoadOption) syncer.Result[[]api.Conversation] {
	if err := c.deps.requireUser(); err != nil {
		return syncer.Result[[]api.Conversation]{Err: err}
	}
	return c.list.Load(ctx, c.deps.UserID, opts...)
}

// Messages loads the latest messages of a conversation, oldest first
func (c *Conversations) Messages(ctx context.Context, conversationID string) syncer.Result[[]api.Message] {
	return c.messages.Load(ctx, messageParams(conversationID))
}

func messageParams(conversationID string) api.MessageParams {
	return api.MessageParams{ConversationID: conversationID, Limit: MessagePageSize}
}

// Send appends the message to the thread at once with a temporary id, then
// posts it. The thread and inbox are reloaded after the write.
func (c *Conversations) Send(ctx context.Context, conversationID, content string) syncer.MutationResult[[]api.Message] {
	content = strings.TrimSpace(content)
	return c.messages.Mutate(ctx, syncer.Mutation[api.MessageParams, []api.Message]{
		Params: messageParams(conversationID),
		Validate: func() error {
			if err := c.deps.requireUser(); err != nil {
				return err
			}
			if conversationID == "" {
				return serrors.ValidationError("conversation_id", "is required")
			}
			if content == "" {
				return serrors.ValidationError("content", "message cannot be empty")
			}
			return nil
		},
		Apply: func(prev []api.Message, found bool) ([]api.Message, error) {
			out := make([]api.Message, len(prev), len(prev)+1)
			copy(out, prev)
			return append(out, api.Message{
				ID:             tempIDPrefix + uuid.NewString(),
				ConversationID: conversationID,
				SenderID:       c.deps.UserID,
				Content:        content,
				MessageType:    "text",
				CreatedAt:      c.deps.Clock(),
				Pending:        true,
			}), nil
		},
		Write: func(ctx context.Context) error {
			_, err := c.deps.API.SendMessage(ctx, conversationID, c.deps.UserID, content)
			return err
		},
		Invalidate: []cache.Key{api.Keys.Conversations.List(c.deps.UserID)},
		Refetch:    true,
	})
}

// Leave removes the conversation from the inbox at once and leaves it
func (c *Conversations) Leave(ctx context.Context, conversationID string) syncer.MutationResult[[]api.Conversation] {
	return c.list.Mutate(ctx, syncer.Mutation[string, []api.Conversation]{
		EntityID: "conversation/" + conversationID,
		Params:   c.deps.UserID,
		Validate: func() error {
			if err := c.deps.requireUser(); err != nil {
				return err
			}
			if conversationID == "" {
				return serrors.ValidationError("conversation_id", "is required")
			}
			return nil
		},
		Apply: func(prev []api.Conversation, found bool) ([]api.Conversation, error) {
			if !found {
				return prev, syncer.ErrNoProjection
			}
			out := make([]api.Conversation, 0, len(prev))
			for _, conv := range prev {
				if conv.ID != conversationID {
					out = append(out, conv)
				}
			}
			return out, nil
		},
		Write: func(ctx context.Context) error {
			return c.deps.API.LeaveConversation(ctx, conversationID, c.deps.UserID)
		},
		Invalidate: []cache.Key{api.Keys.Conversations.Messages(conversationID)},
	})
}

// MarkRead zeroes the conversation's unread count at once and moves the
// read marker
func (c *Conversations) MarkRead(ctx context.Context, conversationID string) syncer.MutationResult[[]api.Conversation] {
	return c.list.Mutate(ctx, syncer.Mutation[string, []api.Conversation]{
		EntityID: "conversation/" + conversationID,
		Params:   c.deps.UserID,
		Validate: func() error {
			if err := c.deps.requireUser(); err != nil {
				return err
			}
			if conversationID == "" {
				return serrors.ValidationError("conversation_id", "is required")
			}
			return nil
		},
		Apply: func(prev []api.Conversation, found bool) ([]api.Conversation, error) {
			if !found {
				return prev, syncer.ErrNoProjection
			}
			now := c.deps.Clock()
			out := make([]api.Conversation, len(prev))
			copy(out, prev)
			for i := range out {
				if out[i].ID == conversationID {
					out[i].UnreadCount = 0
					out[i].LastReadAt = &now
				}
			}
			return out, nil
		},
		Write: func(ctx context.Context) error {
			return c.deps.API.MarkConversationRead(ctx, conversationID, c.deps.UserID)
		},
	})
}

// OpenDirect returns the direct conversation with otherUserID, creating it
// if needed
func (c *Conversations) OpenDirect(ctx context.Context, otherUserID string) (string, error) {
	if err := c.deps.requireUser(); err != nil {
		return "", err
	}
	id, err := c.deps.API.GetOrCreateDirect(ctx, c.deps.UserID, otherUserID)
	if err != nil {
		return "", err
	}
	c.list.Invalidate(c.deps.UserID)
	return id, nil
}

// CreateGroup creates a group conversation
func (c *Conversations) CreateGroup(ctx context.Context, name string, participantIDs []string) (string, error) {
	if err := c.deps.requireUser(); err != nil {
		return "", err
	}
	id, err := c.deps.API.CreateGroup(ctx, c.deps.UserID, name, participantIDs)
	if err != nil {
		return "", err
	}
	c.list.Invalidate(c.deps.UserID)
	return id, nil
}

// InboxWatch keeps the inbox fresh. It polls while the surface is visible
// and reloads after bursts of new messages settle.
type InboxWatch struct {
	owner *Conversations
	sub   *syncer.Subscription[string, []api.Conversation]
	poll  *poller.Poller
}

// Dispose stops polling and releases the channel
func (w *InboxWatch) Dispose() {
	w.owner.mu.Lock()
	delete(w.owner.watches, w)
	w.owner.mu.Unlock()

	w.poll.Halt()
	w.sub.Dispose()
}

// Mode reports how the message channel is delivering changes
func (w *InboxWatch) Mode() syncer.Mode {
	return w.sub.Mode()
}

// Watch keeps the inbox in sync and passes each reload to onChange
func (c *Conversations) Watch(ctx context.Context, onChange func(syncer.Result[[]api.Conversation])) *InboxWatch {
	topic := remote.TableTopic(api.TableMessages, remote.EventInsert, "")
	sub := c.list.Subscribe(ctx, topic, c.deps.UserID, onChange)

	p := poller.New(poller.Config{
		Name:            "conversations",
		Interval:        c.deps.Timings.ConversationPoll,
		Visibility:      c.deps.Visibility,
		RefreshOnResume: true,
		Metrics:         c.deps.Metrics,
		Logger:          c.logger,
		Tick: func(ctx context.Context) error {
			// The subscription runs its own poller while realtime is down.
			if sub.Mode() != syncer.ModeRealtime {
				return nil
			}
			r := c.list.Load(ctx, c.deps.UserID, syncer.Force())
			if serrors.IsDisposed(r.Err) {
				return nil
			}
			if onChange != nil {
				onChange(r)
			}
			return r.Err
		},
	})
	w := &InboxWatch{owner: c, sub: sub, poll: p}
	c.mu.Lock()
	c.watches[w] = struct{}{}
	c.mu.Unlock()

	p.Start(ctx)
	return w
}

// WatchMessages reloads a thread after bursts of new messages settle
func (c *Conversations) WatchMessages(ctx context.Context, conversationID string, onChange func(syncer.Result[[]api.Message])) *syncer.Subscription[api.MessageParams, []api.Message] {
	topic := remote.TableTopic(api.TableMessages, remote.EventInsert, eqFilter("conversation_id", conversationID))
	return c.messages.Subscribe(ctx, topic, messageParams(conversationID), onChange)
}

// Close releases subscriptions and rolls back unconfirmed edits
func (c *Conversations) Close() {
	c.mu.Lock()
	watches := c.watches
	c.watches = make(map[*InboxWatch]struct{})
	c.mu.Unlock()
	for w := range watches {
		w.poll.Halt()
	}

	c.list.Close()
	c.messages.Close()
}
