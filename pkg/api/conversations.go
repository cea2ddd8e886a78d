package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// detailFetchLimit bounds the per-conversation lookups in flight at once
const detailFetchLimit = 4

const membershipSelect = "conversation_id,last_read_at," +
	"conversations!inner(id,type,name,avatar_url,created_by,created_at,updated_at)"

type membershipRow struct {
	ConversationID string     `json:"conversation_id"`
	LastReadAt     *time.Time `json:"last_read_at"`
	Conversation   *struct {
		ID        string    `json:"id"`
		Type      string    `json:"type"`
		Name      string    `json:"name"`
		AvatarURL string    `json:"avatar_url"`
		CreatedBy string    `json:"created_by"`
		UpdatedAt time.Time `json:"updated_at"`
	} `json:"conversations"`
}

// Conversations retrieves userID's active conversations with their other
// participants, last message and unread count, most recently updated first
func (c *Client) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetching conversations")

	var rows []membershipRow
	_, err := c.query(ctx, remote.Query{
		Table:   TableConversationParticipants,
		Select:  membershipSelect,
		Filters: []remote.Filter{remote.Eq("user_id", userID), remote.Eq("is_active", true)},
		Order:   []remote.Order{{Column: "conversations(updated_at)", Desc: true}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	out := make([]*Conversation, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchLimit)
	for i, row := range rows {
		if row.Conversation == nil {
			c.logger.Warn("Conversation data missing", zap.String("conversation_id", row.ConversationID))
			continue
		}
		g.Go(func() error {
			conv := &Conversation{
				ID:         row.Conversation.ID,
				Type:       row.Conversation.Type,
				Name:       row.Conversation.Name,
				AvatarURL:  row.Conversation.AvatarURL,
				LastReadAt: row.LastReadAt,
				UpdatedAt:  row.Conversation.UpdatedAt,
			}
			if err := c.conversationDetails(gctx, conv, userID); err != nil {
				return err
			}
			out[i] = conv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch conversation details: %w", err)
	}

	convs := make([]Conversation, 0, len(out))
	for _, conv := range out {
		if conv != nil {
			convs = append(convs, *conv)
		}
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

func (c *Client) conversationDetails(ctx context.Context, conv *Conversation, userID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var participants []Participant
		_, err := c.query(gctx, remote.Query{
			Table:  TableConversationParticipants,
			Select: "user_id,profiles!inner(username,display_name,avatar_url,is_verified,user_type)",
			Filters: []remote.Filter{
				remote.Eq("conversation_id", conv.ID),
				remote.Eq("is_active", true),
				remote.Neq("user_id", userID),
			},
		}, &participants)
		conv.Participants = participants
		return err
	})
	g.Go(func() error {
		msgs, err := c.Messages(gctx, conv.ID, 1)
		if err == nil && len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			conv.LastMessage = &last
		}
		return err
	})
	g.Go(func() error {
		var unread int
		err := c.rpc(remote.ReadOnly(gctx), "get_unread_count", map[string]string{
			"user_id_param":         userID,
			"conversation_id_param": conv.ID,
		}, &unread)
		conv.UnreadCount = unread
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if conv.Participants == nil {
		conv.Participants = []Participant{}
	}
	if conv.Type == "direct" && len(conv.Participants) > 0 {
		other := conv.Participants[0].Profile
		conv.Name = other.Name()
		if other != nil {
			conv.AvatarURL = other.AvatarURL
		}
	}
	return nil
}

// Messages retrieves the newest limit messages of a conversation, returned
// oldest first
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var msgs []Message
	_, err := c.query(ctx, remote.Query{
		Table:   TableMessages,
		Filters: []remote.Filter{remote.Eq("conversation_id", conversationID)},
		Order:   []remote.Order{{Column: "created_at", Desc: true}},
		Limit:   pageSize(limit),
	}, &msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SendMessage posts a text message and returns the stored row
func (c *Client) SendMessage(ctx context.Context, conversationID, senderID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, serrors.ValidationError("content", "message cannot be empty")
	}
	c.logger.Debug("Sending message", zap.String("conversation_id", conversationID))

	res, err := c.remote.Mutate(ctx, remote.Mutation{
		Table: TableMessages,
		Op:    remote.OpInsert,
		Payload: map[string]string{
			"conversation_id": conversationID,
			"sender_id":       senderID,
			"content":         content,
			"message_type":    "text",
		},
		Returning: true,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	var rows []Message
	if err := res.Decode(&rows); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if len(rows) == 0 {
		return Message{ConversationID: conversationID, SenderID: senderID, Content: content}, nil
	}
	return rows[0], nil
}

// EditMessage replaces the content of senderID's message
func (c *Client) EditMessage(ctx context.Context, messageID, senderID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return serrors.ValidationError("content", "message cannot be empty")
	}
	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableMessages,
		Op:      remote.OpUpdate,
		Payload: map[string]string{"content": content, "edited_at": time.Now().UTC().Format(time.RFC3339)},
		Filters: []remote.Filter{remote.Eq("id", messageID), remote.Eq("sender_id", senderID)},
	})
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// DeleteMessage removes senderID's message
func (c *Client) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableMessages,
		Op:      remote.OpDelete,
		Filters: []remote.Filter{remote.Eq("id", messageID), remote.Eq("sender_id", senderID)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// MarkConversationRead moves userID's read marker to now
func (c *Client) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableConversationParticipants,
		Op:      remote.OpUpdate,
		Payload: map[string]string{"last_read_at": time.Now().UTC().Format(time.RFC3339)},
		Filters: []remote.Filter{remote.Eq("conversation_id", conversationID), remote.Eq("user_id", userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// GetOrCreateDirect returns the id of the direct conversation between two
// users, creating it if needed
func (c *Client) GetOrCreateDirect(ctx context.Context, userID, otherUserID string) (string, error) {
	if err := requireID("other_user_id", otherUserID); err != nil {
		return "", err
	}
	var id string
	err := c.rpc(ctx, "get_or_create_direct_conversation", map[string]string{
		"user1_id": userID,
		"user2_id": otherUserID,
	}, &id)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

// CreateGroup creates a group conversation with userID and participantIDs
func (c *Client) CreateGroup(ctx context.Context, userID, name string, participantIDs []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", serrors.ValidationError("name", "group name is required")
	}
	if len(participantIDs) == 0 {
		return "", serrors.ValidationError("participants", "at least one participant is required")
	}

	res, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:     TableConversations,
		Op:        remote.OpInsert,
		Payload:   map[string]string{"type": "group", "name": name, "created_by": userID},
		Returning: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create group conversation: %w", err)
	}
	var created []struct {
		ID string `json:"id"`
	}
	if err := res.Decode(&created); err != nil || len(created) == 0 || created[0].ID == "" {
		return "", fmt.Errorf("failed to create group conversation: no id returned")
	}
	convID := created[0].ID

	members := make([]map[string]string, 0, len(participantIDs)+1)
	for _, id := range append([]string{userID}, participantIDs...) {
		members = append(members, map[string]string{"conversation_id": convID, "user_id": id})
	}
	if _, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableConversationParticipants,
		Op:      remote.OpInsert,
		Payload: members,
	}); err != nil {
		return "", fmt.Errorf("failed to add participants: %w", err)
	}
	return convID, nil
}

// LeaveConversation deactivates userID's membership
func (c *Client) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	_, err := c.remote.Mutate(ctx, remote.Mutation{
		Table:   TableConversationParticipants,
		Op:      remote.OpUpdate,
		Payload: map[string]bool{"is_active": false},
		Filters: []remote.Filter{remote.Eq("conversation_id", conversationID), remote.Eq("user_id", userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to leave conversation: %w", err)
	}
	return nil
}
