package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/output"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"dm"},
	Short:   "Conversation commands",
	Long:    "List conversations, read and send messages, and watch the inbox",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Conversations.List(cmd.Context())
			if r.Err != nil {
				return r.Err
			}
			return printInbox(printer(), r.Value)
		})
	},
}

var conversationsMessagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the latest messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Conversations.Messages(cmd.Context(), args[0])
			if r.Err != nil {
				return r.Err
			}
			rows := make([][]string, 0, len(r.Value))
			for _, m := range r.Value {
				rows = append(rows, []string{stamp(m.CreatedAt), m.SenderID, m.Content})
			}
			return printer().PrintRows([]string{"SENT", "FROM", "MESSAGE"}, rows, r.Value)
		})
	},
}

var conversationsSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>...",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			res := rt.sess.Conversations.Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if res.Err != nil {
				return res.Err
			}
			printer().Success("Message sent")
			return nil
		})
	},
}

var conversationsReadCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			res := rt.sess.Conversations.MarkRead(cmd.Context(), args[0])
			if res.Err != nil {
				return res.Err
			}
			printer().Success("Conversation marked as read")
			return nil
		})
	},
}

var conversationsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(rt *runtime) error {
			p := printer()
			if r := rt.sess.Conversations.List(ctx); r.Err == nil {
				_ = printInbox(p, r.Value)
			}
			w := rt.sess.Conversations.Watch(ctx, func(r syncer.Result[[]api.Conversation]) {
				if r.Err != nil {
					p.Warning("refresh failed: %v", r.Err)
					return
				}
				_ = printInbox(p, r.Value)
			})
			defer w.Dispose()
			describeMode(p, w.Mode())
			waitForInterrupt(ctx, p)
			return nil
		})
	},
}

func printInbox(p *output.Printer, convs []api.Conversation) error {
	rows := make([][]string, 0, len(convs))
	for _, c := range convs {
		last := "-"
		if c.LastMessage != nil {
			last = truncate(c.LastMessage.Content, 40)
		}
		rows = append(rows, []string{c.ID, c.Name, strconv.Itoa(c.UnreadCount), last, stamp(c.UpdatedAt)})
	}
	return p.PrintRows([]string{"ID", "NAME", "UNREAD", "LAST MESSAGE", "UPDATED"}, rows, convs)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsMessagesCmd)
	conversationsCmd.AddCommand(conversationsSendCmd)
	conversationsCmd.AddCommand(conversationsReadCmd)
	conversationsCmd.AddCommand(conversationsWatchCmd)
}
