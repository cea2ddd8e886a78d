package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

var notifPage int

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Notification commands",
	Long:  "View notifications and keep the unread count in sync",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Notifications.List(cmd.Context(), notifPage)
			if r.Err != nil {
				return r.Err
			}
			rows := make([][]string, 0, len(r.Value.Items))
			for _, n := range r.Value.Items {
				read := "unread"
				if n.IsRead {
					read = "read"
				}
				rows = append(rows, []string{n.ID, n.Type, n.Sender.Name(), read, stamp(n.CreatedAt)})
			}
			return printer().PrintRows([]string{"ID", "TYPE", "FROM", "STATUS", "CREATED"}, rows, r.Value)
		})
	},
}

var notificationsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show unread notification count",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Notifications.UnreadCount(cmd.Context())
			if r.Err != nil {
				return r.Err
			}
			return printer().PrintRecord("Notifications", map[string]interface{}{"unread": r.Value})
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			// With the count and first page cached the count drops optimistically.
			rt.sess.Notifications.UnreadCount(cmd.Context())
			rt.sess.Notifications.List(cmd.Context(), 0)
			res := rt.sess.Notifications.MarkRead(cmd.Context(), args[0])
			if res.Err != nil {
				return res.Err
			}
			printer().Success("Marked as read (%d unread)", res.Value)
			return nil
		})
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			res := rt.sess.Notifications.MarkAllRead(cmd.Context())
			if res.Err != nil {
				return res.Err
			}
			printer().Success("All notifications marked as read")
			return nil
		})
	},
}

var notificationsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the unread count",
	Long:  "Refresh the unread count when notifications arrive. Bursts settle into one refresh.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(rt *runtime) error {
			p := printer()
			if r := rt.sess.Notifications.UnreadCount(ctx); r.Err == nil {
				p.Info("Unread: %d", r.Value)
			}
			sub := rt.sess.Notifications.Watch(ctx, func(r syncer.Result[int]) {
				if r.Err != nil {
					p.Warning("refresh failed: %v", r.Err)
					return
				}
				line := "Unread: " + strconv.Itoa(r.Value)
				if rt.sess.Notifications.HasNew() {
					line += " (new)"
				}
				p.Info("%s", line)
			})
			defer sub.Dispose()
			describeMode(p, sub.Mode())
			waitForInterrupt(ctx, p)
			return nil
		})
	},
}

func init() {
	notificationsListCmd.Flags().IntVar(&notifPage, "page", 0, "Page number, starting at 0")

	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsCountCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)
	notificationsCmd.AddCommand(notificationsWatchCmd)
}
