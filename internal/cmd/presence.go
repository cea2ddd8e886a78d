package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Presence commands",
	Long:  "Show other users' presence and publish your own",
}

var presenceShowCmd = &cobra.Command{
	Use:   "show <user-id>...",
	Short: "Show users' presence",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			got, err := rt.sess.Presence.Get(cmd.Context(), args)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(got))
			for id := range got {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				pr := got[id]
				typing := "-"
				if pr.TypingInConversation != nil {
					typing = *pr.TypingInConversation
				}
				rows = append(rows, []string{id, pr.Status, stamp(pr.LastSeenAt), typing})
			}
			return printer().PrintRows([]string{"USER", "STATUS", "LAST SEEN", "TYPING IN"}, rows, got)
		})
	},
}

var presenceSetCmd = &cobra.Command{
	Use:       "set <online|away>",
	Short:     "Publish your status until interrupted",
	Long:      "Publish your status and hold it until Ctrl+C, then go offline.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{api.StatusOnline, api.StatusAway},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(rt *runtime) error {
			if err := rt.sess.Presence.SetStatus(args[0]); err != nil {
				return err
			}
			rt.sess.Presence.Flush()
			p := printer()
			p.Success("Status set to %s", args[0])
			waitForInterrupt(ctx, p)
			return nil
		})
	},
}

func init() {
	presenceCmd.AddCommand(presenceShowCmd)
	presenceCmd.AddCommand(presenceSetCmd)
}
