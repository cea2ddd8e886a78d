package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "Story commands",
}

var storiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active stories grouped by creator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Stories.Carousel(cmd.Context())
			if r.Err != nil {
				return r.Err
			}
			rows := make([][]string, 0, len(r.Value))
			for _, g := range r.Value {
				unseen := 0
				for _, s := range g.Stories {
					if !s.Viewed {
						unseen++
					}
				}
				rows = append(rows, []string{
					g.Latest.Creator.Name(),
					strconv.Itoa(len(g.Stories)),
					strconv.Itoa(unseen),
					stamp(g.Latest.CreatedAt),
				})
			}
			return printer().PrintRows([]string{"CREATOR", "STORIES", "UNSEEN", "LATEST"}, rows, r.Value)
		})
	},
}

var storiesViewCmd = &cobra.Command{
	Use:   "view <story-id>",
	Short: "Mark a story as viewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			ctx := cmd.Context()
			if r := rt.sess.Stories.Active(ctx); r.Err != nil {
				return r.Err
			}
			if res := rt.sess.Stories.MarkViewed(ctx, args[0]); res.Err != nil {
				return res.Err
			}
			printer().Success("Story marked as viewed")
			return nil
		})
	},
}

func init() {
	storiesCmd.AddCommand(storiesListCmd)
	storiesCmd.AddCommand(storiesViewCmd)
}
