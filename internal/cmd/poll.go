package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/output"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll commands",
	Long:  "Show, vote on and watch post polls",
}

var pollShowCmd = &cobra.Command{
	Use:   "show <post-id>",
	Short: "Show a poll's tally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Polls.Tally(cmd.Context(), args[0])
			if r.Err != nil {
				return r.Err
			}
			return printTally(printer(), r.Value)
		})
	},
}

var pollVoteCmd = &cobra.Command{
	Use:   "vote <post-id> <option>",
	Short: "Vote for an option, counting from 0",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		option, err := strconv.Atoi(args[1])
		if err != nil {
			return serrors.ValidationError("option", "must be a number")
		}
		return withSession(cmd.Context(), func(rt *runtime) error {
			ctx := cmd.Context()
			// The optimistic tally needs the current one.
			if r := rt.sess.Polls.Tally(ctx, args[0]); r.Err != nil {
				return r.Err
			}
			res := rt.sess.Polls.Vote(ctx, args[0], option)
			if res.Err != nil {
				return res.Err
			}
			p := printer()
			p.Success("Voted for option %d", option)
			return printTally(p, res.Value)
		})
	},
}

var pollWatchCmd = &cobra.Command{
	Use:   "watch <post-id>",
	Short: "Watch a poll's tally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(rt *runtime) error {
			p := printer()
			if r := rt.sess.Polls.Tally(ctx, args[0]); r.Err == nil {
				_ = printTally(p, r.Value)
			}
			sub := rt.sess.Polls.Watch(ctx, args[0], func(r syncer.Result[api.PollTally]) {
				if r.Err != nil {
					p.Warning("refresh failed: %v", r.Err)
					return
				}
				_ = printTally(p, r.Value)
			})
			defer sub.Dispose()
			describeMode(p, sub.Mode())
			waitForInterrupt(ctx, p)
			return nil
		})
	},
}

func printTally(p *output.Printer, t api.PollTally) error {
	pct := t.Percentages()
	rows := make([][]string, 0, len(t.Counts))
	for _, option := range t.Options() {
		mark := ""
		if t.UserVote != nil && *t.UserVote == option {
			mark = "*"
		}
		rows = append(rows, []string{
			strconv.Itoa(option) + mark,
			strconv.Itoa(t.Counts[option]),
			fmt.Sprintf("%d%%", pct[option]),
		})
	}
	rows = append(rows, []string{"total", strconv.Itoa(t.Total), ""})
	return p.PrintRows([]string{"OPTION", "VOTES", "SHARE"}, rows, map[string]interface{}{
		"counts":      t.Counts,
		"total":       t.Total,
		"percentages": pct,
		"user_vote":   t.UserVote,
	})
}

func init() {
	pollCmd.AddCommand(pollShowCmd)
	pollCmd.AddCommand(pollVoteCmd)
	pollCmd.AddCommand(pollWatchCmd)
}
