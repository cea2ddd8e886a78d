package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/output"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

var (
	analyticsWatch  bool
	analyticsPeriod string
	analyticsLimit  int
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Creator analytics commands",
}

var analyticsOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show headline numbers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(rt *runtime) error {
			p := printer()
			r := rt.sess.Analytics.Overview(ctx)
			if r.Err != nil {
				return r.Err
			}
			if err := printOverview(p, r.Value); err != nil {
				return err
			}
			if !analyticsWatch {
				return nil
			}
			stop := rt.sess.Analytics.WatchOverview(ctx, func(r syncer.Result[api.AnalyticsOverview]) {
				if r.Err != nil {
					p.Warning("refresh failed: %v", r.Err)
					return
				}
				_ = printOverview(p, r.Value)
			})
			defer stop()
			waitForInterrupt(ctx, p)
			return nil
		})
	},
}

var analyticsContentCmd = &cobra.Command{
	Use:   "content",
	Short: "Show per-post performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Analytics.Content(cmd.Context(), analyticsLimit)
			if r.Err != nil {
				return r.Err
			}
			rows := make([][]string, 0, len(r.Value))
			for _, c := range r.Value {
				rows = append(rows, []string{
					c.ID,
					truncate(c.Content, 30),
					strconv.Itoa(c.ViewCount),
					strconv.Itoa(c.LikeCount),
					fmt.Sprintf("$%.2f", c.Earnings),
				})
			}
			return printer().PrintRows([]string{"ID", "POST", "VIEWS", "LIKES", "EARNINGS"}, rows, r.Value)
		})
	},
}

var analyticsRevenueCmd = &cobra.Command{
	Use:   "revenue",
	Short: "Show earnings by source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Analytics.Revenue(cmd.Context(), analyticsPeriod)
			if r.Err != nil {
				return r.Err
			}
			v := r.Value
			return printer().PrintRecord("Revenue ("+analyticsPeriod+")", map[string]interface{}{
				"premium_content": v.PremiumContent,
				"subscriptions":   v.Subscriptions,
				"tips":            v.Tips,
				"other":           v.Other,
				"total":           v.Total(),
			})
		})
	},
}

func printOverview(p *output.Printer, o api.AnalyticsOverview) error {
	return p.PrintRecord("Overview", map[string]interface{}{
		"views":          o.TotalViews,
		"likes":          o.TotalLikes,
		"followers":      o.FollowerCount,
		"earnings":       fmt.Sprintf("$%.2f", o.TotalEarnings),
		"monthly_growth": fmt.Sprintf("%.1f%%", o.MonthlyGrowth),
	})
}

func init() {
	analyticsOverviewCmd.Flags().BoolVarP(&analyticsWatch, "watch", "w", false, "Keep refreshing while running")
	analyticsContentCmd.Flags().IntVar(&analyticsLimit, "limit", 20, "Number of posts")
	analyticsRevenueCmd.Flags().StringVar(&analyticsPeriod, "period", api.PeriodMonth, "Period: 7d, 30d, 90d, 1y")

	analyticsCmd.AddCommand(analyticsOverviewCmd)
	analyticsCmd.AddCommand(analyticsContentCmd)
	analyticsCmd.AddCommand(analyticsRevenueCmd)
}
