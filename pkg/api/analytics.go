package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// Analytics periods
const (
	PeriodWeek    = "7d"
	PeriodMonth   = "30d"
	PeriodQuarter = "90d"
	PeriodYear    = "1y"
)

// AnalyticsOverview retrieves a creator's headline numbers. A creator with
// no activity gets zeroes.
func (c *Client) AnalyticsOverview(ctx context.Context, creatorID string) (AnalyticsOverview, error) {
	if err := requireID("creator_id", creatorID); err != nil {
		return AnalyticsOverview{}, err
	}
	c.logger.Debug("Fetching analytics overview", zap.String("creator_id", creatorID))

	var out *AnalyticsOverview
	err := c.rpc(remote.ReadOnly(ctx), "get_creator_analytics_overview", map[string]string{"creator_id": creatorID}, &out)
	if err != nil {
		return AnalyticsOverview{}, fmt.Errorf("failed to fetch analytics overview: %w", err)
	}
	if out == nil {
		return AnalyticsOverview{}, nil
	}
	return *out, nil
}

// EngagementTrend retrieves a metric's time series over period
func (c *Client) EngagementTrend(ctx context.Context, creatorID, period, metric string) (EngagementTrend, error) {
	if err := requireID("creator_id", creatorID); err != nil {
		return EngagementTrend{}, err
	}
	var out *EngagementTrend
	err := c.rpc(remote.ReadOnly(ctx), "get_engagement_trends", map[string]string{
		"creator_id":  creatorID,
		"time_period": period,
		"metric_type": metric,
	}, &out)
	if err != nil {
		return EngagementTrend{}, fmt.Errorf("failed to fetch engagement trends: %w", err)
	}
	if out == nil {
		return EngagementTrend{Labels: []string{}, Datasets: []TrendDataset{}}, nil
	}
	return *out, nil
}

// AudienceDemographics retrieves the audience breakdown
func (c *Client) AudienceDemographics(ctx context.Context, creatorID string) (AudienceDemographics, error) {
	if err := requireID("creator_id", creatorID); err != nil {
		return AudienceDemographics{}, err
	}
	var out *AudienceDemographics
	err := c.rpc(remote.ReadOnly(ctx), "get_audience_demographics", map[string]string{"creator_id": creatorID}, &out)
	if err != nil {
		return AudienceDemographics{}, fmt.Errorf("failed to fetch audience demographics: %w", err)
	}
	if out == nil {
		return AudienceDemographics{TopCountries: []Bucket{}, AgeGroups: []Bucket{}, Platforms: []Bucket{}}, nil
	}
	return *out, nil
}

// RevenueBreakdown retrieves earnings by source over period
func (c *Client) RevenueBreakdown(ctx context.Context, creatorID, period string) (RevenueBreakdown, error) {
	if err := requireID("creator_id", creatorID); err != nil {
		return RevenueBreakdown{}, err
	}
	var out *RevenueBreakdown
	err := c.rpc(remote.ReadOnly(ctx), "get_revenue_breakdown", map[string]string{
		"creator_id":  creatorID,
		"time_period": period,
	}, &out)
	if err != nil {
		return RevenueBreakdown{}, fmt.Errorf("failed to fetch revenue breakdown: %w", err)
	}
	if out == nil {
		return RevenueBreakdown{}, nil
	}
	return *out, nil
}

// ContentPerformance retrieves a creator's latest posts with estimated
// earnings per post
func (c *Client) ContentPerformance(ctx context.Context, creatorID string, limit int) ([]ContentPerformance, error) {
	if err := requireID("creator_id", creatorID); err != nil {
		return nil, err
	}
	var rows []ContentPerformance
	_, err := c.query(ctx, remote.Query{
		Table:   TablePosts,
		Select:  "id,content,is_premium,price,like_count,comment_count,share_count,view_count,created_at",
		Filters: []remote.Filter{remote.Eq("user_id", creatorID)},
		Order:   []remote.Order{{Column: "created_at", Desc: true}},
		Limit:   pageSize(limit),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content performance: %w", err)
	}
	for i := range rows {
		rows[i].Earnings = estimateEarnings(rows[i])
	}
	return rows, nil
}
