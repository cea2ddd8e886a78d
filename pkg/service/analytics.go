package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/poller"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Analytics serves the current user's creator dashboard
type Analytics struct {
	deps     Deps
	overview *syncer.Synchronizer[string, api.AnalyticsOverview]
	content  *syncer.Synchronizer[api.ContentParams, []api.ContentPerformance]
	trend    *syncer.Synchronizer[api.TrendParams, api.EngagementTrend]
	audience *syncer.Synchronizer[string, api.AudienceDemographics]
	revenue  *syncer.Synchronizer[api.RevenueParams, api.RevenueBreakdown]
	logger   *zap.Logger

	mu      sync.Mutex
	pollers []*poller.Poller
}

// NewAnalytics creates the analytics service
func NewAnalytics(d Deps) *Analytics {
	d = d.withDefaults()
	t := d.Timings
	cfg := d.syncConfig("analytics", t.DefaultTTL, t.VoteQuiet, t.AnalyticsPoll)
	overviewCfg := cfg
	overviewCfg.TTL = t.OverviewTTL
	return &Analytics{
		deps:     d,
		overview: syncer.New(overviewCfg, d.API.OverviewSource()),
		content:  syncer.New(cfg, d.API.ContentSource()),
		trend:    syncer.New(cfg, d.API.TrendSource()),
		audience: syncer.New(cfg, d.API.AudienceSource()),
		revenue:  syncer.New(cfg, d.API.RevenueSource()),
		logger:   d.Logger.Named("analytics"),
	}
}

// Overview loads the headline numbers
func (a *Analytics) Overview(ctx context.Context, opts ...syncer.LoadOption) syncer.Result[api.AnalyticsOverview] {
	if err := a.deps.requireUser(); err != nil {
		return syncer.Result[api.AnalyticsOverview]{Err: err}
	}
	return a.overview.Load(ctx, a.deps.UserID, opts...)
}

// Content loads the latest posts with estimated earnings
func (a *Analytics) Content(ctx context.Context, limit int) syncer.Result[[]api.ContentPerformance] {
	if err := a.deps.requireUser(); err != nil {
		return syncer.Result[[]api.ContentPerformance]{Err: err}
	}
	return a.content.Load(ctx, api.ContentParams{CreatorID: a.deps.UserID, Limit: limit})
}

// Trend loads one engagement series
func (a *Analytics) Trend(ctx context.Context, period, metric string) syncer.Result[api.EngagementTrend] {
	if err := a.deps.requireUser(); err != nil {
		return syncer.Result[api.EngagementTrend]{Err: err}
	}
	if err := validPeriod(period); err != nil {
		return syncer.Result[api.EngagementTrend]{Err: err}
	}
	return a.trend.Load(ctx, api.TrendParams{CreatorID: a.deps.UserID, Period: period, Metric: metric})
}

// Audience loads audience demographics
func (a *Analytics) Audience(ctx context.Context) syncer.Result[api.AudienceDemographics] {
	if err := a.deps.requireUser(); err != nil {
		return syncer.Result[api.AudienceDemographics]{Err: err}
	}
	return a.audience.Load(ctx, a.deps.UserID)
}

// Revenue loads the revenue breakdown over period
func (a *Analytics) Revenue(ctx context.Context, period string) syncer.Result[api.RevenueBreakdown] {
	if err := a.deps.requireUser(); err != nil {
		return syncer.Result[api.RevenueBreakdown]{Err: err}
	}
	if err := validPeriod(period); err != nil {
		return syncer.Result[api.RevenueBreakdown]{Err: err}
	}
	return a.revenue.Load(ctx, api.RevenueParams{CreatorID: a.deps.UserID, Period: period})
}

// Refresh drops every cached analytics value
func (a *Analytics) Refresh() {
	a.deps.Store.InvalidatePrefix(api.Keys.Analytics.All())
}

// WatchOverview reloads the overview on the analytics interval while the
// surface is visible. The returned func stops it.
func (a *Analytics) WatchOverview(ctx context.Context, onChange func(syncer.Result[api.AnalyticsOverview])) (stop func()) {
	p := poller.New(poller.Config{
		Name:            "analytics",
		Interval:        a.deps.Timings.AnalyticsPoll,
		Visibility:      a.deps.Visibility,
		RefreshOnResume: true,
		Metrics:         a.deps.Metrics,
		Logger:          a.logger,
		Tick: func(ctx context.Context) error {
			r := a.Overview(ctx, syncer.Force())
			if serrors.IsDisposed(r.Err) {
				return nil
			}
			if onChange != nil {
				onChange(r)
			}
			return r.Err
		},
	})
	a.mu.Lock()
	a.pollers = append(a.pollers, p)
	a.mu.Unlock()

	p.Start(ctx)
	return p.Halt
}

func validPeriod(period string) error {
	switch period {
	case api.PeriodWeek, api.PeriodMonth, api.PeriodQuarter, api.PeriodYear:
		return nil
	}
	return serrors.ValidationError("period", "must be one of 7d, 30d, 90d, 1y")
}

// Close stops polling and releases every synchronizer
func (a *Analytics) Close() {
	a.mu.Lock()
	pollers := a.pollers
	a.pollers = nil
	a.mu.Unlock()
	for _, p := range pollers {
		p.Halt()
	}

	a.overview.Close()
	a.content.Close()
	a.trend.Close()
	a.audience.Close()
	a.revenue.Close()
}
