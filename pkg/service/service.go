// Package service holds one synchronizer-backed service per feature. Each
// service applies a single consolidated policy for loading, optimistic
// writes and change subscriptions, and is built from an injected Deps.
package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
	"github.com/zfogg/sidechain/clientsync/pkg/poller"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Timings holds the per-feature freshness, debounce and polling periods.
// Zero fields take the defaults.
type Timings struct {
	DefaultTTL  time.Duration
	PresenceTTL time.Duration
	StoriesTTL  time.Duration
	OverviewTTL time.Duration

	VoteQuiet         time.Duration
	NotificationQuiet time.Duration
	ConversationQuiet time.Duration
	StatusQuiet       time.Duration
	TypingQuiet       time.Duration
	TypingClear       time.Duration

	DefaultPoll      time.Duration
	VotePoll         time.Duration
	NotificationPoll time.Duration
	ConversationPoll time.Duration
	AnalyticsPoll    time.Duration
}

// DefaultTimings returns the production timings
func DefaultTimings() Timings {
	return Timings{
		DefaultTTL:  5 * time.Minute,
		PresenceTTL: 30 * time.Second,
		StoriesTTL:  2 * time.Minute,
		OverviewTTL: 2 * time.Minute,

		VoteQuiet:         300 * time.Millisecond,
		NotificationQuiet: 300 * time.Millisecond,
		ConversationQuiet: time.Second,
		StatusQuiet:       5 * time.Second,
		TypingQuiet:       2 * time.Second,
		TypingClear:       3 * time.Second,

		DefaultPoll:      30 * time.Second,
		VotePoll:         10 * time.Second,
		NotificationPoll: 30 * time.Second,
		ConversationPoll: 10 * time.Second,
		AnalyticsPoll:    5 * time.Minute,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.DefaultTTL, d.DefaultTTL)
	fill(&t.PresenceTTL, d.PresenceTTL)
	fill(&t.StoriesTTL, d.StoriesTTL)
	fill(&t.OverviewTTL, d.OverviewTTL)
	fill(&t.VoteQuiet, d.VoteQuiet)
	fill(&t.NotificationQuiet, d.NotificationQuiet)
	fill(&t.ConversationQuiet, d.ConversationQuiet)
	fill(&t.StatusQuiet, d.StatusQuiet)
	fill(&t.TypingQuiet, d.TypingQuiet)
	fill(&t.TypingClear, d.TypingClear)
	fill(&t.DefaultPoll, d.DefaultPoll)
	fill(&t.VotePoll, d.VotePoll)
	fill(&t.NotificationPoll, d.NotificationPoll)
	fill(&t.ConversationPoll, d.ConversationPoll)
	fill(&t.AnalyticsPoll, d.AnalyticsPoll)
	return t
}

// Deps is everything a service needs. A session builds one and shares the
// store, subscriber, visibility gate and entity locks across services.
type Deps struct {
	API        *api.Client
	Store      *cache.Store
	Subscriber remote.Subscriber
	Visibility *poller.Visibility
	Locks      *syncer.EntityLocks
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	// UserID is the signed-in user the services act for
	UserID  string
	Timings Timings
	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Store == nil {
		d.Store = cache.New(cache.Options{Metrics: d.Metrics, Logger: d.Logger, Clock: d.Clock})
	}
	if d.Locks == nil {
		d.Locks = syncer.NewEntityLocks()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	d.Timings = d.Timings.withDefaults()
	return d
}

func (d Deps) syncConfig(feature string, ttl, quiet, poll time.Duration) syncer.Config {
	return syncer.Config{
		Feature:      feature,
		TTL:          ttl,
		Quiet:        quiet,
		PollInterval: poll,
		Store:        d.Store,
		Subscriber:   d.Subscriber,
		Visibility:   d.Visibility,
		Locks:        d.Locks,
		Metrics:      d.Metrics,
		Logger:       d.Logger,
	}
}

func (d Deps) requireUser() error {
	if d.UserID == "" {
		return serrors.AuthError("Not signed in")
	}
	return nil
}

// eqFilter renders a realtime channel filter
func eqFilter(column, value string) string {
	return column + "=eq." + value
}
