// Package session ties one signed-in user to a cache store, remote clients
// and the feature services. Everything a consumer needs hangs off a Session;
// there is no package-level state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	"github.com/zfogg/sidechain/clientsync/pkg/config"
	"github.com/zfogg/sidechain/clientsync/pkg/credentials"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
	"github.com/zfogg/sidechain/clientsync/pkg/poller"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/remote/realtime"
	"github.com/zfogg/sidechain/clientsync/pkg/remote/rest"
	"github.com/zfogg/sidechain/clientsync/pkg/service"
	"github.com/zfogg/sidechain/clientsync/pkg/syncer"
)

// Config holds the endpoints and limits of a session
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RealtimeURL       string
	HeartbeatInterval time.Duration
	CacheCapacity     int
	CacheMaxAge       time.Duration
	Timings           service.Timings
}

// ConfigFromSettings maps loaded settings onto a session Config
func ConfigFromSettings(s config.Settings) Config {
	t := service.DefaultTimings()
	if s.PollInterval > 0 {
		t.DefaultPoll = s.PollInterval
		t.NotificationPoll = s.PollInterval
	}
	if s.DebounceQuiet > 0 {
		t.VoteQuiet = s.DebounceQuiet
		t.NotificationQuiet = s.DebounceQuiet
	}
	return Config{
		BaseURL:           s.BaseURL,
		APIKey:            s.AnonKey,
		Timeout:           s.Timeout,
		RealtimeURL:       s.RealtimeURL,
		HeartbeatInterval: s.HeartbeatInterval,
		CacheCapacity:     s.CacheCapacity,
		CacheMaxAge:       s.CacheMaxAge,
		Timings:           t,
	}
}

// Claims is what the client reads from the access token. The signature is
// not checked here; the backend verifies every request.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// ParseClaims extracts the subject and expiry of a JWT access token
func ParseClaims(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, serrors.AuthError(fmt.Sprintf("Invalid access token: %v", err))
	}
	c := Claims{UserID: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

type options struct {
	client     remote.Client
	subscriber remote.Subscriber
	logger     *zap.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
}

// Option customizes New
type Option func(*options)

// WithRemote replaces the REST and realtime clients
func WithRemote(c remote.Client, s remote.Subscriber) Option {
	return func(o *options) {
		o.client = c
		o.subscriber = s
	}
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics shares a metrics registry instead of creating one
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Session is one signed-in user's sync state
type Session struct {
	Posts         *service.Posts
	Comments      *service.Comments
	Polls         *service.Polls
	Notifications *service.Notifications
	Presence      *service.Presence
	Conversations *service.Conversations
	Stories       *service.Stories
	Analytics     *service.Analytics
	Profiles      *service.Profiles

	Store      *cache.Store
	Metrics    *metrics.Metrics
	Visibility *poller.Visibility

	claims   Claims
	clock    func() time.Time
	logger   *zap.Logger
	rest     *rest.Client
	realtime *realtime.Client

	mu     sync.Mutex
	closed bool
}

// New builds a session for creds. Nil or empty creds give an anonymous
// session whose writes fail with an auth error.
func New(ctx context.Context, cfg Config, creds *credentials.Credentials, opts ...Option) (*Session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	s := &Session{
		Metrics:    o.metrics,
		Visibility: poller.NewVisibility(true),
		clock:      o.clock,
		logger:     o.logger.Named("session"),
	}

	var token string
	if creds != nil {
		token = creds.AccessToken
		s.claims = Claims{UserID: creds.UserID, ExpiresAt: creds.ExpiresAt}
	}
	if token != "" {
		claims, err := ParseClaims(token)
		if err != nil {
			return nil, err
		}
		if claims.UserID != "" {
			s.claims.UserID = claims.UserID
		}
		if !claims.ExpiresAt.IsZero() {
			s.claims.ExpiresAt = claims.ExpiresAt
		}
	}
	if s.Expired() {
		s.logger.Warn("Access token has expired", zap.Time("expires_at", s.claims.ExpiresAt))
	}

	client, subscriber := o.client, o.subscriber
	if client == nil {
		s.rest = rest.New(rest.Config{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			AccessToken: token,
			Timeout:     cfg.Timeout,
			Logger:      o.logger,
		})
		client = s.rest
	}
	if subscriber == nil && cfg.RealtimeURL != "" {
		s.realtime = realtime.NewClient(realtime.Config{
			URL:               cfg.RealtimeURL,
			APIKey:            cfg.APIKey,
			AccessToken:       token,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            o.logger,
		})
		subscriber = s.realtime
	}

	s.Store = cache.New(cache.Options{
		Name:     "session",
		Capacity: cfg.CacheCapacity,
		MaxAge:   cfg.CacheMaxAge,
		Clock:    o.clock,
		Metrics:  o.metrics,
		Logger:   o.logger,
	})

	deps := service.Deps{
		API:        api.NewClient(client, o.logger),
		Store:      s.Store,
		Subscriber: subscriber,
		Visibility: s.Visibility,
		Locks:      syncer.NewEntityLocks(),
		Metrics:    o.metrics,
		Logger:     o.logger,
		UserID:     s.claims.UserID,
		Timings:    cfg.Timings,
		Clock:      o.clock,
	}
	s.Posts = service.NewPosts(deps)
	s.Comments = service.NewComments(deps, s.Posts)
	s.Polls = service.NewPolls(deps)
	s.Notifications = service.NewNotifications(deps)
	s.Presence = service.NewPresence(deps)
	s.Conversations = service.NewConversations(deps)
	s.Stories = service.NewStories(deps)
	s.Analytics = service.NewAnalytics(deps)
	s.Profiles = service.NewProfiles(deps)

	s.logger.Info("Session started",
		zap.String("user_id", s.claims.UserID),
		zap.Bool("realtime", subscriber != nil),
	)
	return s, nil
}

// UserID returns the signed-in user, or "" for an anonymous session
func (s *Session) UserID() string {
	return s.claims.UserID
}

// ExpiresAt returns the access token's expiry; zero when unknown
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims.ExpiresAt
}

// Expired reports whether the access token has expired
func (s *Session) Expired() bool {
	exp := s.ExpiresAt()
	return !exp.IsZero() && !s.clock().Before(exp)
}

// SetAccessToken swaps the token on both remote clients after a refresh.
// The token must belong to the same user.
func (s *Session) SetAccessToken(token string) error {
	claims, err := ParseClaims(token)
	if err != nil {
		return err
	}
	if claims.UserID != "" && s.claims.UserID != "" && claims.UserID != s.claims.UserID {
		return serrors.AuthError("Access token belongs to another user")
	}
	s.mu.Lock()
	s.claims.ExpiresAt = claims.ExpiresAt
	s.mu.Unlock()
	if s.rest != nil {
		s.rest.SetAccessToken(token)
	}
	if s.realtime != nil {
		s.realtime.SetAccessToken(token)
	}
	return nil
}

// SetActive marks the consuming surface visible or hidden. Polling only
// runs while active; becoming active refreshes polled data at once.
func (s *Session) SetActive(active bool) {
	s.Visibility.SetActive(active)
}

// Closed reports whether Close has run
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close disposes the services, disconnects realtime and clears the cache.
// The current user is published as offline on the way out.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.Presence.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("presence: %w", err))
	}
	s.Profiles.Close()
	s.Analytics.Close()
	s.Stories.Close()
	s.Conversations.Close()
	s.Notifications.Close()
	s.Polls.Close()
	s.Comments.Close()
	s.Posts.Close()

	if s.realtime != nil {
		if err := s.realtime.Close(); err != nil && !errors.Is(err, realtime.ErrClosed) {
			errs = append(errs, fmt.Errorf("realtime: %w", err))
		}
	}
	s.Store.Clear()

	s.logger.Info("Session closed", zap.String("user_id", s.claims.UserID))
	return errors.Join(errs...)
}
