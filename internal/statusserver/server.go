// Package statusserver exposes a running session's health, cache and
// prometheus metrics over HTTP.
package statusserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/cache"
	"github.com/zfogg/sidechain/clientsync/pkg/session"
)

const serviceName = "sidechain-sync"

// Server serves /healthz, /metrics and /debug/cache for one session
type Server struct {
	sess   *session.Session
	logger *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// New builds the router. Call Start to listen on addr.
func New(addr string, sess *session.Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		sess:   sess,
		logger: logger.Named("status"),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), tracing())

	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(sess.Metrics.Registry, promhttp.HandlerOpts{})))
	s.router.GET("/debug/cache", s.cacheDump)
	s.router.POST("/visibility", s.setVisibility)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// tracing wraps otelgin and tags spans with the cache prefix being queried
func tracing() gin.HandlerFunc {
	base := otelgin.Middleware(serviceName)
	return func(c *gin.Context) {
		base(c)
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		if prefix := c.Query("prefix"); prefix != "" {
			span.SetAttributes(attribute.String("cache.prefix", prefix))
		}
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	switch {
	case s.sess.Closed():
		status, code = "closed", http.StatusServiceUnavailable
	case s.sess.Expired():
		status = "token_expired"
	}
	body := gin.H{
		"status":  status,
		"user_id": s.sess.UserID(),
		"active":  s.sess.Visibility.Active(),
	}
	if exp := s.sess.ExpiresAt(); !exp.IsZero() {
		body["expires_at"] = exp.UTC().Format(time.RFC3339)
	}
	c.JSON(code, body)
}

type entryView struct {
	Key     string  `json:"key"`
	Fresh   bool    `json:"fresh"`
	AgeSecs float64 `json:"age_seconds"`
	Version uint64  `json:"version"`
}

func (s *Server) cacheDump(c *gin.Context) {
	prefix := cache.Key(strings.Trim(c.Query("prefix"), "/"))
	now := s.sess.Store.Now()

	entries := []entryView{}
	for _, e := range s.sess.Store.Entries(prefix) {
		entries = append(entries, entryView{
			Key:     e.Key.String(),
			Fresh:   e.Fresh(now),
			AgeSecs: e.Age(now).Seconds(),
			Version: e.Version,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":   s.sess.Store.Stats(),
		"entries": entries,
	})
}

func (s *Server) setVisibility(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.sess.SetActive(*req.Active)
	s.logger.Debug("Visibility changed", zap.Bool("active", *req.Active))
	c.JSON(http.StatusOK, gin.H{"active": *req.Active})
}
