// Package server exposes the coordination layer's control-plane API:
// issuer status, cache stats/invalidation, freshness state and
// credential registration. Read-mostly; no trading endpoints live here.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/apigate/internal/arbiter"
	"github.com/betbot/apigate/internal/history"
	"github.com/betbot/apigate/pkg/cache"
	"github.com/betbot/apigate/pkg/credstore"
	"github.com/betbot/apigate/pkg/freshness"
	"github.com/betbot/apigate/pkg/nonce"
)

type Config struct {
	ListenAddr string
}

// Deps are the components the API reads from.
// History, Creds and Arbiter are optional.
type Deps struct {
	Issuer  *nonce.Issuer
	Cache   *cache.Store
	Tracker *freshness.Tracker
	History *history.Recorder
	Creds   *credstore.Store
	Arbiter *arbiter.Arbiter
}

type Server struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Issuer == nil || deps.Cache == nil || deps.Tracker == nil {
		return nil, errors.New("issuer, cache and tracker are required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8086"
	}
	return &Server{cfg: cfg, deps: deps}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")

	nonceGroup := api.Group("/nonce")
	nonceGroup.GET("/status", s.handleNonceStatus)
	nonceGroup.GET("/history", s.handleNonceHistory)

	cacheGroup := api.Group("/cache")
	cacheGroup.GET("/stats", s.handleCacheStats)
	cacheGroup.POST("/invalidate", s.handleCacheInvalidate)
	cacheGroup.POST("/clear", s.handleCacheClear)

	api.GET("/freshness/:category", s.handleFreshness)
	api.GET("/resolve", s.handleResolve)

	creds := api.Group("/credentials")
	creds.GET("/", s.handleCredentialsList)
	creds.POST("/", s.handleCredentialsRegister)

	return r
}

// StartAsync serves the API in the background and shuts down on ctx.Done().
func (s *Server) StartAsync(ctx context.Context) (*http.Server, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// caller-side logging; nothing useful to do here
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, nil
}
