// Package api is the ops surface: a gin server exposing pipeline status,
// the audit trail, risk state and the operator controls (kill-switch
// reset, execution resume, agent pause). Auth is a single operator
// account with JWT bearer tokens.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"signal-core/internal/bus"
	"signal-core/internal/engine"
	"signal-core/internal/monitor"
	"signal-core/pkg/cache"
	"signal-core/pkg/db"
)

const requestTimeout = 30 * time.Second

// Config collects the components the server exposes.
type Config struct {
	Engine    engine.Service
	Events    *bus.Bus
	Store     *db.Database
	Metrics   *monitor.Metrics
	Quotes    *cache.QuoteCache
	JWTSecret string
}

// Server wires the HTTP endpoints around the engine facade.
type Server struct {
	Router *gin.Engine

	engine    engine.Service
	events    *bus.Bus
	store     *db.Database
	metrics   *monitor.Metrics
	quotes    *cache.QuoteCache
	jwtSecret string
	log       zerolog.Logger
}

func NewServer(cfg Config, logger zerolog.Logger) *Server {
	s := &Server{
		engine:    cfg.Engine,
		events:    cfg.Events,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		quotes:    cfg.Quotes,
		jwtSecret: cfg.JWTSecret,
		log:       logger.With().Str("component", "api").Logger(),
	}

	r := gin.New()
	// Middleware stack, order matters: recovery first, CORS last
	// before the routes.
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(s.log))
	r.Use(RateLimit(newLimiterPool(20, 50)))
	r.Use(Timeout(requestTimeout))
	r.Use(CORS())

	s.Router = r
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.metrics.Registry(), promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerOperator)
			auth.POST("/login", s.login)
		}

		protected := api.Group("")
		protected.Use(AuthRequired(s.jwtSecret))
		{
			protected.GET("/system/status", s.getSystemStatus)
			protected.GET("/risk", s.getRiskState)
			protected.POST("/risk/reset", s.resetKillSwitch)
			protected.GET("/execution", s.getExecutionStatus)
			protected.POST("/execution/resume", s.resumeExecution)
			protected.GET("/queue", s.getQueueStats)

			protected.GET("/agents", s.listAgents)
			protected.POST("/agents/:id/pause", s.pauseAgent)
			protected.POST("/agents/:id/resume", s.resumeAgent)

			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOpenOrders)
			protected.GET("/account", s.getAccount)
			protected.GET("/quotes", s.getQuotes)

			protected.GET("/audit", s.queryAudit)
			protected.GET("/reconcile", s.getReconcileReport)
			protected.POST("/reconcile/sweep", s.runSweep)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info().Str("addr", addr).Msg("ops API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
