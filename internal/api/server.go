// Package api serves the engine's status and signal surface over HTTP:
// liveness, runtime status, recent signals, tracker statistics, and the
// Prometheus exposition endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"binance-signal-engine/internal/fusion"
	"binance-signal-engine/internal/metrics"
)

// SignalReader is the store surface the API reads from.
type SignalReader interface {
	GetSignals(ctx context.Context, limit, offset int) ([]*fusion.Signal, error)
	HealthCheck(ctx context.Context) error
}

// StreamStatus reports the exchange stream state for the status endpoint.
type StreamStatus interface {
	IsConnected() bool
	Stats() map[string]interface{}
}

// Config holds the server settings and the engine facts the status
// endpoint reports.
type Config struct {
	ListenAddr string
	JWTSecret  string // empty disables bearer auth on /api/v1
	Symbols    []string
	Intervals  []string
}

// Server is the HTTP status API.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	cfg         Config
	store       SignalReader
	stream      StreamStatus
	tracker     *metrics.Tracker
	promHandler http.Handler
	logger      zerolog.Logger
}

// NewServer wires the router. stream and promHandler may be nil; the
// affected endpoints degrade instead of failing.
func NewServer(
	cfg Config,
	store SignalReader,
	stream StreamStatus,
	tracker *metrics.Tracker,
	promHandler http.Handler,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:      router,
		cfg:         cfg,
		store:       store,
		stream:      stream,
		tracker:     tracker,
		promHandler: promHandler,
		logger:      logger.With().Str("component", "api").Logger(),
	}

	router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.promHandler != nil {
		s.router.GET("/metrics", gin.WrapH(s.promHandler))
	}

	v1 := s.router.Group("/api/v1")
	if s.cfg.JWTSecret != "" {
		v1.Use(bearerAuth(s.cfg.JWTSecret))
	}
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/signals/recent", s.handleRecentSignals)
		v1.GET("/metrics", s.handleTrackerStats)
	}
}

// requestLogger logs one line per request at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }
