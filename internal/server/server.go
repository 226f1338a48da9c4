// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/threatscore/internal/activity"
	"github.com/mbd888/threatscore/internal/alerts"
	"github.com/mbd888/threatscore/internal/config"
	"github.com/mbd888/threatscore/internal/health"
	"github.com/mbd888/threatscore/internal/idgen"
	"github.com/mbd888/threatscore/internal/logging"
	"github.com/mbd888/threatscore/internal/metrics"
	"github.com/mbd888/threatscore/internal/ratelimit"
	"github.com/mbd888/threatscore/internal/security"
	"github.com/mbd888/threatscore/internal/simulate"
	"github.com/mbd888/threatscore/internal/threat"
	"github.com/mbd888/threatscore/internal/validation"
)

// Version is reported by /health. Set by cmd/server from ldflags.
var Version = "dev"

const storeCheckTimeout = 2 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        activity.Store
	storeCloser  io.Closer
	db           *sql.DB // nil unless the store is Postgres
	sink         threat.AlertSink
	sinkCloser   io.Closer
	generator    *simulate.Generator
	threats      *threat.Service
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore sets the activity store instead of opening the configured one
// (for testing). The caller keeps ownership of it.
func WithStore(store activity.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithAlertSink sets where POST /v1/threats/scan publishes alerts, replacing
// the Kafka publisher built from KAFKA_BROKERS.
func WithAlertSink(sink threat.AlertSink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithGenerator sets the simulation generator (for deterministic tests).
func WithGenerator(gen *simulate.Generator) Option {
	return func(s *Server) {
		s.generator = gen
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set store/sink/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	if s.store == nil {
		store, closer, err := activity.Open(ctx, cfg.ActivityStoreOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open activity store: %w", err)
		}
		s.store = store
		s.storeCloser = closer
		if db, ok := closer.(*sql.DB); ok {
			s.db = db
		}

		switch cfg.ActivityStore {
		case activity.BackendPostgres:
			s.logger.Info("using PostgreSQL activity store", "url", maskDSN(cfg.DatabaseURL))
		case activity.BackendSQLite:
			s.logger.Info("using SQLite activity store", "path", cfg.SQLitePath)
		case activity.BackendRedis:
			s.logger.Info("using Redis activity store", "url", maskDSN(cfg.RedisURL))
		default:
			s.logger.Info("using in-memory activity store (data will not persist)")
		}
	}

	if s.sink == nil && cfg.PublishesAlerts() {
		pub, err := alerts.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		if err != nil {
			s.closeStore()
			return nil, fmt.Errorf("failed to create alert publisher: %w", err)
		}
		s.sink = pub
		s.sinkCloser = pub
		s.logger.Info("alert publishing enabled", "brokers", cfg.KafkaBrokers, "topic", pub.Topic())
	}

	s.threats = threat.NewService(s.store, cfg.ScanDefaults())
	if s.sink != nil {
		s.threats.WithSink(s.sink)
	}

	if s.generator == nil {
		s.generator = simulate.NewGenerator(uint64(time.Now().UnixNano()))
	}

	s.health.Register("activity_store", health.PingChecker("activity_store", s.store, storeCheckTimeout))

	s.rateLimiter = ratelimit.New(ratelimit.ForRPM(cfg.ScanRateLimitRPM))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB); CSV import enforces its own larger cap
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize, "/v1/activity/import"))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	activity.NewHandler(s.store).RegisterRoutes(v1)
	simulate.NewHandler(s.store, s.generator).RegisterRoutes(v1)

	// Scans fit a model over the whole log, so they are rate limited per client
	threat.NewHandler(s.threats).RegisterRoutes(v1, s.rateLimiter.Middleware())
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	ActivityStore string          `json:"activity_store"`
	Alerts        bool            `json:"alerts_enabled"`
	Checks        []health.Status `json:"checks,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	backend := s.cfg.ActivityStore
	if backend == "" {
		backend = activity.BackendMemory
	}

	c.JSON(httpStatus, HealthResponse{
		Status:        status,
		Version:       Version,
		ActivityStore: backend,
		Alerts:        s.threats.CanPublish(),
		Checks:        checks,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler requires both startup to have finished and the activity
// store to answer.
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if healthy, checks := s.health.CheckAll(c.Request.Context()); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second, // CSV imports can be large
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // anomaly scans over big logs
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"activity_store", s.cfg.ActivityStore,
			"detection_mode", s.cfg.DetectionMode,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		s.closeDependencies()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (DB stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.closeDependencies()

	s.logger.Info("server stopped")
	return nil
}

// closeDependencies releases everything New opened. Injected stores and
// sinks belong to the caller and are left alone.
func (s *Server) closeDependencies() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.sinkCloser != nil {
		if err := s.sinkCloser.Close(); err != nil {
			s.logger.Error("alert publisher close error", "error", err)
		} else {
			s.logger.Info("alert publisher closed")
		}
	}

	s.closeStore()
}

func (s *Server) closeStore() {
	if s.storeCloser == nil {
		return
	}
	if err := s.storeCloser.Close(); err != nil {
		s.logger.Error("activity store close error", "error", err)
	} else {
		s.logger.Info("activity store closed")
	}
	s.storeCloser = nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
