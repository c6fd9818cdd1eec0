// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/fittrust/internal/auth"
	"github.com/mbd888/fittrust/internal/circuitbreaker"
	"github.com/mbd888/fittrust/internal/confidence"
	"github.com/mbd888/fittrust/internal/config"
	"github.com/mbd888/fittrust/internal/consistency"
	"github.com/mbd888/fittrust/internal/health"
	"github.com/mbd888/fittrust/internal/idgen"
	"github.com/mbd888/fittrust/internal/logging"
	"github.com/mbd888/fittrust/internal/metrics"
	"github.com/mbd888/fittrust/internal/notify"
	"github.com/mbd888/fittrust/internal/rewards"
	"github.com/mbd888/fittrust/internal/risk"
	"github.com/mbd888/fittrust/internal/security"
	"github.com/mbd888/fittrust/internal/traces"
	"github.com/mbd888/fittrust/internal/validation"
	"github.com/mbd888/fittrust/internal/verification"
	"github.com/redis/go-redis/v9"
)

// Version is reported by /health and tracing; set by cmd/server.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	verification     *verification.Service
	consistency      *consistency.Checker
	consistencyTimer *consistency.Timer
	confidence       *confidence.Service
	riskStore        risk.Store
	signals          *risk.SignalService
	recomputer       *risk.Recomputer
	riskTimer        *risk.Timer
	rewards          *rewards.Service

	// Injectable collaborators (tests seed these)
	source    consistency.EntrySource
	profiles  confidence.ProfileProvider
	publisher notify.Publisher

	db             *sql.DB        // nil if using in-memory
	redis          *redis.Client  // nil if no cache
	nats           *notify.NATSPublisher
	health         *health.Registry
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

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

// WithPublisher replaces the NATS publisher (for testing)
func WithPublisher(p notify.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithEntrySource replaces the health-log reader used by the consistency
// checker (for testing)
func WithEntrySource(src consistency.EntrySource) Option {
	return func(s *Server) {
		s.source = src
	}
}

// WithProfiles replaces the profile reader used by the confidence service
// (for testing)
func WithProfiles(p confidence.ProfileProvider) Option {
	return func(s *Server) {
		s.profiles = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		health: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	var (
		verStore    verification.Store
		rewardStore rewards.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Recompute workers hold one connection each; leave headroom for requests.
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		verStore = verification.NewPostgresStore(db)
		s.riskStore = risk.NewPostgresStore(db)
		rewardStore = rewards.NewPostgresStore(db)
		if s.source == nil {
			s.source = consistency.NewPostgresSource(db)
		}
		if s.profiles == nil {
			s.profiles = confidence.NewPostgresProfiles(db)
		}
		s.health.Register("database", health.Ping("database", 0, db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		verStore = verification.NewMemoryStore()
		s.riskStore = risk.NewMemoryStore()
		rewardStore = rewards.NewMemoryStore()
		if s.source == nil {
			s.source = consistency.NewMemorySource()
		}
		if s.profiles == nil {
			s.profiles = confidence.NewMemoryProfiles()
		}
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (data is lost on restart)")
	}

	// Job announcements
	if s.publisher == nil {
		s.publisher = notify.Nop{}
		if cfg.NATSURL != "" {
			nc, err := notify.Connect(ctx, cfg.NATSURL, cfg.NATSToken, s.logger)
			if err != nil {
				s.logger.Warn("NATS unavailable, job announcements disabled", "error", err)
			} else {
				s.nats = nc
				s.publisher = nc
				s.health.Register("nats", health.Ping("nats", 0, nc.Check))
			}
		}
	}

	// Ledger
	s.verification = verification.NewService(verStore).
		WithMultiplier(verification.MethodConsistencyCheck, cfg.PassMultiplier)

	// Confidence, with an optional Redis cache behind a breaker
	s.confidence = confidence.NewService(s.verification, s.profiles, s.logger)
	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache := confidence.NewRedisCache(s.redis, cfg.ConfidenceCacheTTL, circuitbreaker.New(5, 30*time.Second))
		s.confidence.WithCache(cache)
		s.health.Register("redis", health.Ping("redis", 0, cache.Check))
		s.logger.Info("confidence cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.ConfidenceCacheTTL)
	}
	s.verification.OnRecorded(s.confidence.Invalidate)

	// Consistency checker
	s.consistency = consistency.NewChecker(s.source, s.verification, cfg.MetricChangeThresholds, s.logger).
		WithPublisher(s.publisher)
	if cfg.ConsistencyCheckInterval > 0 {
		s.consistencyTimer = consistency.NewTimer(s.consistency, cfg.ConsistencyCheckInterval, s.logger)
	}

	// Risk features
	s.signals = risk.NewSignalService(s.riskStore)
	s.recomputer = risk.NewRecomputer(s.riskStore, cfg.RiskRecomputeWorkers, s.logger).
		WithPublisher(s.publisher)
	if cfg.RiskRecomputeInterval > 0 {
		s.riskTimer = risk.NewTimer(s.recomputer, cfg.RiskRecomputeInterval, s.logger)
	}

	// Rewards
	s.rewards = rewards.NewService(rewardStore, s.confidence, s.logger)

	if cfg.BatchSecret == "" {
		s.logger.Warn("BATCH_SECRET not set, /v1/internal routes reject every request")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
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
	return u.Redacted()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
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
	s.router.Use(security.CORSMiddleware([]string{"*"}, s.userHeader()))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) userHeader() string {
	if s.cfg.AuthUserHeader == "" {
		return auth.DefaultUserHeader
	}
	return s.cfg.AuthUserHeader
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, gateway) when present.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// userContextMiddleware copies the authenticated caller into the request
// context so service-level logs carry user_id.
func userContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := auth.UserID(c); id != "" {
			c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), id))
		}
		c.Next()
	}
}

// loggingMiddleware never logs the client address: raw IPs are not kept
// anywhere, logs included.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		switch {
		case status >= 500:
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
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

	// Caller-authenticated routes
	user := s.router.Group("/v1",
		auth.Middleware(s.userHeader()),
		auth.RequireUser(),
		userContextMiddleware(),
	)

	// Batch routes (scheduler, collaborator services)
	batch := s.router.Group("/v1/internal", auth.RequireBatchSecret(s.cfg.BatchSecret))

	verification.NewHandler(s.verification).RegisterRoutes(user)
	confidence.NewHandler(s.confidence).RegisterRoutes(user)
	consistency.NewHandler(s.consistency).RegisterRoutes(batch)

	riskHandler := risk.NewHandler(s.signals, s.recomputer, s.riskStore)
	riskHandler.RegisterRoutes(user)
	riskHandler.RegisterBatchRoutes(batch)

	rewardsHandler := rewards.NewHandler(s.rewards)
	rewardsHandler.RegisterRoutes(user)
	rewardsHandler.RegisterBatchRoutes(batch)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Storage   string          `json:"storage"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Storage:   storage,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Background goroutines stop when Shutdown cancels this context.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.tracesShutdown = shutdownTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	if s.consistencyTimer != nil {
		go s.consistencyTimer.Start(runCtx)
	}
	if s.riskTimer != nil {
		go s.riskTimer.Start(runCtx)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
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

	// A recompute run in progress stops scheduling new users.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.consistencyTimer != nil {
		s.consistencyTimer.Stop()
		s.logger.Info("consistency timer stopped")
	}
	if s.riskTimer != nil {
		s.riskTimer.Stop()
		s.logger.Info("risk recompute timer stopped")
	}

	if s.nats != nil {
		s.nats.Close()
		s.logger.Info("NATS connection drained")
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
