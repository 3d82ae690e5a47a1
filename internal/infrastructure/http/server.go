package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/apascualco/foodgate/internal/application"
	"github.com/apascualco/foodgate/internal/infrastructure/config"
	"github.com/apascualco/foodgate/internal/infrastructure/docs"
	"github.com/apascualco/foodgate/internal/infrastructure/http/handler"
	"github.com/apascualco/foodgate/internal/infrastructure/http/middleware"
	"github.com/apascualco/foodgate/internal/infrastructure/jwt"
	"github.com/apascualco/foodgate/internal/infrastructure/observability"
	"github.com/apascualco/foodgate/internal/infrastructure/proxy"
	"github.com/apascualco/foodgate/internal/infrastructure/ratelimit"
	"github.com/apascualco/foodgate/internal/infrastructure/redis"
	"github.com/apascualco/foodgate/internal/infrastructure/tracing"
	"github.com/apascualco/foodgate/internal/infrastructure/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const docsTitle = "Food Ordering API"

type Server struct {
	router         *gin.Engine
	config         *config.Config
	httpServer     *http.Server
	startTime      time.Time
	registry       *application.Registry
	breakers       *application.Breakers
	proxy          *proxy.ProxyHandler
	docsStore      *docs.Store
	aggregator     *docs.Aggregator
	metrics        *observability.Prometheus
	exporter       tracing.SpanExporter
	authMiddleware *middleware.AuthMiddleware
	redisClient    *redis.Client
	rateLimiter    ratelimit.RateLimiter
}

func NewServer(cfg *config.Config) (*Server, error) {
	registry, err := application.NewRegistry(cfg.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to build service registry: %w", err)
	}
	slog.Info("service registry built",
		slog.Int("services", registry.Len()),
		slog.Any("names", registry.Names()),
	)

	breakers := application.NewBreakers(registry.Names(), application.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		HalfOpenRequests: cfg.BreakerHalfOpenRequests,
	})
	if !breakers.Enabled() {
		slog.Debug("circuit breakers disabled")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewPrometheus(promRegistry)
	exporter := tracing.NewExporter(cfg)

	var authMiddleware *middleware.AuthMiddleware
	if cfg.AdminJWTSecret != "" {
		jwtService, err := jwt.NewService(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
		authMiddleware = middleware.NewAuthMiddleware(jwtService)
		slog.Info("admin endpoints enabled")
	} else {
		slog.Warn("ADMIN_JWT_SECRET not configured, admin endpoints disabled")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
	}

	var rateLimiter ratelimit.RateLimiter
	if cfg.RateLimitEnabled {
		if redisClient != nil {
			rateLimiter = ratelimit.NewLimiter(redisClient.Client)
			slog.Info("rate limiting enabled with Redis")
		} else {
			rateLimiter = ratelimit.NewInMemoryLimiter()
			slog.Warn("rate limiting enabled with in-memory limiter (not recommended for production)")
		}
	} else {
		slog.Debug("rate limiting disabled")
	}

	var snapshots docs.SnapshotStore
	if redisClient != nil {
		snapshots = redis.NewSnapshotStore(redisClient.Client, cfg.DocsSnapshotTTL)
		slog.Info("documentation snapshots enabled", slog.Duration("ttl", cfg.DocsSnapshotTTL))
	}

	docsStore := docs.NewStore()
	aggregator := docs.NewAggregator(
		registry,
		docs.NewFetcher(cfg.DocsFetchTimeout),
		snapshots,
		docsStore,
		metrics,
		docs.Config{
			Title:       docsTitle,
			Version:     cfg.Version,
			PublicURL:   cfg.PublicURL,
			Concurrency: cfg.DocsFetchConcurrency,
		},
	)

	proxyHandler := proxy.NewProxyHandler(
		registry,
		breakers,
		upstream.NewClient(cfg.UpstreamTimeout, upstream.WithMaxResponseBytes(cfg.MaxResponseBytes)),
		cfg.MaxBodyBytes,
		metrics,
		exporter,
	)

	s := &Server{
		config:         cfg,
		startTime:      time.Now(),
		registry:       registry,
		breakers:       breakers,
		proxy:          proxyHandler,
		docsStore:      docsStore,
		aggregator:     aggregator,
		metrics:        metrics,
		exporter:       exporter,
		authMiddleware: authMiddleware,
		redisClient:    redisClient,
		rateLimiter:    rateLimiter,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	if s.config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.TraceMiddleware(middleware.NewW3CTraceProvider(), s.exporter))
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: s.config.CORSAllowedOrigins,
		AllowedMethods: s.config.CORSAllowedMethods,
		AllowedHeaders: s.config.CORSAllowedHeaders,
	}))

	if s.rateLimiter != nil {
		s.router.Use(middleware.RateLimitMiddleware(s.rateLimiter, s.config.RateLimitIPRPM, s.metrics))
	}

	var redisPinger handler.Pinger
	if s.redisClient != nil {
		redisPinger = s.redisClient
	}
	s.router.GET("/health", handler.HealthHandler(s.startTime, s.config.Version))
	s.router.GET("/ready", handler.ReadyHandler(s.docsStore, redisPinger))
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	s.setupDocsRoutes()
	s.setupAdminRoutes()
	s.router.NoRoute(s.proxy.Handle)
}

func (s *Server) setupDocsRoutes() {
	docsHandler := handler.NewDocsHandler(s.docsStore, s.aggregator)
	s.router.GET(handler.DocsJSONPath, docsHandler.JSON)
	s.router.GET(handler.DocsPath, docsHandler.Index)
	s.router.GET(handler.DocsPath+"/*any", docsHandler.UI())
}

func (s *Server) setupAdminRoutes() {
	if s.authMiddleware == nil {
		return
	}

	docsHandler := handler.NewDocsHandler(s.docsStore, s.aggregator)
	servicesHandler := handler.NewServicesHandler(s.registry, s.breakers, s.docsStore)

	internal := s.router.Group("/internal")
	internal.Use(s.authMiddleware.RequireAdmin())
	{
		internal.GET("/services", servicesHandler.List)
		internal.POST("/docs/refresh", docsHandler.Refresh)
	}
}

// Router exposes the configured engine, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// BuildDocs aggregates the upstream documentation once. Unreachable services
// are skipped, so this only fails if the merged document cannot be encoded.
func (s *Server) BuildDocs(ctx context.Context) error {
	_, err := s.aggregator.Refresh(ctx)
	return err
}

func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.exporter.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush spans: %w", err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
