package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medmitra-kiosk/internal/api/router"
	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	appconfig "github.com/wolfman30/medmitra-kiosk/internal/config"
	httpmiddleware "github.com/wolfman30/medmitra-kiosk/internal/http/middleware"
	"github.com/wolfman30/medmitra-kiosk/internal/observability/metrics"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/session"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// API is the assembled booking HTTP stack.
type API struct {
	Handler http.Handler
	Backend *Backend
	Redis   *redis.Client
}

// Close releases the backend and Redis connections.
func (a *API) Close() {
	if a == nil {
		return
	}
	a.Backend.Close()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

// BuildAPI wires config into the full booking router. ctx bounds background
// helpers such as the in-memory rate limiter's janitor.
func BuildAPI(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*API, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	grid, err := BuildSlotGrid(cfg)
	if err != nil {
		return nil, err
	}
	sessions, err := BuildSessionManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	backend, err := BuildBackend(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	redisClient := BuildRedisClient(ctx, cfg, logger, true)
	catalog, catalogWriter := BuildCatalog(grid, redisClient)
	metricsHandler, bookingMetrics := BuildMetrics()
	service := BuildBookingService(cfg, backend, catalog, redisClient, bookingMetrics, logger)

	checks := map[string]router.HealthCheck{}
	for name, check := range backend.Checks {
		checks[name] = router.HealthCheck(check)
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	handler := router.New(&router.Config{
		Logger:             logger,
		BookingsHandler:    bookings.NewHandler(service, logger),
		ResourceHandler:    resource.NewHandler(catalog, catalogWriter, logger),
		SessionHandler:     session.NewHandler(sessions, logger),
		SessionManager:     sessions,
		MetricsHandler:     metricsHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        BuildRateLimiter(ctx, cfg, redisClient),
		HealthChecks:       checks,
	})
	return &API{Handler: handler, Backend: backend, Redis: redisClient}, nil
}

// BuildMetrics registers booking metrics on a private registry and returns
// the /metrics handler for it.
func BuildMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewBookingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// BuildBookingService applies config to the booking service. The request
// deduper is only enabled with Redis.
func BuildBookingService(cfg *appconfig.Config, backend *Backend, catalog resource.Catalog, redisClient *redis.Client, m *metrics.BookingMetrics, logger *logging.Logger) *bookings.Service {
	opts := []bookings.Option{
		bookings.WithPublisher(backend.Publisher),
		bookings.WithArchive(backend.Archive),
		bookings.WithMetrics(m),
		bookings.WithLocation(cfg.ClinicLocation()),
		bookings.WithMaxSlots(cfg.MaxBatchSlots),
	}
	if redisClient != nil {
		opts = append(opts, bookings.WithDeduper(bookings.NewDeduper(redisClient, cfg.BookingDedupeWindow)))
	}
	return bookings.NewService(backend.Store, catalog, logger, opts...)
}

// BuildRateLimiter shares limits across replicas through Redis when it is
// available and falls back to a per-process token bucket.
func BuildRateLimiter(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client) httpmiddleware.Limiter {
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return nil
	}
	if redisClient != nil {
		window := time.Duration(float64(cfg.RateLimitBurst) / cfg.RateLimitRPS * float64(time.Second))
		return httpmiddleware.NewRedisRateLimiter(redisClient, cfg.RateLimitBurst, window)
	}
	return httpmiddleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)
}
