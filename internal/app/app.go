package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mercadochaco/storefront/internal/domain/auth"
	"github.com/mercadochaco/storefront/internal/domain/order"
	"github.com/mercadochaco/storefront/internal/handler"
	"github.com/mercadochaco/storefront/internal/payment"
	"github.com/mercadochaco/storefront/internal/session"
	"github.com/mercadochaco/storefront/internal/storage/postgres"
	"github.com/mercadochaco/storefront/internal/storage/redis"
	"github.com/mercadochaco/storefront/pkg/health"
	"github.com/mercadochaco/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis holds anonymous device carts.
	rdb, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "create redis client")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("Close redis client", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Readiness, "redis", 2*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	redirector, err := payment.NewRedirector(cfg.PaymentBaseURL)
	if err != nil {
		return errors.Wrap(err, "create payment redirector")
	}
	orderService, err := order.NewService(orderRepo,
		order.WithPaymentHandoff(redirector),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	sessions := session.NewRegistry(
		redis.NewLocalCarts(rdb, cfg.Session.LocalCartTTL),
		cartRepo,
		productRepo,
		cfg.Session.IdleTTL,
	)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		sessions,
		orderService,
	)
	securityHandler := handler.NewSecurityHandler(
		auth.NewKeyChecker(apikeyRepo, []byte(cfg.APIKeyPepper)),
		auth.NewTokenVerifier([]byte(cfg.TokenSecret)),
	)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: httpmiddleware.HeaderOrIP(handler.DeviceIDHeader),
	})

	// Router: health endpoints + API routes on one server.
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes(securityHandler))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(router,
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins: cfg.CORS.Origins,
					AllowHeaders: []string{
						"Content-Type", "Authorization",
						handler.APIKeyHeader, handler.DeviceIDHeader,
						httpmiddleware.RequestIDHeader,
					},
					ExposeHeaders:    []string{handler.DeviceIDHeader, httpmiddleware.RequestIDHeader, "Location"},
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           86400,
				}),
				limiter.Middleware(),
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.LogRequests(),
			),
			"mercado-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthSvc.Run(gCtx, 10*time.Second) })
	g.Go(func() error { return sessions.Run(gCtx) })
	g.Go(func() error { return limiter.Run(gCtx) })
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
