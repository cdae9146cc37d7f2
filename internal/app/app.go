// Package app wires the pricing server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
	"github.com/xenking/pos-pricing/internal/domain/sale"
	"github.com/xenking/pos-pricing/internal/handler"
	"github.com/xenking/pos-pricing/internal/storage/postgres"
	"github.com/xenking/pos-pricing/internal/storage/rediscache"
	"github.com/xenking/pos-pricing/pkg/health"
	"github.com/xenking/pos-pricing/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// The cache is optional; without Redis every snapshot reads PostgreSQL.
	var cache redis.UniversalClient
	if cfg.Redis.URL != "" {
		client, err := newRedisClient(cfg.Redis.URL, m)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		cache = client

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	} else {
		lg.Warn("Redis URL not set, rule cache disabled")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	saleRepo := postgres.NewSaleRepository(pool)
	rules := rediscache.NewRules(postgres.NewRuleRepository(pool), cache, cfg.Redis.SnapshotTTL)

	// Domain services.
	pricingSvc, err := pricing.NewService(productRepo, rules,
		pricing.WithLocation(loc),
		pricing.WithTracerProvider(m.TracerProvider()),
		pricing.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create pricing service")
	}
	saleSvc := sale.NewService(pricingSvc, saleRepo, rules)
	manager := pricing.NewManager(rules, rules)

	r := chi.NewRouter()
	r.Use(httpmiddleware.Labeler(), httpmiddleware.LogRequests())
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(pricingSvc, saleSvc, manager).Mount(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.Instrument("pricing-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr), zap.Stringer("time_zone", loc))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func newRedisClient(url string, m *app.Telemetry) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client, redisotel.WithTracerProvider(m.TracerProvider())); err != nil {
		return nil, errors.Wrap(err, "instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(m.MeterProvider())); err != nil {
		return nil, errors.Wrap(err, "instrument redis metrics")
	}
	return client, nil
}
