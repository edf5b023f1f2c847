package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/proofroom/proofroom/internal/domain/order"
	"github.com/proofroom/proofroom/internal/domain/reconcile"
	"github.com/proofroom/proofroom/internal/handler"
	"github.com/proofroom/proofroom/internal/notify"
	"github.com/proofroom/proofroom/internal/payment/robokassa"
	"github.com/proofroom/proofroom/internal/payment/tinkoff"
	"github.com/proofroom/proofroom/internal/repository"
	"github.com/proofroom/proofroom/internal/sweeper"
	"github.com/proofroom/proofroom/pkg/health"
	"github.com/proofroom/proofroom/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the photo sweeper,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	galleryRepo := repository.NewGalleryRepository(pool)
	policyRepo := repository.NewPolicyRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)

	// Domain services.
	ledger := order.NewLedger(orderRepo, galleryRepo, policyRepo)
	notifySvc := notify.NewService(notificationRepo, lg.Named("notify"))
	engine := reconcile.New(ledger, notifySvc, lg.Named("reconcile"),
		reconcile.WithTelemetry(m.TracerProvider(), m.MeterProvider()))

	// Payment verifiers.
	robokassaVerifier := robokassa.New(cfg.Robokassa.Password2, orderRepo)
	tinkoffVerifier := tinkoff.New(cfg.Tinkoff.TerminalKey, cfg.Tinkoff.Secret, orderRepo)

	// HTTP surface.
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.New(ledger, engine, robokassaVerifier, tinkoffVerifier, security)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	stack := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "api_key"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(stack, "proofroom-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Photo expiry sweep runs for the lifetime of the server context.
	sweep := sweeper.New(galleryRepo, cfg.Sweeper.Interval, lg.Named("sweeper"))
	go sweep.Run(ctx)

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

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
