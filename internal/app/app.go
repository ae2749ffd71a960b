package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
	"github.com/xenking/passproduct-escrow/internal/handler"
	"github.com/xenking/passproduct-escrow/pkg/health"
	"github.com/xenking/passproduct-escrow/pkg/httpmiddleware"
)

const serviceName = "escrow-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("payment", cfg.Payment.Provider),
	)

	b, err := openBackend(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	healthSvc := health.New()
	if b.ping != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, b.ping)
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	orders := order.NewService(b.store, b.orders, b.listings, newProcessor(cfg.Payment), b.payouts, b.inbox,
		order.WithCurrency(cfg.Payment.Currency),
		order.WithPaymentTimeout(cfg.Payment.Timeout),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	h := handler.NewHandler(orders, b.inbox, auth.NewKeyResolver(b.apiKeys, []byte(cfg.APIKeyPepper)))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2*cfg.Payment.Timeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(lg, m, h, healthSvc, cfg.RateLimit),
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

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRouter mounts the probes and the API behind the shared middleware
// stack. Rate limits apply per authenticated caller.
func newRouter(
	lg *zap.Logger,
	t httpmiddleware.Telemetry,
	h *handler.Handler,
	healthSvc *health.Health,
	rl RateLimitConfig,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument(serviceName, t),
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Mount("/api", h.Router(httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
		Max:     rl.Max,
		Window:  rl.Window,
		KeyFunc: rateLimitKey,
	})))
	return r
}

func rateLimitKey(r *http.Request) string {
	actor, ok := handler.ActorFrom(r.Context())
	if !ok {
		return "ip:" + httpmiddleware.ClientIP(r)
	}
	if actor.IsSystem() {
		return "system:" + actor.UserID
	}
	return "user:" + actor.UserID
}
