package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/takeout/internal/broadcast"
	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/order"
	"github.com/xenking/takeout/internal/domain/payment"
	"github.com/xenking/takeout/internal/handler"
	"github.com/xenking/takeout/internal/paygate"
	"github.com/xenking/takeout/pkg/health"
	"github.com/xenking/takeout/pkg/httpmiddleware"
)

const serviceName = "takeout-api"

// Run creates all dependencies, starts the HTTP server and the payment
// consumer, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	st, err := openStorage(ctx, lg, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.close()
	if st.ping != nil {
		healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.Ping(st.ping))
	}

	// Operator notifications.
	var notifier order.Notifier = broadcast.Log{}
	if cfg.AMQP.URL != "" {
		pub, err := broadcast.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "connect to rabbitmq")
		}
		defer func() { _ = pub.Close() }()
		healthSvc.Add(health.Readiness, "rabbitmq", 5*time.Second, health.Ping(pub))
		notifier = pub
		lg.Info("Broadcasting notifications", zap.String("exchange", cfg.AMQP.Exchange))
	}

	// Payment provider.
	var gateway payment.Gateway = paygate.NewSandbox()
	if cfg.Payment.BaseURL != "" {
		gateway = paygate.NewClient(paygate.Config{
			BaseURL:    cfg.Payment.BaseURL,
			MerchantID: cfg.Payment.MerchantID,
			AppID:      cfg.Payment.AppID,
			Secret:     cfg.Payment.Secret,
			Timeout:    cfg.Payment.Timeout,
		})
	} else {
		lg.Warn("Payment provider not configured, using sandbox")
	}

	metrics, err := order.NewMetrics(m.MeterProvider().Meter(serviceName))
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}
	tracer := m.TracerProvider().Tracer(serviceName)

	// Domain services.
	cartService := cart.NewService(st.carts, st.catalog)
	orderService := order.NewService(
		st.orders, st.carts, st.tx, st.addresses, gateway, notifier,
		order.WithMetrics(metrics),
		order.WithTracer(tracer),
	)

	if cfg.Admin.KeyHash == "" {
		lg.Warn("Admin key not configured, operator routes are unauthenticated")
	}
	h := handler.NewHandler(handler.HandlerConfig{
		AdminKeyHash:  cfg.Admin.KeyHash,
		Pepper:        []byte(cfg.Admin.Pepper),
		PaymentSecret: cfg.Payment.Secret,
	}, cartService, orderService)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.Live)
	router.Get("/readyz", healthSvc.Ready)
	router.Mount("/", h.Router())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			cors.Handler(cors.Options{
				AllowedOrigins:   cfg.CORS.Origins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
				AllowedHeaders:   []string{"Content-Type", handler.HeaderUserID, handler.HeaderAdminKey},
				ExposedHeaders:   []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		listener := paygate.NewListener(paygate.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.PaymentTopic,
			GroupID: cfg.Kafka.GroupID,
		}, orderService, tracer)
		defer func() { _ = listener.Close() }()
		healthSvc.Add(health.Readiness, "kafka", 5*time.Second, health.Ping(listener))

		g.Go(func() error {
			lg.Info("Consuming payment results", zap.String("topic", cfg.Kafka.PaymentTopic))
			return listener.Run(gctx)
		})
	}

	healthSvc.Start(gctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
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
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
