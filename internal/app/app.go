package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/payment"
	"github.com/xenking/oolio-orders/internal/domain/pricing"
	"github.com/xenking/oolio-orders/internal/domain/promo"
	"github.com/xenking/oolio-orders/internal/handler"
	"github.com/xenking/oolio-orders/internal/notify"
	"github.com/xenking/oolio-orders/internal/storage/observable"
	"github.com/xenking/oolio-orders/pkg/health"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

const serviceName = "orders-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	s, err := build(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer s.store.Close()

	s.health.Start(ctx, 10*time.Second)
	s.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Stripe.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := s.closeEvents(shutdownCtx); err != nil {
			lg.Error("Event dispatcher shutdown error", zap.Error(err))
		}
		s.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// application is the assembled server before it starts listening.
type application struct {
	handler     http.Handler
	health      *health.Health
	store       *storage
	closeEvents func(context.Context) error
}

func build(ctx context.Context, lg *zap.Logger, tel httpmiddleware.Telemetry, cfg *Config) (_ *application, rerr error) {
	store, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr != nil {
			store.Close()
		}
	}()

	dbMetrics, err := observable.NewMetrics(tel.MeterProvider().Meter(serviceName))
	if err != nil {
		return nil, errors.Wrap(err, "create db metrics")
	}
	orders := observable.NewOrderRepository(store.orders, tel.TracerProvider(), dbMetrics)

	calc, err := newCalculator(cfg)
	if err != nil {
		return nil, err
	}

	promos := promo.NewFilteredCatalog(store.promos, cfg.Promo.FalsePositiveRate, lg.Named("promo"))
	if err := promos.Refresh(ctx); err != nil {
		return nil, errors.Wrap(err, "load promo codes")
	}
	go promos.Run(ctx, cfg.Promo.Refresh)

	referral, err := cfg.Pricing.referralPercent()
	if err != nil {
		return nil, err
	}

	opts := []order.Option{
		order.WithNumberPrefix(cfg.NumberPrefix),
		order.WithProductCatalog(store.products),
		order.WithTelemetry(tel.TracerProvider(), tel.MeterProvider()),
	}
	if cfg.Stripe.SecretKey != "" {
		gw, err := payment.NewStripe(payment.StripeConfig{
			SecretKey: cfg.Stripe.SecretKey,
			AccountID: cfg.Stripe.AccountID,
			Timeout:   cfg.Stripe.Timeout,
		}, lg.Named("stripe"))
		if err != nil {
			return nil, errors.Wrap(err, "create stripe gateway")
		}
		opts = append(opts, order.WithGateway(gw))
	} else {
		lg.Warn("No Stripe key configured, payments are disabled")
	}

	events, closeEvents, err := newNotifier(lg, cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, order.WithNotifier(events))

	orderService, err := order.NewService(orders, calc, promo.NewResolver(promos, referral), opts...)
	if err != nil {
		_ = closeEvents(ctx)
		return nil, errors.Wrap(err, "create order service")
	}

	// Health check service.
	healthSvc := health.New()
	if store.pool != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(store.pool))
	}
	healthSvc.AddReadinessCheck("events", time.Second, health.BacklogCheck(events.Len, backlogLimit(events)))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{},
		orderService,
		store.products,
		handler.NewSecurityHandler(store.apikeys, []byte(cfg.APIKeyPepper)),
	)

	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Mount("/", h.Routes())

	return &application{
		health:      healthSvc,
		store:       store,
		closeEvents: closeEvents,
		handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "Idempotency-Key", "X-Request-ID"},
				ExposeHeaders:    []string{"X-Request-ID", "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument(serviceName, tel),
			httpmiddleware.LogRequests(),
		),
	}, nil
}

// backlogLimit is the queue depth at which the instance reports not ready.
func backlogLimit(events *notify.Async) int {
	return max(events.Cap()*9/10, 1)
}

func newCalculator(cfg *Config) (*pricing.Calculator, error) {
	p := cfg.Pricing
	rates, err := pricing.NewJurisdictionRates(p.DomesticCountry, p.TaxRates)
	if err != nil {
		return nil, errors.Wrap(err, "parse tax rates")
	}
	table := pricing.NewRateTable(cfg.Currency, map[pricing.Method]int64{
		pricing.MethodStandard:  p.StandardCost,
		pricing.MethodExpress:   p.ExpressCost,
		pricing.MethodOvernight: p.OvernightCost,
		pricing.MethodPickup:    p.PickupCost,
	})
	return pricing.NewCalculator(pricing.Config{
		Currency:               cfg.Currency,
		FreeShippingThreshold:  p.FreeShippingThreshold,
		InternationalSurcharge: p.InternationalSurcharge,
		DomesticCountry:        p.DomesticCountry,
		QuoteTTL:               p.QuoteTTL,
	}, table, rates), nil
}

// newNotifier builds the asynchronous event pipeline. Events are always
// logged and also published to AMQP when a broker is configured.
func newNotifier(lg *zap.Logger, cfg *Config) (*notify.Async, func(context.Context) error, error) {
	sinks := notify.Multi{notify.NewLog(lg.Named("events"))}

	var broker *notify.AMQP
	if cfg.AMQP.URL != "" {
		var err error
		broker, err = notify.DialAMQP(notify.AMQPConfig{
			URL:           cfg.AMQP.URL,
			Exchange:      cfg.AMQP.Exchange,
			RoutingPrefix: "orders",
			MaxRetries:    cfg.AMQP.MaxRetries,
			RetryDelay:    cfg.AMQP.RetryDelay,
		}, lg.Named("amqp"))
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect amqp")
		}
		sinks = append(sinks, broker)
	}

	async := notify.NewAsync(sinks, notify.AsyncConfig{
		Workers: cfg.Notify.Workers,
		Buffer:  cfg.Notify.Buffer,
		Timeout: cfg.Notify.Timeout,
	}, lg.Named("events"))

	closeFn := func(ctx context.Context) error {
		err := async.Close(ctx)
		if broker != nil {
			if cerr := broker.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	}
	return async, closeFn, nil
}
