package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fixhaven/fixhaven-api/internal/api/router"
	"github.com/fixhaven/fixhaven-api/internal/booking"
	"github.com/fixhaven/fixhaven-api/internal/catalog"
	appconfig "github.com/fixhaven/fixhaven-api/internal/config"
	"github.com/fixhaven/fixhaven-api/internal/events"
	"github.com/fixhaven/fixhaven-api/internal/notify"
	"github.com/fixhaven/fixhaven-api/internal/observability/metrics"
	"github.com/fixhaven/fixhaven-api/internal/payments"
	"github.com/fixhaven/fixhaven-api/pkg/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting fixhaven API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	// Metrics registry with process/go collectors plus domain counters.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// Redis backs the payment velocity limits; optional.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisOpts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, velocity limits disabled", "error", err)
			redisClient = nil
		}
	}

	// Stores.
	bookingRepo := booking.NewRepository(pool)
	catalogStore := catalog.NewStore(pool)
	outboxStore := events.NewOutboxStore(pool)
	processedStore := events.NewProcessedStore(pool)

	// Notifications delivered through the event outbox.
	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	} else {
		logger.Warn("sendgrid not configured, using stub email sender")
		emailSender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(emailSender, cfg.NotifyOpsEmail, logger)
	dispatcher := events.NewDispatcher(outboxStore, notifier, logger)

	// Payment gateway and services.
	stripeGateway := payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeTimeout, logger)
	if cfg.StripeBaseURL != "" {
		stripeGateway = stripeGateway.WithBaseURL(cfg.StripeBaseURL)
	}

	var velocity *payments.Velocity
	if redisClient != nil {
		velocity = payments.NewVelocity(redisClient, logger)
	}
	paymentSvc := payments.NewService(bookingRepo, stripeGateway, logger,
		payments.WithVelocity(velocity),
		payments.WithEventPublisher(dispatcher),
		payments.WithDefaultCurrency(cfg.DefaultCurrency),
	)

	location, err := time.LoadLocation(cfg.BookingTimezone)
	if err != nil {
		logger.Warn("invalid booking timezone, falling back to UTC", "tz", cfg.BookingTimezone)
		location = time.UTC
	}
	bookingSvc := booking.NewService(bookingRepo, catalogStore, logger,
		booking.WithSlotWindow(booking.SlotWindow{
			OpenHour:  cfg.SlotOpenHour,
			CloseHour: cfg.SlotCloseHour,
			Minutes:   cfg.SlotMinutes,
		}),
		booking.WithLocation(location),
		booking.WithIntentCreator(paymentSvc),
		booking.WithEventPublisher(dispatcher),
		booking.WithMetrics(bookingMetrics),
		booking.WithMaxNoteLength(cfg.MaxSpecialLength),
	)

	// Handlers and router.
	bookingHandler := booking.NewHandler(bookingSvc, logger)
	paymentsHandler := payments.NewHandler(paymentSvc, logger)
	webhookHandler := payments.NewWebhookHandler(
		cfg.StripeWebhookSecret, bookingRepo, processedStore, dispatcher, bookingMetrics, logger)

	r := router.New(&router.Config{
		Logger:          logger,
		BookingHandler:  bookingHandler,
		PaymentsHandler: paymentsHandler,
		WebhookHandler:  webhookHandler,
		Dispatcher:      dispatcher,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		DB:              pool,

		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
