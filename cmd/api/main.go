package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/api"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/domain"
	"marketplace/internal/events"
	"marketplace/internal/logging"
	"marketplace/internal/metrics"
	"marketplace/internal/notify"
	"marketplace/internal/service"
	"marketplace/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(&logger, "database"),
		database.WithBusyTimeout(cfg.Database.BusyTimeout))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := domain.SystemClock{}
	bus := events.NewEventBus()
	subscribeAuditLog(bus, logging.Component(&logger, "events"))

	publisher, feed, cleanup := initPublisher(ctx, cfg, &logger)
	defer cleanup()

	dispatcher := notify.NewDispatcher(db, publisher, clock, logging.Component(&logger, "notify"))

	svcLogger := logging.Component(&logger, "service")
	services := api.Services{
		Bookings:      service.NewBookingService(db, bus, dispatcher, clock, svcLogger),
		Emergencies:   service.NewEmergencyService(db, bus, dispatcher, clock, svcLogger),
		Reviews:       service.NewReviewService(db, db, db, bus, dispatcher, clock, cfg.Reviews.EditWindow(), svcLogger),
		Notifications: dispatcher,
		Feed:          feed,
		Health:        db,
		Clock:         clock,
		ExportDir:     cfg.Exports.Path,
	}

	relay := worker.NewRelay(db, publisher, clock, worker.RetryPolicy{
		MaxRetries: cfg.Notifications.MaxRetries,
		BaseDelay:  cfg.Notifications.RetryBase,
		MaxDelay:   cfg.Notifications.RetryMax,
		Factor:     cfg.Notifications.RetryFactor,
	}, logging.Component(&logger, "relay")).WithPolling(cfg.Notifications.RelayInterval, cfg.Notifications.RelayBatch)
	go relay.Start(ctx)

	backups := database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup"))
	go backups.Start(ctx)

	startMetrics(ctx, cfg, &logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, only background workers will run")
		<-ctx.Done()
		return nil
	}

	httpServer := api.NewHTTPServer(cfg.API, services, logging.Component(&logger, "http"))
	return serve(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// initPublisher picks the configured transport and puts the in-memory hub
// behind it, so a broker outage degrades to local delivery. The returned feed
// backs the live stream and recent inbox endpoints.
func initPublisher(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Publisher, notify.Feed, func()) {
	hub := notify.NewHub(50)
	notifyLogger := logging.Component(logger, "notify")

	switch cfg.Notifications.Backend {
	case config.BackendRedis:
		client := notify.NewRedisClient(cfg.Redis)
		if err := notify.Ping(ctx, client); err != nil {
			logger.Warn().Err(err).Msg("redis connection failed, starting on in-memory notifications")
		} else {
			logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		}
		primary := notify.NewRedisPublisher(client, cfg.Notifications.ChannelPrefix)
		return notify.NewFailoverPublisher(primary, hub, notifyLogger), primary, closeRedis(client)
	case config.BackendAMQP:
		broker := notify.NewAMQPPublisher(cfg.Notifications.AMQPURL, cfg.Notifications.Queue, notifyLogger)
		// a queue has no per-user read side, so streams are served from the hub
		primary := notify.NewMirrorPublisher(broker, hub)
		return notify.NewFailoverPublisher(primary, hub, notifyLogger), hub, func() { _ = broker.Close() }
	default:
		return hub, hub, func() {}
	}
}

func closeRedis(client *redis.Client) func() {
	return func() { _ = client.Close() }
}

func subscribeAuditLog(bus *events.EventBus, logger *zerolog.Logger) {
	types := []string{
		events.EventBookingCreated, events.EventBookingAccepted, events.EventBookingRejected,
		events.EventBookingStarted, events.EventBookingCompleted, events.EventBookingCancelled,
		events.EventEmergencyCreated, events.EventEmergencyClaimed, events.EventEmergencyStarted, events.EventEmergencyCompleted,
		events.EventReviewCreated, events.EventReviewUpdated, events.EventReviewDeleted, events.EventReviewModerated,
		events.EventRatingUpdated,
	}
	for _, typ := range types {
		bus.Subscribe(typ, func(ev *events.Event) error {
			logger.Info().Str("event_id", ev.ID).Str("type", ev.Type).RawJSON("payload", ev.Payload).Msg("domain event")
			return nil
		})
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
