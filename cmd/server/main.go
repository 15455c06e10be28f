package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-companion/internal/auth"
	"github.com/example/ride-companion/internal/config"
	"github.com/example/ride-companion/internal/directory"
	"github.com/example/ride-companion/internal/dispatch"
	"github.com/example/ride-companion/internal/eta"
	"github.com/example/ride-companion/internal/geo"
	httpapi "github.com/example/ride-companion/internal/http"
	"github.com/example/ride-companion/internal/ingest"
	"github.com/example/ride-companion/internal/logging"
	"github.com/example/ride-companion/internal/matcher"
	"github.com/example/ride-companion/internal/payments"
	"github.com/example/ride-companion/internal/storage"
)

func main() {
	// a missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

type readyCheck func(context.Context) error

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var (
		rides   storage.RideStore
		drivers storage.DriverStore
		checks  []readyCheck
	)
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migration applied", "file", "001_create_rides.sql")
		}
		rides, drivers = pg, pg
		checks = append(checks, pg.Ping)
	} else {
		logger.Warn("PG_DSN not set, rides and drivers are kept in memory")
		mem := storage.NewMemoryStore()
		rides, drivers = mem, mem
	}

	var (
		locator geo.Locator         = geo.NewIndex()
		active  storage.ActiveIndex = storage.NewMemoryActiveIndex()
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		locator = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		active = storage.NewRedisActiveIndex(rc, cfg.RedisActivePrefix, cfg.ActiveRideTTL)
		checks = append(checks, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	}

	dir := directory.New(drivers, locator, logger, cfg.MatcherTopN)

	var routing eta.Client
	if cfg.OSRMEndpoint != "" {
		routing = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	estimator := eta.NewEstimator(routing, eta.NewCache(cfg.ETACacheTTL), cfg.AvgSpeedKmh, logger)

	var gateway payments.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeClient(cfg.StripeAPIKey)
	} else {
		logger.Warn("STRIPE_API_KEY not set, card holds are simulated in memory")
		gateway = payments.NewMemoryGateway()
	}

	ws := dispatch.NewWSRegistry(logger)
	var fallback dispatch.Notifier = &dispatch.LogNotifier{Logger: logger}
	if cfg.FCMEndpoint != "" {
		fallback = dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey)
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEventsTopic)
		defer producer.Close()
	}
	var events ingest.EventPublisher
	switch cfg.EventBus {
	case config.EventBusKafka:
		events = producer
	case config.EventBusAMQP:
		pub, err := ingest.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		events = pub
	default:
		events = &ingest.LogPublisher{Logger: logger}
	}

	svc := &matcher.Service{
		Drivers:            dir,
		Rides:              rides,
		Active:             active,
		Notifier:           dispatch.NewPushDispatcher(ws, fallback),
		Events:             events,
		Payments:           gateway,
		ETA:                estimator,
		Logger:             logger,
		Surge:              cfg.SurgeMultiplier,
		SearchRadiusMeters: cfg.SearchRadiusMeters,
	}
	restored, err := svc.RestoreActive(ctx)
	if err != nil {
		logger.Warn("active ride index partially restored", "restored", restored, "err", err)
	} else {
		logger.Info("active ride index restored", "restored", restored)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}
	api := httpapi.NewServer(logger, svc, dir, issuer, ws)
	api.InternalKey = cfg.InternalAPIKey
	if cfg.InternalAPIKey == "" {
		logger.Warn("INTERNAL_API_KEY not set, /internal routes are disabled")
	}
	if producer != nil {
		api.Locations = producer
	}
	api.Ready = func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-api listening", "addr", cfg.HTTPAddr, "event_bus", cfg.EventBus)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
