package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-companion/internal/config"
	"github.com/example/ride-companion/internal/directory"
	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/logging"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	locationUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_updates_total",
		Help: "Total driver positions applied to the directory",
	})
	locationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_errors_total",
		Help: "Total driver positions that could not be applied",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, locationUpdates, locationErrors)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// allow overriding for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger("location-consumer", cfg.LogLevel)
	slog.SetDefault(logger)

	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer pg.Close()

	var (
		locator geo.Locator = geo.NewIndex()
		rc      *redis.Client
	)
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rc.Close()
		locator = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
	} else {
		logger.Warn("REDIS_ADDR not set, positions reach the store but not the shared geo index")
	}
	dir := directory.New(pg, locator, logger, 0)

	go serveHealth(cfg.MetricsAddr, pg, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, dir, logger)
	logger.Info("shutting down consumer")
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume reads until ctx is done. Read errors back off exponentially up to
// maxBackoff; bad messages are counted and skipped.
func consume(ctx context.Context, r messageReader, la LocationApplier, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		loc, err := decodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "err", err)
			continue
		}
		if err := applyWithRetry(ctx, la, loc, 3, 200*time.Millisecond); err != nil {
			locationErrors.Inc()
			logger.Error("location update failed", "driver_id", loc.DriverID, "err", err)
			continue
		}
		locationUpdates.Inc()
	}
}

func decodeLocation(b []byte) (models.DriverLocation, error) {
	var loc models.DriverLocation
	if err := json.Unmarshal(b, &loc); err != nil {
		return loc, err
	}
	if loc.DriverID == "" {
		return loc, errors.New("missing driverId")
	}
	if !loc.Coordinates.Valid() {
		return loc, fmt.Errorf("coordinates out of range: %v", loc.Coordinates)
	}
	return loc, nil
}

// LocationApplier is the part of the driver directory the consumer writes to.
type LocationApplier interface {
	UpdateLocation(ctx context.Context, driverID string, p geo.Point) error
}

// applyWithRetry retries transient failures with doubling delay. Unknown
// drivers and invalid points are permanent and fail immediately.
func applyWithRetry(ctx context.Context, la LocationApplier, loc models.DriverLocation, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = la.UpdateLocation(ctx, loc.DriverID, loc.Coordinates)
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation) {
			return err
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func serveHealth(addr string, pg *storage.PostgresStore, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Ping(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		if rc != nil {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}
