package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Event bus backends for ride lifecycle events.
const (
	EventBusLog   = "log"
	EventBusKafka = "kafka"
	EventBusAMQP  = "amqp"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr         string
	RedisPassword     string
	RedisGeoKey       string
	RedisActivePrefix string
	ActiveRideTTL     time.Duration

	KafkaBrokers     []string
	KafkaTopic       string
	KafkaEventsTopic string

	EventBus     string
	AMQPURL      string
	AMQPExchange string

	PGDSN string

	JWTSecret string
	JWTTTL    time.Duration

	// InternalAPIKey guards /internal routes; empty disables them.
	InternalAPIKey string

	StripeAPIKey string
	FCMEndpoint  string
	FCMKey       string

	OSRMEndpoint string
	ETACacheTTL  time.Duration

	AvgSpeedKmh        float64
	SearchRadiusMeters float64
	SurgeMultiplier    float64
	MatcherTopN        int

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		RedisActivePrefix:  "ride:active:",
		ActiveRideTTL:      24 * time.Hour,
		KafkaTopic:         "driver-locations",
		KafkaEventsTopic:   "ride-events",
		EventBus:           EventBusLog,
		AMQPExchange:       "ride_topic",
		JWTTTL:             24 * time.Hour,
		ETACacheTTL:        time.Minute,
		AvgSpeedKmh:        30,
		SearchRadiusMeters: 5000,
		SurgeMultiplier:    1,
		MatcherTopN:        8,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.RedisActivePrefix, "REDIS_ACTIVE_PREFIX")
	setDurationFromEnv(&cfg.ActiveRideTTL, "ACTIVE_RIDE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")

	if v := os.Getenv("EVENT_BUS"); v != "" {
		cfg.EventBus = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)
	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMKey = os.Getenv("FCM_KEY")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	setFloatFromEnv(&cfg.AvgSpeedKmh, "MATCHER_AVG_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.SearchRadiusMeters, "MATCHER_SEARCH_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.SurgeMultiplier, "SURGE_MULTIPLIER", &errs)
	setIntFromEnv(&cfg.MatcherTopN, "MATCHER_TOP_N", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if c.MatcherTopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if c.SearchRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_SEARCH_RADIUS_M must be > 0"))
	}
	if c.SurgeMultiplier < 1 {
		errs = append(errs, fmt.Errorf("SURGE_MULTIPLIER must be >= 1"))
	}
	if c.AvgSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_AVG_SPEED_KMH must be > 0"))
	}
	switch c.EventBus {
	case EventBusLog:
	case EventBusKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("EVENT_BUS=kafka requires KAFKA_BROKERS"))
		}
	case EventBusAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, fmt.Errorf("EVENT_BUS=amqp requires AMQP_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_BUS %q", c.EventBus))
	}
	return errs
}

// ConsumerConfig drives the location consumer process.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	RedisGeoKey  string
	PGDSN        string
	MetricsAddr  string
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroup:   "ride-companion-consumer",
		RedisGeoKey:  "drivers_geo",
		MetricsAddr:  ":2112",
		LogLevel:     "info",
	}
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.PGDSN == "" {
		return cfg, fmt.Errorf("PG_DSN is required: the consumer writes driver positions to the shared store")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
