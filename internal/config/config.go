package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Closure      ClosureConfig
	Live         LiveConfig
	Tracing      TracingConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	// SeedFile preloads investors and staff into the in-memory store.
	SeedFile string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig selects outbound notification sinks.
type NotificationConfig struct {
	WebhookURL     string
	WebhookTimeout time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	PortalBaseURL  string
}

// ClosureConfig tunes the closure sweep.
type ClosureConfig struct {
	SweepSchedule string
	SweepLockTTL  time.Duration
}

// LiveConfig tunes live query delivery.
type LiveConfig struct {
	RefreshInterval time.Duration
	FeedBackend     string
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled bool
}

const maxRefreshInterval = time.Minute

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	refresh := getEnvAsDuration("LIVE_REFRESH_INTERVAL", 30*time.Second)
	if refresh <= 0 || refresh > maxRefreshInterval {
		refresh = maxRefreshInterval
	}

	feed := strings.ToLower(getEnv("LIVE_FEED_BACKEND", "memory"))
	if feed != "memory" && feed != "redis" {
		return nil, fmt.Errorf("invalid LIVE_FEED_BACKEND %q", feed)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "account-workflow-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			SeedFile:              os.Getenv("APP_SEED_FILE"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			WebhookTimeout: getEnvAsDuration("NOTIFY_WEBHOOK_TIMEOUT", 5*time.Second),
			KafkaBrokers:   getEnvAsList("NOTIFY_KAFKA_BROKERS"),
			KafkaTopic:     getEnv("NOTIFY_KAFKA_TOPIC", "backoffice.notifications"),
			PortalBaseURL:  strings.TrimRight(getEnv("NOTIFY_PORTAL_BASE_URL", ""), "/"),
		},
		Closure: ClosureConfig{
			SweepSchedule: getEnv("CLOSURE_SWEEP_SCHEDULE", "@every 15m"),
			SweepLockTTL:  getEnvAsDuration("CLOSURE_SWEEP_LOCK_TTL", 5*time.Minute),
		},
		Live: LiveConfig{
			RefreshInterval: refresh,
			FeedBackend:     feed,
		},
		Tracing: TracingConfig{
			Enabled: getEnvAsBool("TRACING_ENABLED", false),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the bearer token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
