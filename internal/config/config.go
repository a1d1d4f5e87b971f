package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewTariffConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	DeviceRegistryPath string
	TariffConfigPath   string
	OfficerAPIToken    string
	CORSAllowedOrigins []string

	Ingest    IngestConfig
	RateLimit RateLimitConfig
	Billing   BillingRunConfig
	AMQP      AMQPConfig
}

// IngestConfig controls the device ingestion path.
type IngestConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// RateLimitConfig selects and sizes the per-device limiter.
type RateLimitConfig struct {
	Backend       string
	Window        time.Duration
	Limit         int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SweepInterval time.Duration
}

// BillingRunConfig controls the monthly billing scheduler.
type BillingRunConfig struct {
	SchedulerEnabled bool
	RunDay           int
	CheckInterval    time.Duration
	BaseTimeout      time.Duration
	PerReadingBudget time.Duration
	LockTTL          time.Duration
}

// AMQPConfig configures the optional event publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
}

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "netmetering"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "netmetering"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "netmetering.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		DeviceRegistryPath: strings.TrimSpace(getenv("DEVICE_REGISTRY_PATH", "devices.yml")),
		TariffConfigPath:   strings.TrimSpace(getenv("TARIFF_CONFIG_PATH", "")),
		OfficerAPIToken:    strings.TrimSpace(getenv("OFFICER_API_TOKEN", "")),
		CORSAllowedOrigins: parseList(getenv("CORS_ALLOWED_ORIGINS", "")),

		Ingest: IngestConfig{
			RequestTimeout: getenvDuration("INGEST_REQUEST_TIMEOUT", 5*time.Second),
			MaxBodyBytes:   int64(getenvInt("INGEST_MAX_BODY_BYTES", 64*1024)),
		},
		RateLimit: RateLimitConfig{
			Backend:       strings.ToLower(getenv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
			Window:        getenvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Limit:         getenvInt("RATE_LIMIT_MAX_REQUESTS", 30),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("REDIS_DB", 0),
			SweepInterval: getenvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		},
		Billing: BillingRunConfig{
			SchedulerEnabled: getenvBool("BILLING_SCHEDULER_ENABLED", false),
			RunDay:           getenvInt("BILLING_RUN_DAY", 1),
			CheckInterval:    getenvDuration("BILLING_CHECK_INTERVAL", time.Hour),
			BaseTimeout:      getenvDuration("BILLING_BASE_TIMEOUT", 30*time.Second),
			PerReadingBudget: getenvDuration("BILLING_PER_READING_BUDGET", 200*time.Millisecond),
			LockTTL:          getenvDuration("BILLING_LOCK_TTL", 30*time.Minute),
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "netmetering.events"),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
