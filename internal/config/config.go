package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the application configuration.
var Module = fx.Provide(Load)

// Presence TTL bounds. External config decides the exact window, but the
// value is always clamped, never unbounded.
const (
	DefaultPresenceTTL = 60 * time.Second
	MinPresenceTTL     = 15 * time.Second
	MaxPresenceTTL     = 15 * time.Minute
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PresenceTTL time.Duration

	BlobLocalDir      string
	BlobSigningSecret string
	BlobCDNURL        string

	ExportQueueName string

	IngestRatePerSec float64
	IngestBurst      int

	SchedulerInterval time.Duration
	CyclePeriod       time.Duration
}

// Load loads configuration from environment variables and a .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "coda"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "coda"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		PresenceTTL: ClampPresenceTTL(getenvDuration("PRESENCE_TTL", DefaultPresenceTTL)),

		BlobLocalDir:      getenv("BLOB_LOCAL_DIR", ".blobs"),
		BlobSigningSecret: getenv("BLOB_SIGNING_SECRET", ""),
		BlobCDNURL:        strings.TrimRight(getenv("BLOB_CDN_URL", ""), "/"),

		ExportQueueName: getenv("EXPORT_QUEUE_NAME", "mixdown-exports"),

		IngestRatePerSec: getenvFloat("INGEST_RATE_PER_SEC", 0),
		IngestBurst:      int(getenvInt64("INGEST_BURST", 0)),

		SchedulerInterval: getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		CyclePeriod:       getenvDuration("CYCLE_PERIOD", 24*time.Hour),
	}

	return cfg
}

// ClampPresenceTTL bounds a configured presence window to [15s, 15m].
func ClampPresenceTTL(ttl time.Duration) time.Duration {
	if ttl < MinPresenceTTL {
		return MinPresenceTTL
	}
	if ttl > MaxPresenceTTL {
		return MaxPresenceTTL
	}
	return ttl
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts either a Go duration string or a plain second count.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
