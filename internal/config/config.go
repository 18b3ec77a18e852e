package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port string
	// BaseURL prefixes the signed view/click URLs handed to publisher pages.
	BaseURL string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DecisionTimeout bounds the time spent picking an ad for one request.
	// Decisions that exceed it are cancelled and answered with an empty body.
	DecisionTimeout time.Duration

	RedisAddr     string
	PostgresDSN   string
	ClickHouseDSN string
	GeoIPDB       string

	// OfferTable is the name of the active offers table. Offers are rolled
	// by pointing this at a fresh table and archiving the old one.
	OfferTable string

	// ClientIDSecret salts the per-session client id hash.
	ClientIDSecret string
	// ProxySecret signs view/click/view-time proxy URLs.
	ProxySecret string

	// NonceTTL is how long an offer accepts view and click events.
	NonceTTL time.Duration
	// StickyTTL is how long repeated decisions for the same client return
	// the same ad. Zero disables sticky decisions.
	StickyTTL time.Duration
	// CountersTTL is the lifetime of the local views/clicks-today cache.
	CountersTTL time.Duration

	// DoNotTrack drops user agents from persisted non-click events.
	DoNotTrack bool
	// RecordViews stores a View row for every billed view regardless of the
	// per-publisher flag.
	RecordViews bool
	// MaxViewTime bounds the accepted view_time value in seconds.
	MaxViewTime int

	BlocklistPath string
	GeographyPath string

	// RateLimits lists fixed-window rules applied per (IP, event type),
	// e.g. "3:5m,10:1h" for 3 events per 5 minutes and 10 per hour.
	RateLimits       string
	RateLimitEnabled bool

	ReloadInterval     time.Duration
	RollupInterval     time.Duration
	HeartbeatThreshold time.Duration

	ArchiveBucket string
	ArchivePrefix string
	AWSRegion     string

	ServiceName string
	DebugTrace  bool

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// ClickHouse connection pooling configuration
	CHMaxOpenConns int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent. A .env file in the working directory
// is read first when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.BaseURL = getenv("BASE_URL", "http://localhost:8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.DecisionTimeout = envDuration("DECISION_TIMEOUT", 50*time.Millisecond)

	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.GeoIPDB = getenv("GEOIP_DB", "internal/geoip/testdata/GeoLite2-City.mmdb")

	cfg.OfferTable = getenv("OFFER_TABLE", "offers")

	cfg.ClientIDSecret = getenv("CLIENT_ID_SECRET", "")
	cfg.ProxySecret = getenv("PROXY_SECRET", "")

	cfg.NonceTTL = envDuration("NONCE_TTL", 4*time.Hour)
	cfg.StickyTTL = envDuration("STICKY_TTL", time.Minute)
	cfg.CountersTTL = envDuration("COUNTERS_TTL", 5*time.Second)

	cfg.DoNotTrack = envBool("DO_NOT_TRACK", false)
	cfg.RecordViews = envBool("RECORD_VIEWS", false)
	cfg.MaxViewTime = envInt("MAX_VIEW_TIME", 4*3600)

	cfg.BlocklistPath = getenv("BLOCKLIST_PATH", "")
	cfg.GeographyPath = getenv("GEOGRAPHY_PATH", "")

	cfg.RateLimits = getenv("RATE_LIMITS", "3:5m,10:1h")
	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)

	// default to 30 seconds between automatic reloads
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)
	cfg.RollupInterval = envDuration("ROLLUP_INTERVAL", 5*time.Minute)
	cfg.HeartbeatThreshold = envDuration("HEARTBEAT_THRESHOLD", 15*time.Minute)

	cfg.ArchiveBucket = getenv("ARCHIVE_BUCKET", "")
	cfg.ArchivePrefix = getenv("ARCHIVE_PREFIX", "offers")
	cfg.AWSRegion = getenv("AWS_REGION", "us-east-1")

	cfg.ServiceName = getenv("SERVICE_NAME", "adengine")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// ClickHouse defaults to more connections than Postgres due to async
	// insert patterns and high event volume.
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 100)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getenv("OTLP_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
