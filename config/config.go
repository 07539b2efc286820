package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration loaded from environment variables.
type Config struct {
	// Listeners
	FeedAddr    string
	MetricsAddr string

	// Cadence
	TickInterval  time.Duration // overrides the catalog interval when set
	SweepInterval time.Duration

	// Catalog file; empty means the built-in metals catalog.
	CatalogPath string

	// Persistence. StoreBackends is a comma-separated subset of postgres,redis,sqlite.
	StoreBackends string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	ReseedOnStart bool

	RNGSeed  int64 // 0 seeds from the clock
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FeedAddr:    getEnv("FEED_ADDR", ":8765"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		TickInterval:  getDuration("TICK_INTERVAL", 0),
		SweepInterval: getDuration("SWEEP_INTERVAL", 30*time.Second),

		CatalogPath: getEnv("CATALOG_PATH", ""),

		StoreBackends: getEnv("STORE_BACKENDS", ""),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/feed.db"),
		ReseedOnStart: getBool("RESEED_ON_START", true),

		RNGSeed:  getInt64("RNG_SEED", 0),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Backends parses StoreBackends into a de-duplicated, lower-cased list.
// Unknown names are logged and skipped.
func (c *Config) Backends() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(c.StoreBackends, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		switch p {
		case "postgres", "redis", "sqlite":
		default:
			log.Printf("[config] skipping unknown store backend: %q", p)
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid integer for %s: %q", key, v)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q", key, v)
		return fallback
	}
	return b
}
