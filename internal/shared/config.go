package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string // empty disables the miss log
	RedisAddr   string // empty disables the response cache
	RedisDB     int
	RedisPass   string

	MarketBase        string
	MarketKey         string
	MarketRPS         int
	MarketMaxAttempts int

	PrimaryTimeout time.Duration
	MaxParallel    int
	CacheTTL       time.Duration
	DefaultLimit   int
	MaxLimit       int
	RequestTimeout time.Duration

	WarmWorkers   int
	WarmTypeSets  [][]string
	MissRetention time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("ignoring non-integer config value")
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),
		MySQLDSN:    env("MYSQL_DSN", ""),
		RedisAddr:   env("REDIS_ADDR", ""),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		MarketBase:        strings.TrimRight(env("MARKET_API_BASE", "http://localhost:3000/api"), "/"),
		MarketKey:         env("MARKET_API_KEY", ""),
		MarketRPS:         atoi("MARKET_RPS", 20),
		MarketMaxAttempts: atoi("MARKET_MAX_ATTEMPTS", 3),

		PrimaryTimeout: time.Duration(atoi("FEED_PRIMARY_TIMEOUT_MS", 2500)) * time.Millisecond,
		MaxParallel:    atoi("FEED_MAX_PARALLEL", 6),
		CacheTTL:       time.Duration(atoi("FEED_CACHE_TTL_SECONDS", 15)) * time.Second,
		DefaultLimit:   atoi("FEED_DEFAULT_LIMIT", 20),
		MaxLimit:       atoi("FEED_MAX_LIMIT", 100),
		RequestTimeout: time.Duration(atoi("HTTP_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,

		WarmWorkers:   atoi("WARM_WORKERS", 4),
		WarmTypeSets:  ParseTypeSets(env("WARM_TYPE_SETS", ";rental,home_swap;service,event,ad;travel")),
		MissRetention: time.Duration(atoi("MISS_RETENTION_HOURS", 168)) * time.Hour,
	}
	if c.MarketKey == "" {
		log.Warn().Msg("MARKET_API_KEY is empty")
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	return c
}

// ParseTypeSets splits "a,b;c" into [[a b] [c]]. An empty segment is kept
// as an empty set, meaning every category.
func ParseTypeSets(s string) [][]string {
	var out [][]string
	for _, seg := range strings.Split(s, ";") {
		set := []string{}
		for _, t := range strings.Split(seg, ",") {
			if t = strings.TrimSpace(t); t != "" {
				set = append(set, t)
			}
		}
		out = append(out, set)
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
