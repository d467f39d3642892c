package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration required by the service.
type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	StoreDriver string // "postgres" or "memory"
	DBURL       string

	LogLevel  string
	LogFormat string

	WebhookSecret     string
	WhoopClientID     string
	WhoopClientSecret string
	WhoopAPIHost      string
	WhoopHTTPTimeout  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatsCacheTTL time.Duration

	KafkaBrokers          []string
	KafkaSleepSyncedTopic string

	Chain Chain
}

// Chain is the settlement contract configuration. Incomplete settings turn
// settlement off rather than failing startup.
type Chain struct {
	RPCURL             string
	ChainID            int64
	PrivateKey         string
	SleepToEarnAddress string
	SleepTokenAddress  string
	Timeout            time.Duration
}

// Load reads a local .env if present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	e := env{get: getenv}

	cfg := Config{
		HTTPAddr:       e.str("HTTP_ADDR", ":8080"),
		RequestTimeout: e.duration("REQUEST_TIMEOUT", 30*time.Second),
		MaxBodyBytes:   e.int64("WEBHOOK_MAX_BODY_BYTES", 1<<20),

		StoreDriver: strings.ToLower(e.str("STORE_DRIVER", "postgres")),
		DBURL:       e.str("DB_URL", ""),

		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "json"),

		WhoopClientID:     e.str("WHOOP_CLIENT_ID", ""),
		WhoopClientSecret: e.str("WHOOP_CLIENT_SECRET", ""),
		WhoopAPIHost:      e.str("WHOOP_API_HOSTNAME", "https://api.prod.whoop.com"),
		WhoopHTTPTimeout:  e.duration("WHOOP_HTTP_TIMEOUT", 10*time.Second),

		RedisAddr:     e.str("REDIS_ADDR", ""),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		RedisDB:       int(e.int64("REDIS_DB", 0)),
		StatsCacheTTL: e.duration("STATS_CACHE_TTL", 30*time.Second),

		KafkaBrokers:          e.csv("KAFKA_BROKERS"),
		KafkaSleepSyncedTopic: e.str("KAFKA_TOPIC_SLEEP_SYNCED", "whoop_sleep_synced"),

		Chain: Chain{
			RPCURL:             e.str("CHAIN_RPC_URL", "https://sepolia.base.org"),
			ChainID:            e.int64("CHAIN_ID", 84532),
			PrivateKey:         e.str("PRIVATE_KEY", ""),
			SleepToEarnAddress: e.str("SLEEP_TO_EARN_CONTRACT_ADDRESS", ""),
			SleepTokenAddress:  e.str("SLEEP_TOKEN_CONTRACT_ADDRESS", ""),
			Timeout:            e.duration("SETTLEMENT_TIMEOUT", 20*time.Second),
		},
	}
	// WHOOP signs webhooks with the app's client secret unless a dedicated
	// secret is configured.
	cfg.WebhookSecret = e.str("WHOOP_WEBHOOK_SECRET", cfg.WhoopClientSecret)

	if len(e.errs) > 0 {
		return Config{}, errors.Join(e.errs...)
	}
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DBURL == "" {
			return Config{}, errors.New("DB_URL required")
		}
	case "memory":
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER %q: want postgres or memory", cfg.StoreDriver)
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, errors.New("WEBHOOK_MAX_BODY_BYTES must be positive")
	}
	return cfg, nil
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int64(key string, def int64) int64 {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (e *env) csv(key string) []string {
	var out []string
	for _, p := range strings.Split(e.get(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
