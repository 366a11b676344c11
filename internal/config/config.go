package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
)

type Config struct {
	Solana      SolanaConfig
	Watchlist   WatchlistConfig
	Tracker     TrackerConfig
	Health      HealthConfig
	Redis       RedisConfig
	EventStream EventStreamConfig
	Tracing     TracingConfig
	Alert       AlertConfig
	Server      ServerConfig
	Log         LogConfig
}

type SolanaConfig struct {
	RPCURL              string
	WSURL               string
	Network             model.Network
	WatchMode           string
	WatchPollIntervalMs int
	RPCTimeout          time.Duration
	RateLimitRPS        float64
	RateLimitBurst      int
	RetryMaxAttempts    int
	RetryBackoffInitial time.Duration
	RetryBackoffMax     time.Duration
	BreakerEnabled      bool
	BreakerFailures     int
	BreakerOpenTimeout  time.Duration
}

type WatchlistConfig struct {
	Addresses      []model.WatchedAddress
	File           string
	ReloadInterval time.Duration
}

type TrackerConfig struct {
	StaleAfter         time.Duration
	RecoveryGrace      time.Duration
	LatencyWindow      int
	RefreshConcurrency int
	EmptyOnQueryError  bool
}

type HealthConfig struct {
	CheckInterval time.Duration
	AutoRecover   bool
}

type RedisConfig struct {
	URL string
}

type EventStreamConfig struct {
	Enabled   bool
	Namespace string
	MaxLen    int64
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type ServerConfig struct {
	HealthPort          int
	AdminRateLimitRPS   float64
	AdminRateLimitBurst int
}

type LogConfig struct {
	Level string
}

const (
	WatchModeWebSocket = "websocket"
	WatchModePoll      = "poll"
)

func Load() (*Config, error) {
	cfg := &Config{
		Solana: SolanaConfig{
			RPCURL:              getEnv("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
			WSURL:               getEnv("SOLANA_WS_URL", ""),
			Network:             model.ParseNetwork(getEnv("SOLANA_NETWORK", "devnet")),
			WatchMode:           strings.ToLower(getEnv("WATCH_MODE", WatchModeWebSocket)),
			WatchPollIntervalMs: getEnvInt("WATCH_POLL_INTERVAL_MS", 2000),
			RPCTimeout:          getEnvDuration("RPC_TIMEOUT", 30*time.Second),
			RateLimitRPS:        getEnvFloat("RPC_RATE_LIMIT_RPS", 10),
			RateLimitBurst:      getEnvInt("RPC_RATE_LIMIT_BURST", 20),
			RetryMaxAttempts:    getEnvInt("RPC_RETRY_MAX_ATTEMPTS", 3),
			RetryBackoffInitial: getEnvDuration("RPC_RETRY_BACKOFF_INITIAL", 200*time.Millisecond),
			RetryBackoffMax:     getEnvDuration("RPC_RETRY_BACKOFF_MAX", 3*time.Second),
			BreakerEnabled:      getEnvBool("RPC_BREAKER_ENABLED", true),
			BreakerFailures:     getEnvInt("RPC_BREAKER_FAILURES", 5),
			BreakerOpenTimeout:  getEnvDuration("RPC_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Watchlist: WatchlistConfig{
			File:           getEnv("WATCHED_ADDRESSES_FILE", ""),
			ReloadInterval: getEnvDuration("WATCHLIST_RELOAD_INTERVAL", 30*time.Second),
		},
		Tracker: TrackerConfig{
			StaleAfter:         getEnvDuration("TRACKER_STALE_AFTER", 5*time.Minute),
			RecoveryGrace:      getEnvDuration("RECOVERY_GRACE", 5*time.Second),
			LatencyWindow:      getEnvInt("LATENCY_WINDOW", 1000),
			RefreshConcurrency: getEnvInt("REFRESH_CONCURRENCY", 8),
			EmptyOnQueryError:  getEnvBool("EMPTY_ON_QUERY_ERROR", true),
		},
		Health: HealthConfig{
			CheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			AutoRecover:   getEnvBool("AUTO_RECOVER", true),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		EventStream: EventStreamConfig{
			Enabled:   getEnvBool("EVENT_STREAM_ENABLED", false),
			Namespace: getEnv("EVENT_STREAM_NAMESPACE", "holdings"),
			MaxLen:    int64(getEnvInt("EVENT_STREAM_MAXLEN", 100000)),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_TRACING_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 0.1),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        getEnvDuration("ALERT_COOLDOWN", 30*time.Minute),
		},
		Server: ServerConfig{
			HealthPort:          getEnvInt("HEALTH_PORT", 8080),
			AdminRateLimitRPS:   getEnvFloat("ADMIN_RATE_LIMIT_RPS", 5),
			AdminRateLimitBurst: getEnvInt("ADMIN_RATE_LIMIT_BURST", 10),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Solana.WSURL == "" {
		cfg.Solana.WSURL = deriveWSURL(cfg.Solana.RPCURL)
	}

	addrs, err := ParseWatchedAddresses(getEnv("WATCHED_ADDRESSES", ""))
	if err != nil {
		return nil, err
	}
	cfg.Watchlist.Addresses = addrs

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL is required")
	}
	if !c.Solana.Network.Valid() {
		return fmt.Errorf("SOLANA_NETWORK must be mainnet, devnet or testnet, got %q", c.Solana.Network)
	}
	switch c.Solana.WatchMode {
	case WatchModeWebSocket:
		if c.Solana.WSURL == "" {
			return fmt.Errorf("SOLANA_WS_URL is required when WATCH_MODE=websocket")
		}
	case WatchModePoll:
		if c.Solana.WatchPollIntervalMs <= 0 {
			return fmt.Errorf("WATCH_POLL_INTERVAL_MS must be positive")
		}
	default:
		return fmt.Errorf("WATCH_MODE must be websocket or poll, got %q", c.Solana.WatchMode)
	}
	if c.Solana.BreakerEnabled && c.Solana.BreakerFailures <= 0 {
		return fmt.Errorf("RPC_BREAKER_FAILURES must be positive")
	}
	if c.Tracker.StaleAfter <= 0 {
		return fmt.Errorf("TRACKER_STALE_AFTER must be positive")
	}
	if c.Tracker.RecoveryGrace < 0 {
		return fmt.Errorf("RECOVERY_GRACE must not be negative")
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be positive")
	}
	if c.EventStream.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when EVENT_STREAM_ENABLED=true")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_TRACING_ENABLED=true")
	}
	if len(c.Watchlist.Addresses) == 0 && c.Watchlist.File == "" {
		return fmt.Errorf("WATCHED_ADDRESSES or WATCHED_ADDRESSES_FILE is required")
	}
	return nil
}

// ParseWatchedAddresses parses a comma separated list of address[=label]
// items. Blank items are skipped.
func ParseWatchedAddresses(raw string) ([]model.WatchedAddress, error) {
	var out []model.WatchedAddress
	seen := make(map[string]struct{})
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		addr, label, _ := strings.Cut(item, "=")
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil, fmt.Errorf("WATCHED_ADDRESSES: empty address in %q", item)
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, model.WatchedAddress{
			Address: addr,
			Label:   strings.TrimSpace(label),
			Source:  model.AddressSourceEnv,
		})
	}
	return out, nil
}

func deriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return ""
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
