// Package config assembles the nested engine configuration described in
// spec.md §6.5. It follows the teacher's pattern of env-var overrides on
// top of hardcoded defaults, generalized to a nested struct loaded first
// from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EventLoopConfig configures the C6 EventLoop.
type EventLoopConfig struct {
	WorkerCount       int      `yaml:"worker_count"`
	QueueCapacity     int      `yaml:"queue_capacity"`
	DefaultTagFilter  []string `yaml:"default_tag_filter"`
}

// MarketDataConfig configures C4/C7.
type MarketDataConfig struct {
	Venues              []string `yaml:"venues"`
	DefaultSnapshotDepth int     `yaml:"default_snapshot_depth"`
	ResyncWindowMs      int64    `yaml:"resync_window_ms"`
}

// BridgeConfig configures C14.
type BridgeConfig struct {
	EventQueueCapacity int    `yaml:"event_queue_capacity"`
	MaxSubscriptions   int    `yaml:"max_subscriptions"`
	EngineBinaryPath   string `yaml:"engine_binary_path"`
}

// BroadcasterConfig configures C15.
type BroadcasterConfig struct {
	HistorySize        int   `yaml:"history_size"`
	KeepAliveIntervalMs int64 `yaml:"keepalive_interval_ms"`
	MaxSubscriptions   int   `yaml:"max_subscriptions"`
}

// PersistenceConfig configures C13.
type PersistenceConfig struct {
	SnapshotDir string `yaml:"snapshot_dir"`
	MaxSnapshots int   `yaml:"max_snapshots"`
}

// RiskConfig configures C12's RiskEngine.
type RiskConfig struct {
	MaxPositionSize  float64 `yaml:"max_position_size"`
	MaxPriceDeviation float64 `yaml:"max_price_deviation"`
}

// CircuitBreakerConfig configures C12's CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int   `yaml:"failure_threshold"`
	SuccessThreshold int   `yaml:"success_threshold"`
	TimeoutMs        int64 `yaml:"timeout_ms"`
}

// RateLimiterConfig configures the bridge-facing token bucket.
type RateLimiterConfig struct {
	Capacity    int     `yaml:"capacity"`
	RefillRate  float64 `yaml:"refill_rate"`
	BucketTTLMs int64   `yaml:"bucket_ttl_ms"`
}

// Config is the full engine configuration.
type Config struct {
	EventLoop      EventLoopConfig      `yaml:"event_loop"`
	MarketData     MarketDataConfig     `yaml:"market_data"`
	Bridge         BridgeConfig         `yaml:"bridge"`
	Broadcaster    BroadcasterConfig    `yaml:"broadcaster"`
	Persistence    PersistenceConfig    `yaml:"persistence"`
	Risk           RiskConfig           `yaml:"risk"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimiter    RateLimiterConfig    `yaml:"rate_limiter"`
	NATSURL        string               `yaml:"nats_url"`
	MetricsAddr    string               `yaml:"metrics_addr"`
}

// Default returns the hardcoded baseline, mirroring the teacher's
// inline-literal Config assembly in each service's main().
func Default() *Config {
	return &Config{
		EventLoop: EventLoopConfig{
			WorkerCount:   4,
			QueueCapacity: 4096,
		},
		MarketData: MarketDataConfig{
			Venues:               []string{"binance"},
			DefaultSnapshotDepth: 1000,
			ResyncWindowMs:       10_000,
		},
		Bridge: BridgeConfig{
			EventQueueCapacity: 1024,
			MaxSubscriptions:   256,
		},
		Broadcaster: BroadcasterConfig{
			HistorySize:         1024,
			KeepAliveIntervalMs: 10_000,
			MaxSubscriptions:    256,
		},
		Persistence: PersistenceConfig{
			SnapshotDir:  "./snapshots",
			MaxSnapshots: 10,
		},
		Risk: RiskConfig{},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			TimeoutMs:        30_000,
		},
		RateLimiter: RateLimiterConfig{
			Capacity:    100,
			RefillRate:  10,
			BucketTTLMs: 60_000,
		},
		NATSURL:     "nats://localhost:4222",
		MetricsAddr: ":8080",
	}
}

// Load reads defaults, then overlays an optional YAML file, then overlays
// recognized environment variables — same precedence order the teacher
// uses implicitly (getenv is consulted at assembly time, after the
// hardcoded literal default).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := getenv("NATS_URL", ""); v != "" {
		cfg.NATSURL = v
	}
	if v := getenv("METRICS_ADDR", ""); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("SNAPSHOT_DIR", ""); v != "" {
		cfg.Persistence.SnapshotDir = v
	}
	if v := getenvInt("EVENTLOOP_WORKERS", 0); v > 0 {
		cfg.EventLoop.WorkerCount = v
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Duration helpers used by components that store millisecond configs.
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
