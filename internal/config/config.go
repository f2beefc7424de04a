// Package config loads ingestcore configuration from a YAML file overlaid
// with environment variables, following the resolve-then-parse pattern the
// rest of this codebase's ancestry uses for its own config loader.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryStrategy names the delay growth function the retry orchestrator uses.
type RetryStrategy string

const (
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
	RetryFibonacci   RetryStrategy = "fibonacci"
)

func (s RetryStrategy) IsValid() bool {
	switch s {
	case RetryLinear, RetryExponential, RetryFibonacci:
		return true
	}
	return false
}

// Config is the root configuration for the ingest core.
type Config struct {
	LoggingLevel string         `yaml:"logging_level"`
	Batch        BatchConfig    `yaml:"batch"`
	Retry        RetryConfig    `yaml:"retry"`
	Resource     ResourceConfig `yaml:"resource"`
	Cache        CacheConfig    `yaml:"cache"`
	Broker       BrokerConfig   `yaml:"broker"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
}

// BatchConfig governs the Dynamic Batch Engine (C7).
type BatchConfig struct {
	InitialSize     int     `yaml:"initial_size"`
	MinSize         int     `yaml:"min_size"`
	MaxSize         int     `yaml:"max_size"`
	WindowSize      int     `yaml:"window_size"`
	ShrinkFactor    float64 `yaml:"shrink_factor"`
	GrowFactor      float64 `yaml:"grow_factor"`
	ErrorShrinkRate float64 `yaml:"error_shrink_rate"` // threshold above which a batch shrinks
	ErrorGrowCeil   float64 `yaml:"error_grow_ceiling"`
	ThroughputFloor float64 `yaml:"throughput_floor"`
	TimeoutRetries  int     `yaml:"timeout_retries"`
	MemoCacheSize   int     `yaml:"memo_cache_size"`
	Concurrency     int     `yaml:"concurrency"` // parallel dispatch groups per Dispatch call; <=1 is sequential
}

// RetryConfig governs the Retry Orchestrator (C3).
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Strategy     RetryStrategy `yaml:"strategy"`
	Jitter       float64       `yaml:"jitter"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ResourceConfig governs the Resource Manager (C2).
type ResourceConfig struct {
	MaxMemoryMB   int    `yaml:"max_memory_mb"`
	TargetDevice  string `yaml:"target_device"`
	FallbackDevice string `yaml:"fallback_device"`
}

// CacheConfig governs the Model Cache (C5). Env prefix CACHE_.
type CacheConfig struct {
	MaxMemoryMB int `yaml:"max_memory_mb"`
	MinHitCount int `yaml:"min_hit_count"`
	MaxEntries  int `yaml:"max_entries"`
}

// BrokerConfig governs the Broker Connection Core (C8). Env prefix RABBITMQ_.
type BrokerConfig struct {
	URL                 string        `yaml:"url"`
	MaxConnections      int           `yaml:"max_connections"`
	ChannelsPerConn     int           `yaml:"channels_per_connection"`
	MonitoringInterval  time.Duration `yaml:"monitoring_interval"`
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
}

// VectorStoreConfig governs the pgvector reference adapter. Env prefix WEAVIATE_
// is retained as the external contract name even though the reference store
// here is PostgreSQL/pgvector.
type VectorStoreConfig struct {
	DSN            string `yaml:"dsn"`
	DefaultBatch   int    `yaml:"default_batch_size"`
}

// Load reads a YAML config file and overlays environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := overlayEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: env overlay: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the defaults named in each field's
// governing component (spec-equivalent defaults).
func Default() *Config {
	return &Config{
		LoggingLevel: "info",
		Batch: BatchConfig{
			InitialSize: 50, MinSize: 1, MaxSize: 1000, WindowSize: 20,
			ShrinkFactor: 0.8, GrowFactor: 1.2,
			ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100,
			TimeoutRetries: 3, MemoCacheSize: 4096, Concurrency: 4,
		},
		Retry: RetryConfig{
			MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 60 * time.Second,
			Strategy: RetryExponential, Jitter: 0.1, Timeout: 5 * time.Minute,
		},
		Resource: ResourceConfig{
			MaxMemoryMB: 4096, TargetDevice: "cpu", FallbackDevice: "cpu",
		},
		Cache: CacheConfig{MaxMemoryMB: 1024, MinHitCount: 2, MaxEntries: 32},
		Broker: BrokerConfig{
			MaxConnections: 4, ChannelsPerConn: 8,
			MonitoringInterval: 30 * time.Second,
			ReconnectBaseDelay: time.Second, ReconnectMaxDelay: 30 * time.Second,
			DrainTimeout: 10 * time.Second,
		},
		VectorStore: VectorStoreConfig{DefaultBatch: 100},
	}
}

func validate(cfg *Config) error {
	if cfg.Batch.MinSize <= 0 || cfg.Batch.MaxSize < cfg.Batch.MinSize {
		return fmt.Errorf("batch: min_size/max_size invalid (%d/%d)", cfg.Batch.MinSize, cfg.Batch.MaxSize)
	}
	if !cfg.Retry.Strategy.IsValid() {
		return fmt.Errorf("retry: unknown strategy %q", cfg.Retry.Strategy)
	}
	if cfg.Broker.MaxConnections <= 0 {
		return fmt.Errorf("broker: max_connections must be positive")
	}
	return nil
}
