package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// overlayEnv applies environment variable overrides on top of whatever the
// YAML file (or defaults) already populated. Each subsystem uses the env
// prefix named in its external contract.
func overlayEnv(cfg *Config) error {
	var err error

	if v, ok := lookup("RABBITMQ_URL"); ok {
		cfg.Broker.URL = v
	}
	if cfg.Broker.MaxConnections, err = envInt("RABBITMQ_MAX_CONNECTIONS", cfg.Broker.MaxConnections); err != nil {
		return err
	}
	if cfg.Broker.ChannelsPerConn, err = envInt("RABBITMQ_CHANNELS_PER_CONNECTION", cfg.Broker.ChannelsPerConn); err != nil {
		return err
	}
	if cfg.Broker.MonitoringInterval, err = envDuration("RABBITMQ_MONITORING_INTERVAL", cfg.Broker.MonitoringInterval); err != nil {
		return err
	}

	if cfg.Cache.MaxMemoryMB, err = envInt("CACHE_MAX_MEMORY_MB", cfg.Cache.MaxMemoryMB); err != nil {
		return err
	}
	if cfg.Cache.MinHitCount, err = envInt("CACHE_MIN_HIT_COUNT", cfg.Cache.MinHitCount); err != nil {
		return err
	}
	if cfg.Cache.MaxEntries, err = envInt("CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries); err != nil {
		return err
	}

	if v, ok := lookup("WEAVIATE_DSN"); ok {
		cfg.VectorStore.DSN = v
	}
	if cfg.VectorStore.DefaultBatch, err = envInt("WEAVIATE_DEFAULT_BATCH_SIZE", cfg.VectorStore.DefaultBatch); err != nil {
		return err
	}

	if v, ok := lookup("INGESTCORE_LOG_LEVEL"); ok {
		cfg.LoggingLevel = v
	}

	return nil
}

func lookup(name string) (string, bool) {
	v := os.Getenv(name)
	return v, v != ""
}

func envInt(name string, def int) (int, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid int %q: %w", name, v, err)
	}
	return parsed, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration %q: %w", name, v, err)
	}
	return parsed, nil
}
