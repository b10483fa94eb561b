package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the environment plus the
		// defaults is a complete configuration.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := validatePoolRefs(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validatePoolRefs checks that every pool name referenced elsewhere in
// the configuration actually exists in the pools map. Catching a typo
// here beats silently routing all work to a pool that was never
// created.
func validatePoolRefs(cfg *Config) error {
	if _, ok := cfg.Pools[cfg.Queue.DefaultPool]; !ok {
		return fmt.Errorf("queue.default_pool %q is not defined in pools", cfg.Queue.DefaultPool)
	}
	for kind, name := range cfg.PoolFor {
		if _, ok := cfg.Pools[name]; !ok {
			return fmt.Errorf("pool_for.%s references pool %q, which is not defined in pools", kind, name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.default_limit", 60)
	v.SetDefault("rate_limit.max_wait", 2*time.Second)

	v.SetDefault("queue.retention", time.Hour)
	v.SetDefault("queue.default_pool", "ai")

	v.SetDefault("pool_for", map[string]string{
		"upload": "io",
		"query":  "io",
	})

	v.SetDefault("pools", map[string]any{
		"ai": map[string]any{
			"capacity":    4,
			"queue_depth": 64,
			"policy":      "block",
		},
		"io": map[string]any{
			"capacity":    16,
			"queue_depth": 128,
			"policy":      "reject",
		},
	})

	v.SetDefault("backends.gemini.model", "gemini-2.0-flash")
}
