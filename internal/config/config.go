package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig              `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Cache     CacheConfig               `mapstructure:"cache"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit"`
	Pools     map[string]PoolConfig     `mapstructure:"pools"`

	// PoolFor routes task kinds to named worker pools, so a slow AI
	// backend cannot starve upload or query work. Kinds without an
	// entry run on queue.default_pool.
	PoolFor map[string]string `mapstructure:"pool_for"`

	Queue     QueueConfig               `mapstructure:"queue"`
	Backends  BackendsConfig            `mapstructure:"backends"`
	Chains    map[string][]ChainEntry   `mapstructure:"chains"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL runs the server with the in-memory process store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// CacheConfig controls result memoization. An empty RedisAddr selects
// the in-process LRU cache.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	MaxEntries    int           `mapstructure:"max_entries" validate:"gt=0"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
}

// RateLimitConfig controls the per-backend fixed-window limiter.
// A limit of zero or below means unlimited.
type RateLimitConfig struct {
	Window       time.Duration  `mapstructure:"window" validate:"gt=0"`
	DefaultLimit int            `mapstructure:"default_limit"`
	Limits       map[string]int `mapstructure:"limits"`
	MaxWait      time.Duration  `mapstructure:"max_wait" validate:"gte=0"`
}

// PoolConfig sizes one named worker pool.
type PoolConfig struct {
	Capacity     int           `mapstructure:"capacity" validate:"required,gt=0"`
	QueueDepth   int           `mapstructure:"queue_depth" validate:"gte=0"`
	Policy       string        `mapstructure:"policy" validate:"omitempty,oneof=block reject"`
	BlockTimeout time.Duration `mapstructure:"block_timeout" validate:"gte=0"`
}

// QueueConfig controls the async task queue.
type QueueConfig struct {
	Retention   time.Duration `mapstructure:"retention" validate:"gt=0"`
	DefaultPool string        `mapstructure:"default_pool" validate:"required"`
}

// BackendsConfig declares the processing backends to register.
type BackendsConfig struct {
	Gemini GeminiConfig        `mapstructure:"gemini"`
	HTTP   []HTTPBackendConfig `mapstructure:"http"`
	Static []StaticConfig      `mapstructure:"static"`
}

// GeminiConfig configures the Gemini backend. It is registered only
// when an API key is present.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	Kinds  []string `mapstructure:"kinds"`
}

// HTTPBackendConfig configures one JSON-over-HTTP backend.
type HTTPBackendConfig struct {
	Name    string        `mapstructure:"name" validate:"required"`
	URL     string        `mapstructure:"url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Kinds   []string      `mapstructure:"kinds"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// StaticConfig configures a canned backend for local development.
type StaticConfig struct {
	Name  string   `mapstructure:"name" validate:"required"`
	Value string   `mapstructure:"value"`
	Kinds []string `mapstructure:"kinds"`
}

// ChainEntry is one position in a per-kind fallback chain.
type ChainEntry struct {
	Name       string        `mapstructure:"name" validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay   time.Duration `mapstructure:"max_delay" validate:"gte=0"`
}
