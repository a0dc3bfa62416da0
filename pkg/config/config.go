package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/inkwellhq/inkwell/pkg/observability"
)

// Config holds all daemon configuration, loaded from INKWELL_* environment
// variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	LogLevel observability.LogLevel
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server on a separate port for k8s probes.
	HealthPort string
}

// DatabaseConfig holds the shared relational store configuration.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the optional distributed check cache configuration.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
}

// EngineConfig holds the permission engine's tunables.
type EngineConfig struct {
	// Hierarchy chain cache.
	HierarchyCacheSize int
	HierarchyCacheTTL  time.Duration

	// Check cache in front of the query service. Short TTL: it bounds how
	// stale other principals' views may be.
	CheckCacheSize int
	CheckCacheTTL  time.Duration

	// Expiry sweeper.
	SweepInterval time.Duration

	// Group fan-out concurrency.
	FanoutWorkers int
}

// LoadConfig loads and validates configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("INKWELL_HOST", "0.0.0.0"),
			Port:            getEnv("INKWELL_PORT", "8080"),
			ReadTimeout:     getEnvDuration("INKWELL_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("INKWELL_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("INKWELL_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("INKWELL_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("INKWELL_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("INKWELL_POSTGRES_URL", "postgres://localhost/inkwell?sslmode=disable"),
			MaxOpenConns: getEnvInt("INKWELL_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("INKWELL_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("INKWELL_REDIS_ENABLED", false),
			Addr:     getEnv("INKWELL_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("INKWELL_REDIS_PASSWORD", ""),
		},
		Engine: EngineConfig{
			HierarchyCacheSize: getEnvInt("INKWELL_HIERARCHY_CACHE_SIZE", 4096),
			HierarchyCacheTTL:  getEnvDuration("INKWELL_HIERARCHY_CACHE_TTL", 30*time.Second),
			CheckCacheSize:     getEnvInt("INKWELL_CHECK_CACHE_SIZE", 8192),
			CheckCacheTTL:      getEnvDuration("INKWELL_CHECK_CACHE_TTL", time.Second),
			SweepInterval:      getEnvDuration("INKWELL_SWEEP_INTERVAL", time.Minute),
			FanoutWorkers:      getEnvInt("INKWELL_FANOUT_WORKERS", 8),
		},
		LogLevel: observability.ParseLogLevel(getEnv("INKWELL_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("INKWELL_POSTGRES_URL is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("INKWELL_REDIS_ADDR is required when redis is enabled")
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("INKWELL_SWEEP_INTERVAL must be positive")
	}
	if c.Engine.CheckCacheTTL <= 0 {
		return fmt.Errorf("INKWELL_CHECK_CACHE_TTL must be positive")
	}
	if c.Engine.FanoutWorkers < 1 {
		return fmt.Errorf("INKWELL_FANOUT_WORKERS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
