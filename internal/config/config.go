// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Application source trees ("local" or "s3")
	SourceBackend string
	SourcePath    string

	// S3 source storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	S3Prefix    string

	// Diff file cache ("sqlite", "postgres" or "memory")
	CacheBackend string
	CachePath    string
	CacheTTL     time.Duration

	// Bizobj database: DATABASE_URL wins over a connection definition.
	DatabaseURL     string
	ConnectionsFile string
	ConnectionName  string
	BizobjConfig    string

	// Bizobj sessions
	SessionSecret string
	SessionTTL    time.Duration

	// Limits
	MaxManifestBytes int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		SourceBackend:    envOr("SOURCE_BACKEND", "local"),
		SourcePath:       envOr("SOURCE_PATH", "./appSource"),
		S3Endpoint:       envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:         envOr("S3_BUCKET", "dabo-apps"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3UseSSL:         envBool("S3_USE_SSL", false),
		S3Prefix:         envOr("S3_PREFIX", ""),
		CacheBackend:     envOr("CACHE_BACKEND", "sqlite"),
		CachePath:        envOr("CACHE_PATH", "DaboFileCache.db"),
		CacheTTL:         envDuration("CACHE_TTL", time.Hour),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		ConnectionsFile:  envOr("CONNECTIONS_FILE", ""),
		ConnectionName:   envOr("CONNECTION_NAME", ""),
		BizobjConfig:     envOr("BIZOBJ_CONFIG", ""),
		SessionSecret:    envOr("SESSION_SECRET", ""),
		SessionTTL:       envDuration("SESSION_TTL", 30*time.Minute),
		MaxManifestBytes: envInt64("MAX_MANIFEST_BYTES", 8<<20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	switch c.SourceBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown SOURCE_BACKEND %q", c.SourceBackend)
	}
	switch c.CacheBackend {
	case "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" && c.ConnectionsFile == "" {
			return fmt.Errorf("CACHE_BACKEND=postgres needs DATABASE_URL or CONNECTIONS_FILE")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ConnectionName != "" && c.ConnectionsFile == "" {
		return fmt.Errorf("CONNECTION_NAME set without CONNECTIONS_FILE")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
