// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - LOG_LEVEL: minimum log level (default "info").
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - AUTH_RATE_LIMIT: allowed failed authentications per minute per client IP
//     (default "10", must be > 0 if set).
//   - PLAYGROUND_MAX_COMBINATIONS: batch evaluation complexity ceiling
//     (default "15000", must be > 0 if set).
//   - PLAYGROUND_WORKERS: worker goroutines per batch evaluation
//     (default "0" = one per CPU, must be >= 0 if set).
//   - CACHE_RESYNC_INTERVAL: safety-net definition cache refresh interval
//     (default "1m", must be > 0 if set).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr                        = ":8080"
	defaultAuthRateLimit                   = 10
	defaultMaxJSONBodySize           int64 = 1 << 20 // 1MB
	defaultPlaygroundMaxCombinations       = 15000
	defaultCacheResyncInterval             = time.Minute
)

// Config holds the runtime configuration for the switchyard server.
type Config struct {
	DatabaseURL               string
	HTTPAddr                  string
	LogLevel                  string
	AuthRateLimit             int
	MaxJSONBodySize           int64
	PlaygroundMaxCombinations int
	PlaygroundWorkers         int
	CacheResyncInterval       time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	authRateLimit := defaultAuthRateLimit
	if value := strings.TrimSpace(os.Getenv("AUTH_RATE_LIMIT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_RATE_LIMIT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("AUTH_RATE_LIMIT must be > 0")
		}
		authRateLimit = parsed
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	playgroundMaxCombinations := defaultPlaygroundMaxCombinations
	if v := strings.TrimSpace(os.Getenv("PLAYGROUND_MAX_COMBINATIONS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("PLAYGROUND_MAX_COMBINATIONS must be a positive integer")
		}
		playgroundMaxCombinations = n
	}

	playgroundWorkers := 0
	if v := strings.TrimSpace(os.Getenv("PLAYGROUND_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, errors.New("PLAYGROUND_WORKERS must be a non-negative integer")
		}
		playgroundWorkers = n
	}

	cacheResyncInterval := defaultCacheResyncInterval
	if v := strings.TrimSpace(os.Getenv("CACHE_RESYNC_INTERVAL")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse CACHE_RESYNC_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("CACHE_RESYNC_INTERVAL must be > 0")
		}
		cacheResyncInterval = parsed
	}

	return Config{
		DatabaseURL:               databaseURL,
		HTTPAddr:                  envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		AuthRateLimit:             authRateLimit,
		MaxJSONBodySize:           maxJSONBodySize,
		PlaygroundMaxCombinations: playgroundMaxCombinations,
		PlaygroundWorkers:         playgroundWorkers,
		CacheResyncInterval:       cacheResyncInterval,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
