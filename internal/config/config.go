package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for chainwatch
type Config struct {
	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	// RPC configuration, keyed by chain identifier. A chain without endpoints is disabled.
	RPCEndpoints map[string][]string
	RPCTimeout   time.Duration
	RPCRateLimit float64

	// Polling configuration
	EVMPollInterval      time.Duration
	SOLPollInterval      time.Duration
	MaxBlocksPerScan     int
	EVMConfirmations     uint64
	SignaturePageSize    int
	MaxFanout            int
	BackoffMaxMultiplier int
	PendingRedeliveryMax int

	// Registry limits
	MaxEntitiesPerUser int
	MaxEntitiesTotal   int

	// Notification configuration
	NotifyMode   string
	WebhookURL   string
	WebhookToken string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	// API configuration
	APIPort string

	// Logging configuration
	LogLevel string
}

var rpcEnvKeys = map[string]string{
	"eth":     "ETH_RPC_ENDPOINTS",
	"bsc":     "BSC_RPC_ENDPOINTS",
	"polygon": "POLYGON_RPC_ENDPOINTS",
	"sol":     "SOL_RPC_ENDPOINTS",
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		DBHost:       getEnv("DB_HOST", ""),
		DBUser:       getEnv("DB_USER", ""),
		DBPassword:   getEnv("DB_PASSWORD", ""),
		DBName:       getEnv("DB_NAME", ""),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBSSLMode:    getEnv("DB_SSL_MODE", "disable"),
		RPCEndpoints: make(map[string][]string),
		NotifyMode:   strings.ToLower(getEnv("NOTIFY_MODE", "log")),
		WebhookURL:   getEnv("WEBHOOK_URL", ""),
		WebhookToken: getEnv("WEBHOOK_TOKEN", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "chainwatch.alerts"),
		APIPort:      getEnv("API_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	for chain, key := range rpcEnvKeys {
		if endpoints := splitList(getEnv(key, "")); len(endpoints) > 0 {
			cfg.RPCEndpoints[chain] = endpoints
		}
	}

	var err error
	if cfg.RPCTimeout, err = parseDurationEnv("RPC_TIMEOUT", 8*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid RPC_TIMEOUT: %w", err)
	}
	if cfg.RPCRateLimit, err = parseFloatEnv("RPC_RATE_LIMIT", 5); err != nil {
		return cfg, fmt.Errorf("invalid RPC_RATE_LIMIT: %w", err)
	}
	if cfg.EVMPollInterval, err = parseDurationEnv("EVM_POLL_INTERVAL", 30*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid EVM_POLL_INTERVAL: %w", err)
	}
	if cfg.SOLPollInterval, err = parseDurationEnv("SOL_POLL_INTERVAL", 45*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid SOL_POLL_INTERVAL: %w", err)
	}
	if cfg.MaxBlocksPerScan, err = parseIntEnv("MAX_BLOCKS_PER_SCAN", 50); err != nil {
		return cfg, fmt.Errorf("invalid MAX_BLOCKS_PER_SCAN: %w", err)
	}
	confirmations, err := parseIntEnv("EVM_CONFIRMATIONS", 0)
	if err != nil || confirmations < 0 {
		return cfg, fmt.Errorf("invalid EVM_CONFIRMATIONS: %q", os.Getenv("EVM_CONFIRMATIONS"))
	}
	cfg.EVMConfirmations = uint64(confirmations)
	if cfg.SignaturePageSize, err = parseIntEnv("SIGNATURE_PAGE_SIZE", 50); err != nil {
		return cfg, fmt.Errorf("invalid SIGNATURE_PAGE_SIZE: %w", err)
	}
	if cfg.MaxFanout, err = parseIntEnv("MAX_FANOUT", 5); err != nil {
		return cfg, fmt.Errorf("invalid MAX_FANOUT: %w", err)
	}
	if cfg.BackoffMaxMultiplier, err = parseIntEnv("BACKOFF_MAX_MULTIPLIER", 8); err != nil {
		return cfg, fmt.Errorf("invalid BACKOFF_MAX_MULTIPLIER: %w", err)
	}
	if cfg.PendingRedeliveryMax, err = parseIntEnv("PENDING_REDELIVERY_MAX", 20); err != nil {
		return cfg, fmt.Errorf("invalid PENDING_REDELIVERY_MAX: %w", err)
	}
	if cfg.MaxEntitiesPerUser, err = parseIntEnv("MAX_ENTITIES_PER_USER", 10); err != nil {
		return cfg, fmt.Errorf("invalid MAX_ENTITIES_PER_USER: %w", err)
	}
	if cfg.MaxEntitiesTotal, err = parseIntEnv("MAX_ENTITIES_TOTAL", 1000); err != nil {
		return cfg, fmt.Errorf("invalid MAX_ENTITIES_TOTAL: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one chain needs RPC endpoints (ETH_RPC_ENDPOINTS, BSC_RPC_ENDPOINTS, POLYGON_RPC_ENDPOINTS or SOL_RPC_ENDPOINTS)")
	}

	if c.MaxBlocksPerScan < 1 {
		return fmt.Errorf("MAX_BLOCKS_PER_SCAN must be at least 1")
	}

	if c.SignaturePageSize < 1 || c.SignaturePageSize > 1000 {
		return fmt.Errorf("SIGNATURE_PAGE_SIZE must be between 1 and 1000")
	}

	if c.MaxFanout < 1 {
		return fmt.Errorf("MAX_FANOUT must be at least 1")
	}

	if c.BackoffMaxMultiplier < 1 {
		return fmt.Errorf("BACKOFF_MAX_MULTIPLIER must be at least 1")
	}

	if c.MaxEntitiesPerUser < 1 {
		return fmt.Errorf("MAX_ENTITIES_PER_USER must be at least 1")
	}

	if c.MaxEntitiesTotal < c.MaxEntitiesPerUser {
		return fmt.Errorf("MAX_ENTITIES_TOTAL must be greater than or equal to MAX_ENTITIES_PER_USER")
	}

	if c.EVMPollInterval <= 0 || c.SOLPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}

	switch c.NotifyMode {
	case "log":
	case "webhook":
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required when NOTIFY_MODE=webhook")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when NOTIFY_MODE=redis")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFY_MODE=kafka")
		}
	default:
		return fmt.Errorf("invalid NOTIFY_MODE: %s (must be one of: log, webhook, redis, kafka)", c.NotifyMode)
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(str, 64)
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}

// splitList splits a comma separated list, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
