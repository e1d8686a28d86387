package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// ChannelSecret keys the per-requester and helper channel names.
	ChannelSecret string

	// Course defaults, used until an admin saves settings
	DefaultRejoinMinutes int
	DefaultAllowOverride bool

	// History configuration
	HistoryWriteTimeout  time.Duration
	HistoryRetryInterval time.Duration
	HistoryRetryBatch    int

	// Wait estimate; a zero window turns it off
	WaitEstimateWindow  time.Duration
	WaitEstimateRefresh time.Duration

	// Join rate limit
	JoinRateLimit  int
	JoinRateWindow time.Duration

	// Broadcast circuit breaker
	BroadcastMaxFailures int
	BroadcastCooldown    time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "office-hours-server"),
		ChannelSecret:      getEnv("CHANNEL_SECRET", ""),

		// Course
		DefaultRejoinMinutes: getEnvAsInt("DEFAULT_REJOIN_MINUTES", 15),
		DefaultAllowOverride: getEnvAsBool("DEFAULT_ALLOW_COOLDOWN_OVERRIDE", false),

		// History
		HistoryWriteTimeout:  getEnvAsDuration("HISTORY_WRITE_TIMEOUT", "3s"),
		HistoryRetryInterval: getEnvAsDuration("HISTORY_RETRY_INTERVAL", "1m"),
		HistoryRetryBatch:    getEnvAsInt("HISTORY_RETRY_BATCH", 50),

		// Wait estimate
		WaitEstimateWindow:  getEnvAsDuration("WAIT_ESTIMATE_WINDOW", "2h"),
		WaitEstimateRefresh: getEnvAsDuration("WAIT_ESTIMATE_REFRESH", "1m"),

		// Rate limit
		JoinRateLimit:  getEnvAsInt("JOIN_RATE_LIMIT", 10),
		JoinRateWindow: getEnvAsDuration("JOIN_RATE_WINDOW", "1m"),

		// Broadcast
		BroadcastMaxFailures: getEnvAsInt("BROADCAST_MAX_FAILURES", 5),
		BroadcastCooldown:    getEnvAsDuration("BROADCAST_COOLDOWN", "30s"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
