package config

import "time"

// ConnectorConfig holds configuration shared by HTTP connectors
type ConnectorConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit RateLimitConfig
}

// RateLimitConfig holds retry configuration for throttled requests
type RateLimitConfig struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	RetryMultiplier float64
}

// DefaultConnectorConfig returns the default connector configuration
func DefaultConnectorConfig() *ConnectorConfig {
	return &ConnectorConfig{
		BaseURL: "http://localhost:9000",
		Timeout: 120 * time.Second,
		RateLimit: RateLimitConfig{
			MaxRetries:      3,
			InitialBackoff:  time.Second,
			MaxBackoff:      time.Minute,
			RetryMultiplier: 2.0,
		},
	}
}
