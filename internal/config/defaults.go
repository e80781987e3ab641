package config

import "time"

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "localhost",
			MaxBodyBytes: 1 << 20,
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{180 * time.Second},
		},
		Auth: AuthConfig{
			MaxSkew: Duration{5 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			TokenLimit:    100,
			IPLimit:       50,
			Window:        Duration{time.Hour},
			SweepInterval: Duration{5 * time.Minute},
			Redis: RedisConfig{
				KeyPrefix: "llmproxy:rl:",
				Timeout:   Duration{250 * time.Millisecond},
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			Timeout:       Duration{120 * time.Second},
			MaxRetries:    2,
			RetryInterval: Duration{500 * time.Millisecond},
			MaxTokensCap:  4096,
		},
		Schema: SchemaConfig{
			MaxDepth: 10,
			MaxTools: 64,
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"console"},
		},
	}
}
