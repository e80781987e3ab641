package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Schema    SchemaConfig    `toml:"schema"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	MCP       MCPConfig       `toml:"mcp"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int      `toml:"port"`
	Host         string   `toml:"host"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// AuthConfig contains request signature settings.
type AuthConfig struct {
	SharedSecret string   `toml:"shared_secret"`
	MaxSkew      Duration `toml:"max_skew"`
}

// RateLimitConfig contains per-identity quota settings.
type RateLimitConfig struct {
	TokenLimit    int         `toml:"token_limit"`
	IPLimit       int         `toml:"ip_limit"`
	Window        Duration    `toml:"window"`
	SweepInterval Duration    `toml:"sweep_interval"`
	Redis         RedisConfig `toml:"redis"`
}

// RedisConfig contains the optional shared counter store settings.
// An empty Addr keeps counting in-process.
type RedisConfig struct {
	Addr      string   `toml:"addr"`
	Password  string   `toml:"password"`
	DB        int      `toml:"db"`
	KeyPrefix string   `toml:"key_prefix"`
	Timeout   Duration `toml:"timeout"`
}

// UpstreamConfig contains the chat-completion API settings.
type UpstreamConfig struct {
	BaseURL       string             `toml:"base_url"`
	APIKey        string             `toml:"api_key"`
	Model         string             `toml:"model"`
	Timeout       Duration           `toml:"timeout"`
	MaxRetries    int                `toml:"max_retries"`
	RetryInterval Duration           `toml:"retry_interval"`
	MaxTokensCap  int                `toml:"max_tokens_cap"`
	Pricing       map[string]Pricing `toml:"pricing"`
}

// Pricing is the USD price per million tokens for one model.
type Pricing struct {
	Input       float64 `toml:"input"`
	CachedInput float64 `toml:"cached_input"`
	Output      float64 `toml:"output"`
}

// SchemaConfig contains tool schema limits.
type SchemaConfig struct {
	MaxDepth int `toml:"max_depth"`
	MaxTools int `toml:"max_tools"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	IdentityKey string `toml:"identity_key"`
	Metrics     bool   `toml:"metrics"`
}

// MCPConfig toggles the developer MCP endpoint.
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// Duration is a time.Duration that reads "30s"-style strings from TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies LLMPROXY_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("LLMPROXY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LLMPROXY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if secret := os.Getenv("LLMPROXY_SHARED_SECRET"); secret != "" {
		config.Auth.SharedSecret = secret
	}
	if v := os.Getenv("LLMPROXY_TOKEN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.RateLimit.TokenLimit = n
		}
	}
	if v := os.Getenv("LLMPROXY_IP_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.RateLimit.IPLimit = n
		}
	}
	if addr := os.Getenv("LLMPROXY_REDIS_ADDR"); addr != "" {
		config.RateLimit.Redis.Addr = addr
	}
	if pw := os.Getenv("LLMPROXY_REDIS_PASSWORD"); pw != "" {
		config.RateLimit.Redis.Password = pw
	}
	if u := os.Getenv("LLMPROXY_UPSTREAM_BASE_URL"); u != "" {
		config.Upstream.BaseURL = u
	}
	if key := os.Getenv("LLMPROXY_UPSTREAM_API_KEY"); key != "" {
		config.Upstream.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.Upstream.APIKey == "" {
		config.Upstream.APIKey = key
	}
	if model := os.Getenv("LLMPROXY_UPSTREAM_MODEL"); model != "" {
		config.Upstream.Model = model
	}
	if key := os.Getenv("LLMPROXY_IDENTITY_KEY"); key != "" {
		config.Telemetry.IdentityKey = key
	}
	if v := os.Getenv("LLMPROXY_MCP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.MCP.Enabled = b
		}
	}
	if level := os.Getenv("LLMPROXY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if outputs := os.Getenv("LLMPROXY_LOG_OUTPUTS"); outputs != "" {
		config.Logging.Outputs = strings.Split(outputs, ",")
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate returns a list of problems that must be fixed before the
// proxy can serve. An empty list means the configuration is usable.
func (c *Config) Validate() []string {
	var issues []string

	if strings.TrimSpace(c.Auth.SharedSecret) == "" {
		issues = append(issues, "auth.shared_secret is required (LLMPROXY_SHARED_SECRET); requests cannot be verified without it")
	}
	if c.Auth.MaxSkew.Duration <= 0 {
		issues = append(issues, "auth.max_skew must be positive")
	}
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		issues = append(issues, "upstream.api_key is required (LLMPROXY_UPSTREAM_API_KEY)")
	}
	if strings.TrimSpace(c.Upstream.Model) == "" {
		issues = append(issues, "upstream.model is required")
	}
	if c.Upstream.MaxRetries < 0 {
		issues = append(issues, "upstream.max_retries must not be negative")
	}
	if c.RateLimit.TokenLimit <= 0 {
		issues = append(issues, "rate_limit.token_limit must be positive")
	}
	if c.RateLimit.IPLimit <= 0 {
		issues = append(issues, "rate_limit.ip_limit must be positive")
	}
	if c.RateLimit.Window.Duration < time.Second {
		issues = append(issues, "rate_limit.window must be at least 1s")
	}
	if c.Schema.MaxDepth <= 0 {
		issues = append(issues, "schema.max_depth must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	return issues
}

// IdentityKey returns the key used to anonymize identities in logs and
// metrics, falling back to the shared secret.
func (c *Config) IdentityKey() string {
	if c.Telemetry.IdentityKey != "" {
		return c.Telemetry.IdentityKey
	}
	return c.Auth.SharedSecret
}
