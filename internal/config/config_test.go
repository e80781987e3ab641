package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llm-proxy.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host localhost, got %s", cfg.Server.Host)
	}
	if cfg.RateLimit.TokenLimit != 100 || cfg.RateLimit.IPLimit != 50 {
		t.Errorf("expected 100/50 quotas, got %d/%d", cfg.RateLimit.TokenLimit, cfg.RateLimit.IPLimit)
	}
	if cfg.RateLimit.Window.Duration != time.Hour {
		t.Errorf("expected 1h window, got %v", cfg.RateLimit.Window)
	}
	if cfg.Auth.MaxSkew.Duration != 5*time.Minute {
		t.Errorf("expected 5m skew, got %v", cfg.Auth.MaxSkew)
	}
	if cfg.Upstream.Model != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %s", cfg.Upstream.Model)
	}
	if cfg.Schema.MaxDepth != 10 {
		t.Errorf("expected max depth 10, got %d", cfg.Schema.MaxDepth)
	}
	if cfg.MCP.Enabled {
		t.Error("MCP endpoint must be off by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromFiles_NoFiles(t *testing.T) {
	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles with no files should not error: %v", err)
	}
	if cfg.RateLimit.TokenLimit != 100 {
		t.Errorf("expected default token limit, got %d", cfg.RateLimit.TokenLimit)
	}
}

func TestLoadFromFiles_ValidTOML(t *testing.T) {
	path := writeTOML(t, `
[server]
port = 9090
host = "0.0.0.0"
write_timeout = "5m"

[auth]
shared_secret = "from-file"
max_skew = "2m"

[rate_limit]
token_limit = 10
ip_limit = 5
window = "15m"

[rate_limit.redis]
addr = "redis:6379"
key_prefix = "test:"

[upstream]
model = "gpt-4.1-mini"

[upstream.pricing."gpt-4.1-mini"]
input = 0.4
cached_input = 0.1
output = 1.6

[schema]
max_depth = 6

[mcp]
enabled = true
`)

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout.Duration != 5*time.Minute {
		t.Errorf("expected 5m write timeout, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Auth.MaxSkew.Duration != 2*time.Minute {
		t.Errorf("expected 2m skew, got %v", cfg.Auth.MaxSkew)
	}
	if cfg.RateLimit.TokenLimit != 10 || cfg.RateLimit.IPLimit != 5 || cfg.RateLimit.Window.Duration != 15*time.Minute {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.Redis.Addr != "redis:6379" || cfg.RateLimit.Redis.KeyPrefix != "test:" {
		t.Errorf("unexpected redis %+v", cfg.RateLimit.Redis)
	}
	if cfg.RateLimit.Redis.Timeout.Duration != 250*time.Millisecond {
		t.Errorf("expected default redis timeout preserved, got %v", cfg.RateLimit.Redis.Timeout)
	}
	if p := cfg.Upstream.Pricing["gpt-4.1-mini"]; p.Input != 0.4 || p.CachedInput != 0.1 || p.Output != 1.6 {
		t.Errorf("unexpected pricing %+v", p)
	}
	if cfg.Schema.MaxDepth != 6 || !cfg.MCP.Enabled {
		t.Errorf("unexpected schema/mcp %+v %+v", cfg.Schema, cfg.MCP)
	}
}

func TestLoadFromFiles_MultipleFiles(t *testing.T) {
	base := writeTOML(t, `
[server]
port = 9090

[rate_limit]
token_limit = 10
`)
	override := writeTOML(t, `
[rate_limit]
token_limit = 20
`)

	cfg, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port from first file, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.TokenLimit != 20 {
		t.Errorf("expected later file to win, got %d", cfg.RateLimit.TokenLimit)
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	if _, err := LoadFromFiles("/nonexistent/llm-proxy.toml"); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFiles_InvalidTOML(t *testing.T) {
	if _, err := LoadFromFiles(writeTOML(t, "this is [not valid toml")); err == nil {
		t.Error("expected error for invalid TOML, got nil")
	}
}

func TestLoadFromFiles_InvalidDuration(t *testing.T) {
	_, err := LoadFromFiles(writeTOML(t, "[rate_limit]\nwindow = \"an hour\"\n"))
	if err == nil {
		t.Error("expected error for unparseable duration, got nil")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := NewDefaultConfig()

	t.Setenv("LLMPROXY_SERVER_PORT", "9999")
	t.Setenv("LLMPROXY_SERVER_HOST", "env-host")
	t.Setenv("LLMPROXY_SHARED_SECRET", "env-secret")
	t.Setenv("LLMPROXY_TOKEN_LIMIT", "7")
	t.Setenv("LLMPROXY_IP_LIMIT", "3")
	t.Setenv("LLMPROXY_REDIS_ADDR", "localhost:6380")
	t.Setenv("LLMPROXY_UPSTREAM_MODEL", "gpt-4.1-nano")
	t.Setenv("LLMPROXY_MCP_ENABLED", "true")
	t.Setenv("LLMPROXY_LOG_LEVEL", "error")
	t.Setenv("LLMPROXY_LOG_OUTPUTS", "console,file")

	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9999 || cfg.Server.Host != "env-host" {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	if cfg.Auth.SharedSecret != "env-secret" {
		t.Errorf("expected env secret, got %q", cfg.Auth.SharedSecret)
	}
	if cfg.RateLimit.TokenLimit != 7 || cfg.RateLimit.IPLimit != 3 {
		t.Errorf("unexpected limits %d/%d", cfg.RateLimit.TokenLimit, cfg.RateLimit.IPLimit)
	}
	if cfg.RateLimit.Redis.Addr != "localhost:6380" {
		t.Errorf("expected env redis addr, got %s", cfg.RateLimit.Redis.Addr)
	}
	if cfg.Upstream.Model != "gpt-4.1-nano" || !cfg.MCP.Enabled {
		t.Errorf("unexpected model/mcp %s %v", cfg.Upstream.Model, cfg.MCP.Enabled)
	}
	if cfg.Logging.Level != "error" || len(cfg.Logging.Outputs) != 2 {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
}

func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	cfg := NewDefaultConfig()

	t.Setenv("LLMPROXY_SERVER_PORT", "not-a-number")

	applyEnvOverrides(cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080 for invalid env, got %d", cfg.Server.Port)
	}
}

func TestApplyEnvOverrides_APIKeyFallback(t *testing.T) {
	cfg := NewDefaultConfig()
	t.Setenv("LLMPROXY_UPSTREAM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	applyEnvOverrides(cfg)
	if cfg.Upstream.APIKey != "sk-openai" {
		t.Errorf("expected OPENAI_API_KEY fallback, got %q", cfg.Upstream.APIKey)
	}

	t.Setenv("LLMPROXY_UPSTREAM_API_KEY", "sk-proxy")
	applyEnvOverrides(cfg)
	if cfg.Upstream.APIKey != "sk-proxy" {
		t.Errorf("expected LLMPROXY_UPSTREAM_API_KEY to win, got %q", cfg.Upstream.APIKey)
	}
}

func TestEnvOverridesFileConfig(t *testing.T) {
	path := writeTOML(t, "[auth]\nshared_secret = \"from-file\"\n")
	t.Setenv("LLMPROXY_SHARED_SECRET", "from-env")

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles: %v", err)
	}
	if cfg.Auth.SharedSecret != "from-env" {
		t.Errorf("expected env to override file, got %q", cfg.Auth.SharedSecret)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()

	ApplyFlagOverrides(cfg, 7777, "flag-host")

	if cfg.Server.Port != 7777 {
		t.Errorf("expected flag port 7777, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "flag-host" {
		t.Errorf("expected flag host flag-host, got %s", cfg.Server.Host)
	}
}

func TestApplyFlagOverrides_ZeroPortNoOverride(t *testing.T) {
	cfg := NewDefaultConfig()

	ApplyFlagOverrides(cfg, 0, "")

	if cfg.Server.Port != 8080 || cfg.Server.Host != "localhost" {
		t.Errorf("expected defaults, got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
}

// --- Validate ---

func TestValidate_DefaultsNeedSecrets(t *testing.T) {
	issues := NewDefaultConfig().Validate()

	joined := strings.Join(issues, "\n")
	if !strings.Contains(joined, "auth.shared_secret is required") {
		t.Errorf("expected missing secret issue, got %v", issues)
	}
	if !strings.Contains(joined, "upstream.api_key is required") {
		t.Errorf("expected missing api key issue, got %v", issues)
	}
	if len(issues) != 2 {
		t.Errorf("expected exactly two issues, got %v", issues)
	}
}

func TestValidate_Usable(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.SharedSecret = "s"
	cfg.Upstream.APIKey = "sk"

	if issues := cfg.Validate(); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestValidate_RejectsNonsense(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.SharedSecret = "s"
	cfg.Upstream.APIKey = "sk"
	cfg.RateLimit.TokenLimit = 0
	cfg.RateLimit.Window = Duration{time.Millisecond}
	cfg.Server.Port = 70000

	joined := strings.Join(cfg.Validate(), "\n")
	for _, want := range []string{"rate_limit.token_limit", "rate_limit.window", "server.port 70000"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in:\n%s", want, joined)
		}
	}
}

func TestIdentityKey_FallsBackToSecret(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.SharedSecret = "secret"
	if cfg.IdentityKey() != "secret" {
		t.Errorf("expected secret fallback, got %q", cfg.IdentityKey())
	}
	cfg.Telemetry.IdentityKey = "dedicated"
	if cfg.IdentityKey() != "dedicated" {
		t.Errorf("expected dedicated key, got %q", cfg.IdentityKey())
	}
}
