package app

import (
	"context"
	"fmt"

	"github.com/bobmcallan/llm-proxy/internal/admission"
	"github.com/bobmcallan/llm-proxy/internal/auth"
	"github.com/bobmcallan/llm-proxy/internal/common"
	"github.com/bobmcallan/llm-proxy/internal/config"
	"github.com/bobmcallan/llm-proxy/internal/handlers"
	"github.com/bobmcallan/llm-proxy/internal/mcp"
	"github.com/bobmcallan/llm-proxy/internal/ratelimit"
	"github.com/bobmcallan/llm-proxy/internal/schema"
	"github.com/bobmcallan/llm-proxy/internal/telemetry"
	"github.com/bobmcallan/llm-proxy/internal/upstream"
)

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Pipeline *admission.Pipeline
	Limiter  *ratelimit.Limiter
	Meter    *telemetry.Meter

	// HTTP handlers
	ChatHandler    *handlers.ChatHandler
	HealthHandler  *handlers.HealthHandler
	VersionHandler *handlers.VersionHandler
	MetricsHandler *handlers.MetricsHandler
	MCPHandler     *mcp.Handler

	store ratelimit.Store
}

// Option customises New. Tests use it to swap the upstream.
type Option func(*options)

type options struct {
	upstream admission.Upstream
}

// WithUpstream replaces the configured upstream client.
func WithUpstream(u admission.Upstream) Option {
	return func(o *options) { o.upstream = u }
}

// New initializes the application with all dependencies.
func New(cfg *config.Config, logger *common.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
	}

	verifier, err := auth.NewVerifier(cfg.Auth.SharedSecret, auth.WithMaxSkew(cfg.Auth.MaxSkew.Duration))
	if err != nil {
		return nil, err
	}

	a.initLimiter()

	sink, err := a.initTelemetry()
	if err != nil {
		a.Close()
		return nil, err
	}

	up := o.upstream
	if up == nil {
		up = upstream.New(upstream.Config{
			BaseURL:       cfg.Upstream.BaseURL,
			APIKey:        cfg.Upstream.APIKey,
			Model:         cfg.Upstream.Model,
			Timeout:       cfg.Upstream.Timeout.Duration,
			MaxRetries:    cfg.Upstream.MaxRetries,
			RetryInterval: cfg.Upstream.RetryInterval.Duration,
		}, logger)
	}

	validator := schema.NewValidator(cfg.Schema.MaxDepth)
	converter := schema.NewConverter(cfg.Schema.MaxDepth)

	a.Pipeline, err = admission.NewPipeline(admission.Deps{
		Verifier:   verifier,
		Limiter:    a.Limiter,
		Validator:  validator,
		Converter:  converter,
		Upstream:   up,
		Sink:       sink,
		Anonymizer: telemetry.NewAnonymizer(cfg.IdentityKey()),
		Pricing:    telemetry.NewPricing(prices(cfg.Upstream.Pricing)),
		Logger:     logger,
	}, admission.Options{
		MaxTokensCap: cfg.Upstream.MaxTokensCap,
		MaxTools:     cfg.Schema.MaxTools,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.initHandlers(validator, converter, up.Model())

	logger.Info().
		Str("model", up.Model()).
		Str("rate_limit_store", a.Limiter.StoreName()).
		Int("token_limit", cfg.RateLimit.TokenLimit).
		Int("ip_limit", cfg.RateLimit.IPLimit).
		Bool("mcp", cfg.MCP.Enabled).
		Msg("application initialization complete")

	return a, nil
}

// initLimiter picks the shared store when one is configured.
func (a *App) initLimiter() {
	rl := a.Config.RateLimit
	local := ratelimit.NewMemoryStore(rl.SweepInterval.Duration)

	a.store = local
	if rl.Redis.Addr != "" {
		client := ratelimit.NewRedisClient(ratelimit.RedisOptions{
			Addr:     rl.Redis.Addr,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
			Timeout:  rl.Redis.Timeout.Duration,
		})
		a.store = ratelimit.NewRedisStore(client, rl.Redis.KeyPrefix, rl.Redis.Timeout.Duration)
		a.Logger.Info().Str("addr", rl.Redis.Addr).Msg("Rate limit counters shared via redis")
	}

	a.Limiter = ratelimit.NewLimiter(a.store, local, ratelimit.Options{
		TokenLimit: rl.TokenLimit,
		IPLimit:    rl.IPLimit,
		Window:     rl.Window.Duration,
	}, a.Logger)
}

// initTelemetry builds the event sink: logs always, metrics when enabled.
func (a *App) initTelemetry() (telemetry.Sink, error) {
	sinks := telemetry.MultiSink{telemetry.NewLogSink(a.Logger)}
	if !a.Config.Telemetry.Metrics {
		return sinks, nil
	}

	a.Meter = telemetry.NewMeter()
	metrics, err := telemetry.NewMetricsSink(a.Meter.Provider)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return append(sinks, metrics), nil
}

// initHandlers initializes all HTTP handlers.
func (a *App) initHandlers(validator *schema.Validator, converter *schema.Converter, model string) {
	a.ChatHandler = handlers.NewChatHandler(a.Logger, a.Pipeline)

	var pinger handlers.Pinger
	if p, ok := a.store.(handlers.Pinger); ok {
		pinger = p
	}
	a.HealthHandler = handlers.NewHealthHandler(a.Logger, a.store.Name(), pinger)
	a.VersionHandler = handlers.NewVersionHandler(a.Logger, model)

	if a.Meter != nil {
		a.MetricsHandler = handlers.NewMetricsHandler(a.Logger, a.Meter)
	}
	if a.Config.MCP.Enabled {
		a.MCPHandler = mcp.NewHandler(validator, converter, model, a.Logger)
	}

	a.Logger.Debug().Msg("HTTP handlers initialized")
}

// Close closes all application resources.
func (a *App) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Meter != nil {
		if err := a.Meter.Shutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func prices(cfg map[string]config.Pricing) map[string]telemetry.Price {
	if len(cfg) == 0 {
		return nil
	}
	out := make(map[string]telemetry.Price, len(cfg))
	for model, p := range cfg {
		out[model] = telemetry.Price{Input: p.Input, CachedInput: p.CachedInput, Output: p.Output}
	}
	return out
}
