package telemetry

import (
	"context"

	"github.com/bobmcallan/llm-proxy/internal/common"
)

// LogSink writes one structured line per event.
type LogSink struct {
	logger *common.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *common.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink. Server-side failures log at error, rejected
// requests at warn, everything else at info.
func (s *LogSink) Record(_ context.Context, evt Event) {
	logger := s.logger
	if evt.CorrelationID != "" {
		logger = logger.WithCorrelationId(evt.CorrelationID)
	}

	e := logger.Info()
	switch {
	case evt.Status >= 500:
		e = logger.Error()
	case evt.Failed():
		e = logger.Warn()
	}

	e = e.
		Str("identity", evt.Identity).
		Str("state", evt.State).
		Int("status", evt.Status).
		Dur("duration", evt.Duration).
		Bool("stream", evt.Streamed)

	if evt.Degraded {
		e = e.Bool("rate_limit_degraded", true)
	}
	if evt.Failed() {
		e.Str("kind", evt.ErrorKind).Bool("retryable", evt.Retryable).Msg("Request failed")
		return
	}

	e.Str("model", evt.Model).
		Int("tools", evt.Tools).
		Int("prompt_tokens", evt.Usage.PromptTokens).
		Int("cached_tokens", evt.Usage.CachedTokens).
		Int("completion_tokens", evt.Usage.CompletionTokens).
		Float64("cost_usd", evt.CostUSD).
		Msg("Request completed")
}
