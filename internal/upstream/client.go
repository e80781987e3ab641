// Package upstream forwards admitted requests to an OpenAI-compatible
// chat-completion API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bobmcallan/llm-proxy/internal/common"
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// Client calls the upstream API. Retryable failures are retried with
// exponential backoff; the retry budget never outlives the caller context.
type Client struct {
	api           *openai.Client
	model         string
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
	logger        *common.Logger
}

// New creates a Client. The HTTP transport is instrumented with otelhttp.
func New(cfg Config, logger *common.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Client{
		api:           openai.NewClientWithConfig(oc),
		model:         cfg.Model,
		timeout:       cfg.Timeout,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		logger:        logger,
	}
}

// Model returns the model every request is sent with.
func (c *Client) Model() string { return c.model }

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval
	expo.MaxInterval = 8 * c.retryInterval
	expo.MaxElapsedTime = c.timeout
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxRetries)), ctx)
}

// retry runs op until it succeeds, fails permanently or the budget runs out.
// The returned error is always an *Error.
func (c *Client) retry(ctx context.Context, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		classified := Classify(err)
		if !classified.Retryable || ctx.Err() != nil {
			return backoff.Permanent(classified)
		}
		c.logger.Warn().
			Int("attempt", attempt).
			Int("upstream_status", classified.UpstreamStatus).
			Err(err).
			Msg("Upstream call failed, retrying")
		return classified
	}, c.backoff(ctx))
	if err == nil {
		return nil
	}
	return Classify(err)
}

// Complete sends a non-streaming request.
func (c *Client) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	req.Model = c.model
	req.Stream = false
	req.StreamOptions = nil

	var resp openai.ChatCompletionResponse
	err := c.retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var err error
		resp, err = c.api.CreateChatCompletion(callCtx, req)
		return err
	})
	return resp, err
}

// Stream is an open streaming response.
type Stream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

// Recv returns the next chunk, or io.EOF after the last one.
func (s *Stream) Recv() (openai.ChatCompletionStreamResponse, error) {
	chunk, err := s.stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		return chunk, Classify(err)
	}
	return chunk, err
}

// Close releases the stream.
func (s *Stream) Close() {
	s.stream.Close()
	s.cancel()
}

// Stream opens a streaming request with usage reporting enabled. Only
// opening the stream is retried; once chunks flow a failure is final.
func (c *Client) Stream(ctx context.Context, req openai.ChatCompletionRequest) (*Stream, error) {
	req.Model = c.model
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	var out *Stream
	err := c.retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		stream, err := c.api.CreateChatCompletionStream(callCtx, req)
		if err != nil {
			cancel()
			return err
		}
		out = &Stream{stream: stream, cancel: cancel}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// String describes the client for startup logs.
func (c *Client) String() string {
	return fmt.Sprintf("upstream(model=%s, retries=%d)", c.model, c.maxRetries)
}
