package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bobmcallan/llm-proxy/internal/auth"
	"github.com/bobmcallan/llm-proxy/internal/common"
	"github.com/bobmcallan/llm-proxy/internal/ratelimit"
	"github.com/bobmcallan/llm-proxy/internal/schema"
	"github.com/bobmcallan/llm-proxy/internal/telemetry"
	"github.com/bobmcallan/llm-proxy/internal/upstream"
)

// Upstream is the model API the pipeline forwards to.
type Upstream interface {
	Model() string
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	Stream(ctx context.Context, req openai.ChatCompletionRequest) (*upstream.Stream, error)
}

// Inbound is the raw material of one request, captured before any parsing.
type Inbound struct {
	Body          []byte
	Signature     string
	Timestamp     string
	DeviceToken   string
	ClientIP      string
	CorrelationID string
}

// Admitted is a request that passed every check and may be dispatched.
type Admitted struct {
	Request  openai.ChatCompletionRequest
	Stream   bool
	Decision ratelimit.Decision
	State    State

	identity      string
	correlationID string
	tools         int
	started       time.Time
}

// Options configures a Pipeline.
type Options struct {
	MaxTokensCap int
	MaxTools     int
	Clock        func() time.Time
}

// Pipeline runs the admission sequence.
type Pipeline struct {
	verifier   *auth.Verifier
	limiter    *ratelimit.Limiter
	validator  *schema.Validator
	converter  *schema.Converter
	upstream   Upstream
	sink       telemetry.Sink
	anonymizer *telemetry.Anonymizer
	pricing    *telemetry.Pricing
	opts       Options
	logger     *common.Logger
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Verifier   *auth.Verifier
	Limiter    *ratelimit.Limiter
	Validator  *schema.Validator
	Converter  *schema.Converter
	Upstream   Upstream
	Sink       telemetry.Sink
	Anonymizer *telemetry.Anonymizer
	Pricing    *telemetry.Pricing
	Logger     *common.Logger
}

// NewPipeline creates a Pipeline. Verifier, Limiter and Upstream are required.
func NewPipeline(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Verifier == nil || deps.Limiter == nil || deps.Upstream == nil {
		return nil, &Error{
			Kind:    KindConfiguration,
			Message: "pipeline needs a verifier, a rate limiter and an upstream",
		}
	}
	if deps.Validator == nil {
		deps.Validator = schema.NewValidator(schema.DefaultMaxDepth)
	}
	if deps.Converter == nil {
		deps.Converter = schema.NewConverter(schema.DefaultMaxDepth)
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.NopSink{}
	}
	if deps.Anonymizer == nil {
		deps.Anonymizer = telemetry.NewAnonymizer("")
	}
	if deps.Pricing == nil {
		deps.Pricing = telemetry.NewPricing(nil)
	}
	if deps.Logger == nil {
		deps.Logger = common.NewSilentLogger()
	}
	if opts.MaxTokensCap <= 0 {
		opts.MaxTokensCap = 4096
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Pipeline{
		verifier:   deps.Verifier,
		limiter:    deps.Limiter,
		validator:  deps.Validator,
		converter:  deps.Converter,
		upstream:   deps.Upstream,
		sink:       deps.Sink,
		anonymizer: deps.Anonymizer,
		pricing:    deps.Pricing,
		opts:       opts,
		logger:     deps.Logger,
	}, nil
}

// Admit runs authentication, rate limiting and body validation. It returns
// an *Error for rejected requests.
func (p *Pipeline) Admit(ctx context.Context, in *Inbound) (*Admitted, error) {
	started := p.opts.Clock()
	identity := in.DeviceToken
	if identity == "" {
		identity = in.ClientIP
	}
	a := &Admitted{
		State:         Received,
		identity:      p.anonymizer.Identity(identity),
		correlationID: in.CorrelationID,
		started:       started,
	}

	if err := p.verifier.Verify(in.Body, in.Signature, in.Timestamp); err != nil {
		return nil, p.reject(ctx, a, &Error{
			Kind:    KindAuth,
			Status:  http.StatusUnauthorized,
			Message: err.Error(),
			Err:     err,
		})
	}
	a.State = Authenticated

	a.Decision = p.limiter.CheckRequest(ctx, in.DeviceToken, in.ClientIP)
	if !a.Decision.Allowed {
		v := a.Decision.Violated
		retry := time.Duration(ratelimit.RetryAfterSeconds(v.ResetAt, p.opts.Clock())) * time.Second
		decision := a.Decision
		return nil, p.reject(ctx, a, &Error{
			Kind:       KindRateLimit,
			Status:     http.StatusTooManyRequests,
			Message:    fmt.Sprintf("%s rate limit of %d requests exceeded", v.Kind, v.Limit),
			Retryable:  true,
			RetryAfter: retry,
			Decision:   &decision,
		})
	}
	a.State = RateChecked

	req, err := DecodeChatRequest(in.Body)
	if err != nil {
		return nil, p.reject(ctx, a, p.invalid("malformed request body", []string{err.Error()}, err))
	}
	a.Stream = req.Stream
	a.tools = len(req.Tools)

	details := req.validateOverrides(p.opts.MaxTokensCap)
	if p.opts.MaxTools > 0 && len(req.Tools) > p.opts.MaxTools {
		details = append(details, fmt.Sprintf("%d tools declared, at most %d allowed", len(req.Tools), p.opts.MaxTools))
	}
	details = append(details, p.validator.ValidateAll(req.Tools)...)
	choice, err := req.toolChoice()
	if err != nil {
		details = append(details, err.Error())
	}
	if len(details) > 0 {
		return nil, p.reject(ctx, a, p.invalid("request validation failed", details, nil))
	}

	tools, err := p.converter.ConvertAll(req.Tools)
	if err != nil {
		return nil, p.reject(ctx, a, p.invalid("tool conversion failed", []string{err.Error()}, err))
	}
	a.State = SchemaValidated
	a.Request = req.upstreamRequest(tools, choice)

	return a, nil
}

func (p *Pipeline) invalid(message string, details []string, err error) *Error {
	return &Error{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// Dispatch forwards a non-streaming request.
func (p *Pipeline) Dispatch(ctx context.Context, a *Admitted) (openai.ChatCompletionResponse, error) {
	a.State = Dispatched
	resp, err := p.upstream.Complete(ctx, a.Request)
	if err != nil {
		return resp, p.reject(ctx, a, upstreamError(err))
	}

	usage := usageOf(&resp.Usage)
	p.complete(ctx, a, resp.Model, usage)
	return resp, nil
}

// DispatchStream forwards a streaming request, handing every chunk to emit.
// An *Error returned before the first emit means nothing was sent.
func (p *Pipeline) DispatchStream(ctx context.Context, a *Admitted, emit func(openai.ChatCompletionStreamResponse) error) error {
	a.State = Dispatched
	stream, err := p.upstream.Stream(ctx, a.Request)
	if err != nil {
		return p.reject(ctx, a, upstreamError(err))
	}
	defer stream.Close()

	model := p.upstream.Model()
	var usage telemetry.Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.reject(ctx, a, upstreamError(err))
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = usageOf(chunk.Usage)
		}
		if err := emit(chunk); err != nil {
			// The caller went away; nothing more can be delivered.
			return p.reject(ctx, a, &Error{
				Kind:    KindUpstream,
				Status:  499,
				Message: "client disconnected during stream",
				Err:     err,
			})
		}
	}

	p.complete(ctx, a, model, usage)
	return nil
}

func upstreamError(err error) *Error {
	ue := upstream.Classify(err)
	return &Error{
		Kind:      KindUpstream,
		Status:    ue.Status,
		Message:   ue.Message,
		Retryable: ue.Retryable,
		Err:       ue,
	}
}

func usageOf(u *openai.Usage) telemetry.Usage {
	out := telemetry.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
	if u.PromptTokensDetails != nil {
		out.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

func (p *Pipeline) complete(ctx context.Context, a *Admitted, model string, usage telemetry.Usage) {
	a.State = Completed
	if model == "" {
		model = p.upstream.Model()
	}
	cost, _ := p.pricing.Cost(model, usage)
	p.sink.Record(ctx, p.event(a, telemetry.Event{
		Status:  http.StatusOK,
		Model:   model,
		Usage:   usage,
		CostUSD: cost,
	}))
}

// reject moves a to Failed and records the outcome. Failures after the
// rate check carry its decision, since the request was counted either way.
func (p *Pipeline) reject(ctx context.Context, a *Admitted, e *Error) *Error {
	e.At = a.State
	if e.Decision == nil && a.State >= RateChecked {
		decision := a.Decision
		e.Decision = &decision
	}
	a.State = Failed
	p.sink.Record(ctx, p.event(a, telemetry.Event{
		Status:    e.Status,
		ErrorKind: string(e.Kind),
		Retryable: e.Retryable,
		Model:     p.upstream.Model(),
	}))
	return e
}

func (p *Pipeline) event(a *Admitted, evt telemetry.Event) telemetry.Event {
	now := p.opts.Clock()
	evt.Time = now
	evt.CorrelationID = a.correlationID
	evt.Identity = a.identity
	evt.State = a.State.String()
	evt.Streamed = a.Stream
	evt.Tools = a.tools
	evt.Duration = now.Sub(a.started)
	evt.Degraded = a.Decision.IP.Degraded || (a.Decision.Token != nil && a.Decision.Token.Degraded)
	return evt
}
