package ratelimit

import (
	"context"
	"time"

	"github.com/bobmcallan/llm-proxy/internal/common"
)

// Default quotas per hour.
const (
	DefaultTokenLimit = 100
	DefaultIPLimit    = 50
	DefaultWindow     = time.Hour
)

// Kind distinguishes the two identity classes.
type Kind string

const (
	KindToken Kind = "token"
	KindIP    Kind = "ip"
)

// Identity is who a bucket belongs to.
type Identity struct {
	Kind  Kind
	Value string
}

// TokenIdentity returns the bucket identity for a device token.
func TokenIdentity(token string) Identity { return Identity{Kind: KindToken, Value: token} }

// IPIdentity returns the bucket identity for a client address.
func IPIdentity(ip string) Identity { return Identity{Kind: KindIP, Value: ip} }

func (i Identity) key() string { return string(i.Kind) + ":" + i.Value }

// Result is the state of one bucket after counting a request.
type Result struct {
	Kind      Kind
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// Degraded is set when the shared store failed and the request was
	// counted in-process.
	Degraded bool
}

// Options configures a Limiter.
type Options struct {
	TokenLimit int
	IPLimit    int
	Window     time.Duration
	Clock      func() time.Time
}

// Limiter counts requests per identity in fixed windows.
type Limiter struct {
	store    Store
	fallback *MemoryStore
	limits   map[Kind]int
	window   time.Duration
	now      func() time.Time
	logger   *common.Logger
}

// NewLimiter creates a Limiter counting in store. When store is not a
// MemoryStore, fallback receives the calls the store cannot serve; a nil
// fallback gets a fresh MemoryStore.
func NewLimiter(store Store, fallback *MemoryStore, opts Options, logger *common.Logger) *Limiter {
	if opts.TokenLimit <= 0 {
		opts.TokenLimit = DefaultTokenLimit
	}
	if opts.IPLimit <= 0 {
		opts.IPLimit = DefaultIPLimit
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if fallback == nil {
		if mem, ok := store.(*MemoryStore); ok {
			fallback = mem
		} else {
			fallback = NewMemoryStore(DefaultSweepInterval)
		}
	}
	if store == nil {
		store = fallback
	}

	return &Limiter{
		store:    store,
		fallback: fallback,
		limits:   map[Kind]int{KindToken: opts.TokenLimit, KindIP: opts.IPLimit},
		window:   opts.Window,
		now:      opts.Clock,
		logger:   logger,
	}
}

// StoreName reports which store counts requests.
func (l *Limiter) StoreName() string { return l.store.Name() }

// Check counts one request for id and reports the bucket state.
func (l *Limiter) Check(ctx context.Context, id Identity) Result {
	now := l.now()
	limit := l.limits[id.Kind]

	count, resetAt, err := l.store.Incr(ctx, id.key(), l.window, now)
	degraded := false
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("bucket", string(id.Kind)).
			Str("store", l.store.Name()).
			Msg("rate limit store unavailable, counting locally")
		count, resetAt, _ = l.fallback.Incr(ctx, id.key(), l.window, now)
		degraded = true
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Kind:      id.Kind,
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Degraded:  degraded,
	}
}

// CheckRequest counts a request against its token bucket (if token is
// non-empty) and its IP bucket, and combines the two.
func (l *Limiter) CheckRequest(ctx context.Context, token, ip string) Decision {
	var tokenResult *Result
	if token != "" {
		r := l.Check(ctx, TokenIdentity(token))
		tokenResult = &r
	}
	return Evaluate(tokenResult, l.Check(ctx, IPIdentity(ip)))
}

// Decision combines the token and IP buckets of one request.
type Decision struct {
	Token *Result
	IP    Result

	// Allowed is true only when every present bucket allowed the request.
	Allowed bool

	// Violated is the binding bucket of a rejected request: the token
	// bucket if it was exceeded, otherwise the IP bucket.
	Violated *Result
}

// Evaluate applies AND semantics to the buckets of one request.
func Evaluate(token *Result, ip Result) Decision {
	d := Decision{Token: token, IP: ip, Allowed: true}

	if token != nil && !token.Allowed {
		d.Allowed = false
		d.Violated = token
		return d
	}
	if !ip.Allowed {
		d.Allowed = false
		d.Violated = &d.IP
	}
	return d
}

// Combined returns the most restrictive view over the present buckets:
// the smallest remaining count, the earliest reset and the largest limit.
func (d Decision) Combined() Result {
	c := d.IP
	c.Kind = ""
	c.Allowed = d.Allowed
	if d.Token == nil {
		return c
	}

	t := *d.Token
	if t.Remaining < c.Remaining {
		c.Remaining = t.Remaining
	}
	if t.ResetAt.Before(c.ResetAt) {
		c.ResetAt = t.ResetAt
	}
	if t.Limit > c.Limit {
		c.Limit = t.Limit
	}
	c.Degraded = c.Degraded || t.Degraded
	return c
}
