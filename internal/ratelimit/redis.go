package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the window counter and arms its expiry on first
// use. Running it as one script keeps both steps atomic across proxy
// instances.
const incrScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// expiryGrace keeps a window key alive briefly past its boundary so clock
// drift between proxy and store never drops a live counter.
const expiryGrace = time.Second

// RedisStore is a Store shared by every proxy instance.
type RedisStore struct {
	client  redis.UniversalClient
	script  *redis.Script
	prefix  string
	timeout time.Duration
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewRedisClient opens a client tuned for the request path: short timeouts
// and no client-side retries, since a slow store must not stall admission.
func NewRedisClient(opts RedisOptions) *redis.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})
}

// NewRedisStore wraps client. Keys are written as prefix + kind + ":" +
// sha256(identity) + ":" + window id.
func NewRedisStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		script:  redis.NewScript(incrScript),
		prefix:  prefix,
		timeout: timeout,
	}
}

// Incr implements Store. Windows are aligned to multiples of window since
// the unix epoch, so every instance agrees on the key and on resetAt. Any
// failure is reported as ErrStoreUnavailable.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return 0, time.Time{}, fmt.Errorf("%w: window must be positive", ErrStoreUnavailable)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	id, resetAt := windowBounds(now, windowMs)
	ttl := resetAt.Sub(now) + expiryGrace

	count, err := s.script.Run(ctx, s.client, []string{s.windowKey(key, id)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return count, resetAt, nil
}

// windowBounds returns the id of the window containing now and the instant
// that window ends.
func windowBounds(now time.Time, windowMs int64) (int64, time.Time) {
	id := now.UnixMilli() / windowMs
	return id, time.UnixMilli((id + 1) * windowMs)
}

// windowKey hashes the identity so raw tokens and addresses never reach
// the shared store. The bucket kind stays readable.
func (s *RedisStore) windowKey(key string, id int64) string {
	kind, identity, ok := strings.Cut(key, ":")
	if !ok {
		kind, identity = "", key
	}
	sum := sha256.Sum256([]byte(identity))
	return fmt.Sprintf("%s%s:%s:%d", s.prefix, kind, hex.EncodeToString(sum[:]), id)
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Name implements Store.
func (s *RedisStore) Name() string { return "redis" }

// Close implements Store.
func (s *RedisStore) Close() error { return s.client.Close() }
