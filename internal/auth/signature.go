// Package auth verifies HMAC-signed requests.
//
// A client signs the exact request body bytes followed by the decimal unix
// timestamp (seconds) it sends in the timestamp header:
//
//	signature = hex(HMAC-SHA256(secret, body || timestamp))
//
// The body is never re-encoded before verification; any re-serialization
// could change the bytes the client signed.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header names carrying the signature material.
const (
	HeaderSignature   = "X-Signature"
	HeaderTimestamp   = "X-Timestamp"
	HeaderDeviceToken = "X-Device-Token"
)

// DefaultMaxSkew is the accepted distance between the request timestamp and
// the server clock, in either direction.
const DefaultMaxSkew = 5 * time.Minute

var (
	ErrMissingCredentials = errors.New("missing signature or timestamp")
	ErrMalformedTimestamp = errors.New("timestamp must be unix seconds")
	ErrStaleTimestamp     = errors.New("timestamp outside the accepted window")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// ConfigurationError reports a verifier that cannot be built safely.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("auth configuration: %s %s", e.Field, e.Reason)
}

// Verifier checks request signatures against a shared secret.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithMaxSkew overrides DefaultMaxSkew.
func WithMaxSkew(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier. An empty secret is refused: serving
// without verification must never happen silently.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, &ConfigurationError{Field: "shared_secret", Reason: "is empty"}
	}

	v := &Verifier{
		secret:  []byte(secret),
		maxSkew: DefaultMaxSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks that signature is the HMAC of body||timestamp and that
// timestamp lies within the skew window. It returns nil for a valid request.
func (v *Verifier) Verify(body []byte, signature, timestamp string) error {
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return ErrMissingCredentials
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMalformedTimestamp
	}

	// Bound ts in whole seconds first so the Duration below cannot
	// saturate for far-off values such as millisecond timestamps.
	now := v.now()
	bound := int64(v.maxSkew/time.Second) + 1
	if ts < now.Unix()-bound || ts > now.Unix()+bound {
		return ErrStaleTimestamp
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrStaleTimestamp
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, mac(v.secret, body, timestamp)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex signature a client sends for body at timestamp.
func Sign(secret string, body []byte, timestamp string) string {
	return hex.EncodeToString(mac([]byte(secret), body, timestamp))
}

// Timestamp formats t the way Verify expects it.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func mac(secret, body []byte, timestamp string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	h.Write([]byte(timestamp))
	return h.Sum(nil)
}
