// Package telemetry records the outcome of every admission attempt.
//
// Events never carry raw device tokens, addresses, signatures or message
// content. Identities are reduced to a keyed hash by an Anonymizer before
// an Event is built.
package telemetry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Usage is the token accounting reported by the upstream.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Event describes one finished request.
type Event struct {
	Time          time.Time
	CorrelationID string
	Identity      string
	Model         string
	State         string
	Status        int
	ErrorKind     string
	Retryable     bool
	Streamed      bool
	Degraded      bool
	Tools         int
	Duration      time.Duration
	Usage         Usage
	CostUSD       float64
}

// Failed reports whether the request ended in an error.
func (e Event) Failed() bool { return e.ErrorKind != "" }

// Sink receives events. Implementations must be safe for concurrent use
// and must not block the request path for long.
type Sink interface {
	Record(ctx context.Context, evt Event)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, evt)
		}
	}
}

// NopSink drops every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) {}

// identityLength is the number of hex characters kept from the hash.
const identityLength = 16

// Anonymizer maps identities to stable, non-reversible labels.
type Anonymizer struct {
	key []byte
}

// NewAnonymizer creates an Anonymizer keyed with key.
func NewAnonymizer(key string) *Anonymizer {
	return &Anonymizer{key: []byte(key)}
}

// Identity returns the first 16 hex characters of HMAC-SHA256(key, value).
// Empty input stays empty.
func (a *Anonymizer) Identity(value string) string {
	if value == "" {
		return ""
	}
	h := hmac.New(sha256.New, a.key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))[:identityLength]
}
