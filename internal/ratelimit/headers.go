package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response headers describing quota state.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// UnknownClientIP is the IP bucket used when no address can be determined.
const UnknownClientIP = "unknown"

// ClientIP resolves the caller address. Edge proxy headers win over the
// socket address, in the order CF-Connecting-IP, X-Real-IP and the first
// hop of X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
	}
	return UnknownClientIP
}

// RetryAfterSeconds is the whole number of seconds until resetAt, rounded
// up and never below one.
func RetryAfterSeconds(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// WriteHeaders sets the combined quota headers plus one set per bucket.
// Rejected decisions also get Retry-After, computed from the violated bucket.
func WriteHeaders(h http.Header, d Decision, now time.Time) {
	setBucket(h, "X-RateLimit-", d.Combined())
	if d.Token != nil {
		setBucket(h, "X-RateLimit-Token-", *d.Token)
	}
	setBucket(h, "X-RateLimit-IP-", d.IP)

	if !d.Allowed && d.Violated != nil {
		h.Set(HeaderRetryAfter, strconv.Itoa(RetryAfterSeconds(d.Violated.ResetAt, now)))
	}
}

func setBucket(h http.Header, prefix string, r Result) {
	h.Set(prefix+"Limit", strconv.Itoa(r.Limit))
	h.Set(prefix+"Remaining", strconv.Itoa(r.Remaining))
	h.Set(prefix+"Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
}
