// Package admission decides whether an inbound chat request may reach the
// upstream model and forwards the ones that may.
//
// Every request walks the same fixed sequence:
//
//	Received -> Authenticated -> RateChecked -> SchemaValidated -> Dispatched -> Completed
//
// and drops to Failed at the first check that does not pass. Rate limiting
// runs before the body is parsed, so rejected callers never cost schema work.
package admission

import (
	"fmt"
	"time"

	"github.com/bobmcallan/llm-proxy/internal/ratelimit"
)

// State is a step of the admission sequence.
type State int

const (
	Received State = iota
	Authenticated
	RateChecked
	SchemaValidated
	Dispatched
	Completed
	Failed
)

var stateNames = [...]string{
	Received:        "received",
	Authenticated:   "authenticated",
	RateChecked:     "rate_checked",
	SchemaValidated: "schema_validated",
	Dispatched:      "dispatched",
	Completed:       "completed",
	Failed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Kind classifies an admission failure.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rate_limit"
	KindValidation    Kind = "validation"
	KindUpstream      Kind = "upstream"
	KindConfiguration Kind = "configuration"
)

// Error is a request that ended in Failed.
type Error struct {
	Kind      Kind
	Status    int
	Message   string
	Details   []string
	Retryable bool

	// At is the last state the request reached before failing.
	At State

	// RetryAfter is set for rate limit rejections.
	RetryAfter time.Duration

	// Decision is the rate limit outcome, when the check ran.
	Decision *ratelimit.Decision

	Err error
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s (%d details)", e.Kind, e.Message, len(e.Details))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
