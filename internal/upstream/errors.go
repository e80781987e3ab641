package upstream

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Error is an upstream failure mapped onto the status the proxy returns.
//
//	upstream 429            -> 503, retryable
//	other upstream 4xx      -> 400, not retryable
//	5xx or transport error  -> 500, retryable
type Error struct {
	// UpstreamStatus is zero when no HTTP response was received.
	UpstreamStatus int
	Status         int
	Retryable      bool
	Message        string
	Err            error
}

func (e *Error) Error() string {
	if e.UpstreamStatus == 0 {
		return fmt.Sprintf("upstream unavailable: %s", e.Message)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.UpstreamStatus, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps err onto an *Error. Errors already classified pass through.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	status, message := 0, err.Error()
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, message = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}

	e := &Error{UpstreamStatus: status, Message: message, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		e.Status, e.Retryable = http.StatusServiceUnavailable, true
	case status >= 400 && status < 500:
		e.Status, e.Retryable = http.StatusBadRequest, false
	default:
		e.Status, e.Retryable = http.StatusInternalServerError, true
	}
	return e
}
