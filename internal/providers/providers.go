// Package providers wraps LLM chat APIs behind a single-turn completion
// interface.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Completer answers one prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

// ErrEmptyResponse is returned when the API answers with no text.
var ErrEmptyResponse = errors.New("empty response from provider")

// APIError wraps a provider error with what could be recovered about it.
type APIError struct {
	Provider   string
	Err        error
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	switch {
	case e.HTTPStatus == http.StatusTooManyRequests:
		return true
	case e.HTTPStatus >= 500:
		return true
	case e.HTTPStatus == 0:
		return isTransient(e.Err.Error())
	default:
		return false
	}
}

func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &APIError{Provider: provider, Err: err, HTTPStatus: statusOf(err.Error())}
}

// statusOf digs an HTTP status out of an SDK error message. Neither SDK
// exposes one consistently.
func statusOf(msg string) int {
	for _, code := range []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusPaymentRequired,
		http.StatusBadRequest,
	} {
		if strings.Contains(msg, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}

func isTransient(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"timeout", "connection reset", "connection refused", "no such host", "temporary failure", "rate limit"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
