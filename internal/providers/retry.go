package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines how failed completions are retried.
type RetryPolicy struct {
	MaxRetries   int           // 0 = no retries
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // exponential backoff factor
	Jitter       bool          // add up to 20% random delay
}

// DefaultRetryPolicy suits rate-limited hosted APIs.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	MaxDelay:     20 * time.Second,
	Multiplier:   2,
	Jitter:       true,
}

// WithRetry returns a Completer that retries retryable API errors.
func WithRetry(c Completer, policy RetryPolicy) Completer {
	return &retrying{Completer: c, policy: policy}
}

type retrying struct {
	Completer
	policy RetryPolicy
}

func (r *retrying) Complete(ctx context.Context, system, prompt string) (string, error) {
	for attempt := 0; ; attempt++ {
		text, err := r.Completer.Complete(ctx, system, prompt)
		if err == nil {
			return text, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return "", err
		}
		if attempt >= r.policy.MaxRetries {
			return "", fmt.Errorf("giving up after %d retries: %w", attempt, err)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(r.policy.delay(attempt)):
		}
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d += rand.Float64() * 0.2 * d
	}
	return time.Duration(d)
}
