package client

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_fetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fetchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_fetch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.3, 0.6, 1.2, 2.4, 5, 10, 30, 120},
	}, []string{"error_class"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_fetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy controls how a single fetch is retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt (0 = no retries).
	MaxRetries int

	// BackoffFactor scales the exponential wait: factor * 2^(retry-1) seconds.
	BackoffFactor float64

	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration

	// RetryableStatuses are HTTP statuses that trigger another attempt.
	RetryableStatuses []int
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BackoffFactor:     0.3,
		MaxBackoff:        120 * time.Second,
		RetryableStatuses: []int{500, 502, 504},
	}
}

// Validate reports whether the policy can be used.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0 (got %d)", ErrInvalidConfig, p.MaxRetries)
	}
	if p.BackoffFactor < 0 || math.IsNaN(p.BackoffFactor) {
		return fmt.Errorf("%w: backoff factor must be >= 0 (got %v)", ErrInvalidConfig, p.BackoffFactor)
	}
	for _, code := range p.RetryableStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("%w: retryable status %d out of range", ErrInvalidConfig, code)
		}
	}
	return nil
}

// IsRetryableStatus reports whether code is in the retry set.
func (p RetryPolicy) IsRetryableStatus(code int) bool {
	return slices.Contains(p.RetryableStatuses, code)
}

// Backoff returns the wait before the given retry (1-based), without jitter.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 || p.BackoffFactor <= 0 {
		return 0
	}
	seconds := p.BackoffFactor * math.Pow(2, float64(retry-1))
	backoff := time.Duration(seconds * float64(time.Second))
	if p.MaxBackoff > 0 && (backoff > p.MaxBackoff || backoff < 0) {
		backoff = p.MaxBackoff
	}
	return backoff
}

// retryWithBackoff executes fn until it succeeds, returns a non-retryable error,
// or the policy's attempt budget is spent. It returns the number of attempts made.
// Waits respect context cancellation and carry ±20% jitter.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, fn func(attempt int) error, classify func(error) ErrorClass) (int, error) {
	maxAttempts := policy.MaxRetries + 1

	var lastErr error
	var errorClass ErrorClass

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				log.Debug().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		errorClass = classify(err)

		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		if !shouldRetry(errorClass) {
			return attempt, lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		fetchRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		wait := policy.Backoff(attempt)
		if wait > 0 {
			wait = time.Duration(float64(wait) * (0.8 + rand.Float64()*0.4))
		}
		fetchRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		log.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Debug().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Context cancelled during retry backoff")
				return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
			case <-timer.C:
			}
		}
	}

	fetchRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	log.Debug().
		Str("error_class", string(errorClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
