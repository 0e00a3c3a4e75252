package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid client config")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents statuses outside the retryable set (4xx and friends).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents statuses inside the retryable set.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents DNS, connect, timeout and read failures.
	ErrorClassNetwork ErrorClass = "network"
)

// StatusError is produced for a response whose status is in the retry set.
// It carries the response so the last one can be kept when retries run out.
type StatusError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
}

// TransportError wraps a failure that produced no HTTP response.
// Permanent marks failures that cannot succeed on retry (e.g. an unparsable URL).
type TransportError struct {
	URL       string
	Err       error
	Permanent bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("request to %s failed", e.URL)
	}
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
