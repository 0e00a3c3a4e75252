// Package client provides the fetch unit: a shared, connection-pooling HTTP
// client that performs one GET per call with timeout and retry handling and
// normalizes whatever happens into an Outcome.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/batch-api-runner/pkg/extract"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_fetch_requests_total",
		Help: "Total fetch attempts by HTTP status (network_error for transport failures)",
	}, []string{"status"})

	fetchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_fetch_request_duration_seconds",
		Help:    "Duration of a complete fetch including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 150},
	})
)

// StatusTransportFailure is the status code of an outcome that never got an HTTP response.
const StatusTransportFailure = -1

// Outcome is the normalized result of one fetch.
//
// Exactly one of these holds: StatusCode >= 100 and Error is empty, or
// StatusCode == StatusTransportFailure and Error is not empty.
type Outcome struct {
	URL        string
	StatusCode int
	RawBody    string
	Error      string
	Attempts   int
	Duration   time.Duration
}

// Failed reports whether the fetch ended without an HTTP response.
func (o Outcome) Failed() bool {
	return o.StatusCode == StatusTransportFailure
}

// Client performs fetches over one shared http.Client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request
	UserAgent string

	// Timeout bounds a single attempt (connect + headers + body)
	Timeout time.Duration

	// Retry policy applied to every fetch
	Retry RetryPolicy

	// Idle connections kept per host; usually the batch concurrency
	MaxIdleConnsPerHost int
}

// DefaultConfig returns a default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:           userAgent,
		Timeout:             150 * time.Second,
		Retry:               DefaultRetryPolicy(),
		MaxIdleConnsPerHost: 5,
	}
}

// New creates a new Client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("%w: user-agent is required", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0 (got %s)", ErrInvalidConfig, cfg.Timeout)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 5
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost

	return &Client{
		httpClient: &http.Client{Transport: transport},
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentFetchClient),
	}, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.config
}

// BuildURL joins prefix, identifier and suffix into a request URL.
// No validation happens here; a malformed URL surfaces as a transport failure.
func BuildURL(prefix, id, suffix string) string {
	return prefix + id + suffix
}

type response struct {
	status int
	body   []byte
}

// Fetch performs one GET against url with retries and returns its Outcome.
// It never returns an error: every failure is folded into the Outcome.
func (c *Client) Fetch(ctx context.Context, url string) Outcome {
	start := time.Now()
	outcome := Outcome{URL: url}

	var last *response
	attempts, err := retryWithBackoff(ctx, c.config.Retry, func(attempt int) error {
		status, body, err := c.attempt(ctx, url)
		if err != nil {
			last = nil
			fetchRequestsTotal.WithLabelValues("network_error").Inc()
			c.logger.Debug().
				Err(err).
				Str("url", url).
				Int("attempt", attempt).
				Msg("Fetch attempt failed")
			return err
		}

		last = &response{status: status, body: body}
		fetchRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()

		if c.config.Retry.IsRetryableStatus(status) {
			c.logger.Debug().
				Str("url", url).
				Int("status_code", status).
				Int("attempt", attempt).
				Msg("Retryable status received")
			return &StatusError{
				StatusCode: status,
				ErrorClass: ErrorClassServer,
				Message:    http.StatusText(status),
				Body:       body,
			}
		}
		return nil
	}, classifyError)

	outcome.Attempts = attempts
	outcome.Duration = time.Since(start)
	fetchRequestDuration.Observe(outcome.Duration.Seconds())

	if last != nil {
		outcome.StatusCode = last.status
		outcome.RawBody = normalizeBody(last.body)
		return outcome
	}

	outcome.StatusCode = StatusTransportFailure
	outcome.Error = errorText(err)
	c.logger.Warn().
		Str("url", url).
		Int("attempt", attempts).
		Str("error", outcome.Error).
		Msg("Fetch failed without response")
	return outcome
}

// attempt performs a single GET and reads the full body under the attempt timeout.
func (c *Client) attempt(ctx context.Context, url string) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, &TransportError{URL: url, Err: err, Permanent: true}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransportError{URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}

	return resp.StatusCode, body, nil
}

// classifyError categorizes an attempt error for retry decisions.
func classifyError(err error) ErrorClass {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.ErrorClass
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Permanent {
			return ErrorClassClient
		}
		return ErrorClassNetwork
	}

	return ErrorClassClient
}

// normalizeBody stores JSON bodies in canonical form and anything else verbatim.
func normalizeBody(body []byte) string {
	if canonical, ok := extract.Canonicalize(body); ok {
		return canonical
	}
	return string(body)
}

func errorText(err error) string {
	if err == nil {
		return "request failed without response"
	}
	if text := err.Error(); text != "" {
		return text
	}
	return "request failed without response"
}

// Close releases idle connections held by the shared transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
