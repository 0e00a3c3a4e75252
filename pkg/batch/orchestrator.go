package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/batch-api-runner/pkg/client"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
	"github.com/Sternrassler/batch-api-runner/pkg/progress"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for batch runs.
var (
	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_runs_total",
		Help: "Total batch runs by result (completed, cancelled, invalid)",
	}, []string{"result"})

	batchRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_rows_total",
		Help: "Total completed rows by outcome (success, http_error, network_error)",
	}, []string{"outcome"})

	batchInflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batch_inflight_requests",
		Help: "Fetches currently in flight across all batches",
	})

	batchRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_run_duration_seconds",
		Help:    "Wall time of a batch run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

// MaxConcurrency is the largest worker count a batch accepts.
const MaxConcurrency = 20

var (
	// ErrMissingID is returned when an input row has no id column.
	ErrMissingID = errors.New("input row is missing the id column")

	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid batch config")

	// ErrBatchCancelled is returned with the partial ResultSet when the
	// context ends before every row completed.
	ErrBatchCancelled = errors.New("batch cancelled")
)

// Fetcher performs one fetch; *client.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) client.Outcome
}

// Config holds orchestrator configuration.
type Config struct {
	// URLPrefix is placed before the row id.
	URLPrefix string
	// URLSuffix is placed after the row id.
	URLSuffix string
	// Concurrency is the number of fetches allowed in flight (1..MaxConcurrency).
	Concurrency int
}

// DefaultConfig returns a configuration with five workers.
func DefaultConfig(prefix, suffix string) Config {
	return Config{
		URLPrefix:   prefix,
		URLSuffix:   suffix,
		Concurrency: 5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("%w: concurrency must be between 1 and %d (got %d)", ErrInvalidConfig, MaxConcurrency, c.Concurrency)
	}
	return nil
}

// Orchestrator runs batches: one fetch per row on a bounded worker pool.
type Orchestrator struct {
	fetcher  Fetcher
	config   Config
	reporter progress.Reporter
	logger   zerolog.Logger
	newID    func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithReporter sets the progress reporter.
func WithReporter(r progress.Reporter) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithBatchIDFunc overrides batch id generation.
func WithBatchIDFunc(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New creates an Orchestrator.
func New(fetcher Fetcher, cfg Config, opts ...Option) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		fetcher:  fetcher,
		config:   cfg,
		reporter: progress.Nop,
		logger:   logging.NewLogger(logging.ComponentBatch),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Validate checks that every row can be dispatched.
func Validate(rows []InputRow) error {
	for i, row := range rows {
		if _, ok := row.ID(); !ok {
			return fmt.Errorf("%w (row %d)", ErrMissingID, i+1)
		}
	}
	return nil
}

// Run fetches every row and returns the merged records in completion order.
//
// A failing row never stops the batch: transport failures and HTTP errors are
// recorded on the row. If ctx ends first, in-flight fetches are aborted, rows
// that did not complete are left out, and the partial set is returned with an
// error wrapping ErrBatchCancelled.
func (o *Orchestrator) Run(ctx context.Context, rows []InputRow) (*ResultSet, error) {
	if err := Validate(rows); err != nil {
		batchRunsTotal.WithLabelValues("invalid").Inc()
		o.logger.Error().Err(err).Int("rows", len(rows)).Msg("Batch rejected")
		return nil, err
	}

	set := newResultSet(o.newID(), len(rows))
	logger := o.logger.With().Str("batch_id", set.BatchID).Logger()

	workers := o.config.Concurrency
	if workers > len(rows) {
		workers = len(rows)
	}

	logger.Info().
		Int("rows", len(rows)).
		Int("workers", workers).
		Str("url_prefix", o.config.URLPrefix).
		Str("url_suffix", o.config.URLSuffix).
		Msg("Starting batch")

	// Every row is queued up front; the pool bounds how many run at once.
	rowQueue := make(chan InputRow, len(rows))
	for _, row := range rows {
		rowQueue <- row
	}
	close(rowQueue)

	results := make(chan MergedRecord, o.config.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go o.worker(ctx, rowQueue, results, &wg, i, logger)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for rec := range results {
		completed := set.append(rec)
		batchRowsTotal.WithLabelValues(outcomeLabel(rec)).Inc()

		o.reporter.Report(ctx, progress.Update{
			BatchID:   set.BatchID,
			Completed: completed,
			Total:     set.Total,
			Timestamp: time.Now(),
		})
	}

	set.FinishedAt = time.Now()
	duration := set.FinishedAt.Sub(set.StartedAt)
	batchRunDuration.Observe(duration.Seconds())
	summary := set.Summary()

	if err := ctx.Err(); err != nil && !set.Complete() {
		batchRunsTotal.WithLabelValues("cancelled").Inc()
		logger.Warn().
			Err(err).
			Int("completed", set.Len()).
			Int("total", set.Total).
			Dur("duration", duration).
			Msg("Batch cancelled - returning partial results")
		return set, fmt.Errorf("%w (partial data: %d/%d rows): %w", ErrBatchCancelled, set.Len(), set.Total, err)
	}

	batchRunsTotal.WithLabelValues("completed").Inc()
	logger.Info().
		Int("rows", set.Len()).
		Int("succeeded", summary.Succeeded).
		Int("http_failed", summary.HTTPFailed).
		Int("network_failed", summary.NetworkFailed).
		Dur("duration", duration).
		Msg("Batch complete")

	return set, nil
}

// worker fetches rows from the queue until it is drained or ctx ends.
func (o *Orchestrator) worker(ctx context.Context, rowQueue <-chan InputRow, results chan<- MergedRecord, wg *sync.WaitGroup, workerID int, logger zerolog.Logger) {
	defer wg.Done()
	rowsProcessed := 0

	for row := range rowQueue {
		if ctx.Err() != nil {
			logger.Debug().
				Int("worker_id", workerID).
				Int("rows_processed", rowsProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		id, _ := row.ID()
		url := client.BuildURL(o.config.URLPrefix, id, o.config.URLSuffix)

		batchInflightRequests.Inc()
		outcome := o.fetcher.Fetch(ctx, url)
		batchInflightRequests.Dec()

		// A response that arrived before cancellation is still a result.
		if ctx.Err() != nil && outcome.Failed() {
			logger.Debug().
				Int("worker_id", workerID).
				Str("row_id", id).
				Msg("Dropping row interrupted by cancellation")
			return
		}

		if outcome.Failed() {
			logger.Warn().
				Str("row_id", id).
				Str("url", url).
				Str("error", outcome.Error).
				Msg("Row fetch failed")
		}

		results <- Merge(row, outcome)
		rowsProcessed++
	}

	logger.Debug().
		Int("worker_id", workerID).
		Int("rows_processed", rowsProcessed).
		Msg("Worker completed")
}
