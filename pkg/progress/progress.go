// Package progress carries (completed, total) updates out of a running batch.
package progress

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Update is emitted once per completed row.
type Update struct {
	BatchID   string    `json:"batch_id"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// Done reports whether this update closes the batch.
func (u Update) Done() bool {
	return u.Total > 0 && u.Completed >= u.Total
}

// Fraction returns completion in [0, 1].
func (u Update) Fraction() float64 {
	if u.Total <= 0 {
		return 1
	}
	return float64(u.Completed) / float64(u.Total)
}

// Reporter receives progress updates. Report is called from the batch
// collector goroutine and must not block for long; failures are the
// reporter's own business and never reach the batch.
type Reporter interface {
	Report(ctx context.Context, u Update)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(ctx context.Context, u Update)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, u Update) {
	f(ctx, u)
}

// Nop discards updates.
var Nop Reporter = ReporterFunc(func(context.Context, Update) {})

// Multi fans an update out to several reporters in order.
type Multi []Reporter

// Report forwards u to every non-nil reporter.
func (m Multi) Report(ctx context.Context, u Update) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, u)
		}
	}
}

// LogReporter logs every Every-th update and always the final one.
type LogReporter struct {
	Logger zerolog.Logger
	Every  int
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger zerolog.Logger, every int) *LogReporter {
	if every <= 0 {
		every = 50
	}
	return &LogReporter{Logger: logger, Every: every}
}

// Report logs u when due.
func (l *LogReporter) Report(_ context.Context, u Update) {
	if !u.Done() && u.Completed%l.Every != 0 {
		return
	}
	l.Logger.Info().
		Str("batch_id", u.BatchID).
		Int("completed", u.Completed).
		Int("total", u.Total).
		Float64("progress_pct", u.Fraction()*100).
		Msg("Batch progress")
}
