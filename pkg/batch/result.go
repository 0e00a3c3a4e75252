package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/batch-api-runner/pkg/client"
)

// ResultSet collects the merged records of one batch run in completion order.
// Appends are serialized; readers get copies.
type ResultSet struct {
	BatchID    string
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time

	mu      sync.Mutex
	records []MergedRecord
}

func newResultSet(batchID string, total int) *ResultSet {
	return &ResultSet{
		BatchID:   batchID,
		Total:     total,
		StartedAt: time.Now(),
		records:   make([]MergedRecord, 0, total),
	}
}

// append adds a record and returns the new count.
func (s *ResultSet) append(rec MergedRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return len(s.records)
}

// Len returns the number of completed records.
func (s *ResultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Complete reports whether every submitted row produced a record.
func (s *ResultSet) Complete() bool {
	return s.Len() == s.Total
}

// Records returns the records in completion order.
func (s *ResultSet) Records() []MergedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MergedRecord(nil), s.records...)
}

// Sorted returns the records in input order.
func (s *ResultSet) Sorted() []MergedRecord {
	records := s.Records()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
	return records
}

// Columns returns CoreKeys followed by every passthrough column seen, in
// input order of first appearance.
func Columns(records []MergedRecord) []string {
	cols := CoreKeys()
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	for _, rec := range records {
		for _, c := range rec.PassthroughColumns() {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// Summary counts records by outcome.
type Summary struct {
	Total         int `json:"total"`
	Succeeded     int `json:"succeeded"`
	HTTPFailed    int `json:"http_failed"`
	NetworkFailed int `json:"network_failed"`
}

// Summarize counts records by outcome class.
func Summarize(records []MergedRecord) Summary {
	sum := Summary{Total: len(records)}
	for _, rec := range records {
		switch {
		case rec.Outcome.StatusCode == client.StatusTransportFailure:
			sum.NetworkFailed++
		case rec.Succeeded():
			sum.Succeeded++
		default:
			sum.HTTPFailed++
		}
	}
	return sum
}

// Summary counts the records collected so far.
func (s *ResultSet) Summary() Summary {
	return Summarize(s.Records())
}

func outcomeLabel(rec MergedRecord) string {
	switch {
	case rec.Outcome.StatusCode == client.StatusTransportFailure:
		return "network_error"
	case rec.Succeeded():
		return "success"
	default:
		return "http_error"
	}
}
