package batch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Sternrassler/batch-api-runner/pkg/client"
	"github.com/Sternrassler/batch-api-runner/pkg/extract"
)

// Keys written by the engine into every merged record.
const (
	KeyID         = "id"
	KeyStatusCode = "status_code"
	KeyFullURL    = "full_url"
	KeyError      = "error"
	KeyRawBody    = "raw_body"
)

// CoreKeys returns the engine-owned keys in presentation order. Passthrough
// columns follow them.
func CoreKeys() []string {
	return []string{
		KeyID,
		KeyStatusCode,
		extract.KeyMainDisposition,
		extract.KeySubDisposition,
		extract.KeyUpdatedAt,
		extract.KeyMobileNumber,
		KeyFullURL,
		KeyError,
		KeyRawBody,
	}
}

func isCoreKey(key string) bool {
	for _, k := range CoreKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// InputRow is one uploaded row: an ordered set of columns plus its position
// in the upload.
type InputRow struct {
	Seq     int
	columns []string
	values  map[string]any
}

// NewInputRow builds a row from ordered column names and their values.
// Columns missing from values are kept with a nil value; the id column, if
// present, is normalized to its string form.
func NewInputRow(seq int, columns []string, values map[string]any) InputRow {
	row := InputRow{
		Seq:     seq,
		columns: make([]string, 0, len(columns)),
		values:  make(map[string]any, len(columns)),
	}
	for _, col := range columns {
		if _, dup := row.values[col]; dup {
			continue
		}
		row.columns = append(row.columns, col)
		row.values[col] = values[col]
	}
	if v, ok := row.values[KeyID]; ok && v != nil {
		row.values[KeyID] = NormalizeID(v)
	}
	return row
}

// ID returns the row identifier and whether the row has one.
func (r InputRow) ID() (string, bool) {
	v, ok := r.values[KeyID]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return NormalizeID(v), true
	}
	return s, true
}

// Columns returns the column names in upload order.
func (r InputRow) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Get returns a column value.
func (r InputRow) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// NormalizeID renders an identifier as a string. Integral numbers lose any
// fractional formatting so 101.0 becomes "101".
func NormalizeID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10)
		}
		if f, err := id.Float64(); err == nil {
			return formatFloat(f)
		}
		return id.String()
	case float64:
		return formatFloat(id)
	case float32:
		return formatFloat(float64(id))
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	default:
		return fmt.Sprint(id)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e18 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MergedRecord is an input row combined with its fetch outcome and the fields
// extracted from the response. Engine keys win over passthrough columns with
// the same name.
type MergedRecord struct {
	Seq     int
	ID      string
	Outcome client.Outcome
	Fields  extract.Fields
	Input   InputRow
}

// Merge builds the record for a completed fetch.
func Merge(row InputRow, outcome client.Outcome) MergedRecord {
	id, _ := row.ID()
	return MergedRecord{
		Seq:     row.Seq,
		ID:      id,
		Outcome: outcome,
		Fields:  extract.Extract(outcome.RawBody),
		Input:   row,
	}
}

// PassthroughColumns returns the input columns that survive the merge.
func (m MergedRecord) PassthroughColumns() []string {
	cols := make([]string, 0, len(m.Input.columns))
	for _, col := range m.Input.columns {
		if !isCoreKey(col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// Keys returns all keys of the record in presentation order.
func (m MergedRecord) Keys() []string {
	return append(CoreKeys(), m.PassthroughColumns()...)
}

// Get returns the value stored under key, or nil.
func (m MergedRecord) Get(key string) any {
	switch key {
	case KeyID:
		return m.ID
	case KeyStatusCode:
		return m.Outcome.StatusCode
	case KeyFullURL:
		return m.Outcome.URL
	case KeyError:
		return m.Outcome.Error
	case KeyRawBody:
		return m.Outcome.RawBody
	}
	if v, ok := m.Fields.Get(key); ok {
		return v
	}
	v, _ := m.Input.Get(key)
	return v
}

// Values returns the values for keys, in the same order.
func (m MergedRecord) Values(keys []string) []any {
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = m.Get(key)
	}
	return values
}

// Map returns the record as a plain map.
func (m MergedRecord) Map() map[string]any {
	keys := m.Keys()
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		out[key] = m.Get(key)
	}
	return out
}

// Succeeded reports a 2xx response.
func (m MergedRecord) Succeeded() bool {
	return m.Outcome.StatusCode >= 200 && m.Outcome.StatusCode < 300
}
