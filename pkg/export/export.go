// Package export renders batch results as table, markdown, csv, json lines or
// an Excel workbook.
// Every format uses the record key order: engine keys first, then the
// passthrough columns in upload order.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatXLSX     Format = "xlsx"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	case string(FormatCSV):
		return FormatCSV, nil
	case string(FormatJSON), "jsonl":
		return FormatJSON, nil
	case string(FormatXLSX), "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/x-ndjson"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Binary reports whether the format is not meant for a terminal.
func (f Format) Binary() bool {
	return f == FormatXLSX
}

// Options tunes rendering.
type Options struct {
	// Color enables ANSI status colouring in table output.
	Color bool
	// MaxCellWidth trims long table cells (raw_body mostly); 0 disables.
	MaxCellWidth int
	// Summary appends outcome counts to table and markdown output.
	Summary bool
}

// Write renders records to w in the requested format.
func Write(w io.Writer, format Format, records []batch.MergedRecord, opts Options) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatJSON:
		return WriteJSONLines(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(records, opts)+"\n")
		return err
	default:
		_, err := io.WriteString(w, Table(records, opts)+"\n")
		return err
	}
}

// cellText renders a record value for text formats. Absent values are empty;
// nested JSON values are written as compact JSON.
func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		data, err := marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// marshal encodes v as compact JSON without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteJSONLines writes one JSON object per record with keys in record order.
func WriteJSONLines(w io.Writer, records []batch.MergedRecord) error {
	var buf bytes.Buffer
	for _, rec := range records {
		buf.Reset()
		buf.WriteByte('{')
		for i, key := range rec.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := marshal(key)
			if err != nil {
				return err
			}
			v, err := marshal(rec.Get(key))
			if err != nil {
				return fmt.Errorf("encode %s for row %s: %w", key, rec.ID, err)
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteString("}\n")
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
