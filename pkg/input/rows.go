// Package input loads upload files (CSV or Excel) into batch rows.
package input

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
)

// LoadFile opens path and parses it by extension: .xlsx and .xlsm with
// LoadXLSX, anything else with LoadCSV. Delimiter and encoding only apply to
// CSV.
func LoadFile(path string, opts Options) ([]batch.InputRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var rows []batch.InputRow
	if IsSpreadsheet(path) {
		rows, err = LoadXLSX(file)
	} else {
		rows, err = LoadCSV(file, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// IsSpreadsheet reports whether name has an Excel workbook extension.
func IsSpreadsheet(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return true
	default:
		return false
	}
}

// rowBuilder turns a header and string records into rows. The header must
// contain an id column; blank records are skipped and short ones keep nil
// values for their missing columns.
type rowBuilder struct {
	columns []string
	rows    []batch.InputRow
	logger  zerolog.Logger
}

func newRowBuilder(header []string) (*rowBuilder, error) {
	columns := make([]string, len(header))
	hasID := false
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
		if columns[i] == batch.KeyID {
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("%w: header has columns %v", batch.ErrMissingID, columns)
	}

	return &rowBuilder{
		columns: columns,
		logger:  logging.NewLogger(logging.ComponentInput),
	}, nil
}

func (b *rowBuilder) add(line int, record []string) {
	if blank(record) {
		return
	}

	values := make(map[string]any, len(b.columns))
	for i, col := range b.columns {
		if i < len(record) {
			values[col] = record[i]
		}
	}
	if len(record) > len(b.columns) {
		b.logger.Debug().
			Int("line", line).
			Int("fields", len(record)).
			Int("columns", len(b.columns)).
			Msg("Ignoring extra fields")
	}

	b.rows = append(b.rows, batch.NewInputRow(len(b.rows), b.columns, values))
}

func (b *rowBuilder) finish() []batch.InputRow {
	b.logger.Info().
		Int("rows", len(b.rows)).
		Strs("columns", b.columns).
		Msg("Input loaded")

	if b.rows == nil {
		return []batch.InputRow{}
	}
	return b.rows
}

func blank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
