package input

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
)

// ErrNoSheet is returned for a workbook without worksheets.
var ErrNoSheet = errors.New("workbook has no sheets")

// LoadXLSX parses the first sheet of an Excel workbook. The first non-blank
// row is the header and must contain an id column. Cells are read as their
// displayed text, so a numeric id 101 becomes "101". A sheet without rows
// yields no rows.
func LoadXLSX(r io.Reader) ([]batch.InputRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	defer rows.Close()

	var builder *rowBuilder
	for line := 1; rows.Next(); line++ {
		record, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d of %s: %w", line, sheet, err)
		}

		if builder == nil {
			if blank(record) {
				continue
			}
			if builder, err = newRowBuilder(record); err != nil {
				return nil, err
			}
			continue
		}
		builder.add(line, record)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	if builder == nil {
		return []batch.InputRow{}, nil
	}
	return builder.finish(), nil
}
