package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
	"github.com/Sternrassler/batch-api-runner/pkg/client"
)

// SheetName is the worksheet results are written to.
const SheetName = "results"

// Status cell fills, matching the table colours.
const (
	fillSuccess = "C6EFCE"
	fillFailure = "FFC7CE"
	fillOther   = "FFEB9C"
)

// WriteXLSX writes records as an Excel workbook with one sheet: a header of
// batch.Columns followed by one row per record. The status_code cell is
// filled green, red or yellow like the table output.
func WriteXLSX(w io.Writer, records []batch.MergedRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}

	styles, err := statusStyles(f)
	if err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}

	columns := batch.Columns(records)
	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: col}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for n, rec := range records {
		values := rec.Values(columns)
		row := make([]any, len(columns))
		for i, col := range columns {
			if col == batch.KeyStatusCode {
				row[i] = excelize.Cell{StyleID: styles.forStatus(rec.Outcome.StatusCode), Value: rec.Outcome.StatusCode}
				continue
			}
			row[i] = cellLimit(cellText(values[i]))
		}

		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %s: %w", rec.ID, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}

type statusStyleSet struct {
	success, failure, other int
}

func (s statusStyleSet) forStatus(status int) int {
	switch {
	case status == 200:
		return s.success
	case status == client.StatusTransportFailure:
		return s.failure
	default:
		return s.other
	}
}

func statusStyles(f *excelize.File) (statusStyleSet, error) {
	var set statusStyleSet
	for _, entry := range []struct {
		color string
		id    *int
	}{
		{fillSuccess, &set.success},
		{fillFailure, &set.failure},
		{fillOther, &set.other},
	} {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{entry.color}},
		})
		if err != nil {
			return set, err
		}
		*entry.id = id
	}
	return set, nil
}

// cellLimit trims values to the Excel cell size limit; raw bodies can exceed it.
func cellLimit(s string) string {
	if len(s) <= excelize.TotalCellChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= excelize.TotalCellChars {
		return s
	}
	return string(runes[:excelize.TotalCellChars])
}
