package export

import (
	"encoding/csv"
	"io"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
)

// WriteCSV writes a header of batch.Columns followed by one line per record.
// Records without a column leave the cell empty.
func WriteCSV(w io.Writer, records []batch.MergedRecord) error {
	columns := batch.Columns(records)

	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}

	line := make([]string, len(columns))
	for _, rec := range records {
		for i, v := range rec.Values(columns) {
			line[i] = cellText(v)
		}
		if err := writer.Write(line); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
