package export

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
	"github.com/Sternrassler/batch-api-runner/pkg/client"
)

// statusColumn is the 1-based position of status_code in batch.CoreKeys.
const statusColumn = 2

// StatusColors returns the colouring for a status cell: green for 200,
// red for a transport failure, yellow for anything else.
func StatusColors(status int) text.Colors {
	switch status {
	case 200:
		return text.Colors{text.FgGreen}
	case client.StatusTransportFailure:
		return text.Colors{text.FgRed}
	default:
		return text.Colors{text.FgYellow}
	}
}

func newWriter(records []batch.MergedRecord, opts Options) table.Writer {
	columns := batch.Columns(records)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault

	header := make(table.Row, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, rec := range records {
		row := make(table.Row, len(columns))
		for i, v := range rec.Values(columns) {
			cell := cellText(v)
			if opts.MaxCellWidth > 0 && len(cell) > opts.MaxCellWidth {
				cell = text.Trim(cell, opts.MaxCellWidth) + "..."
			}
			row[i] = cell
		}
		t.AppendRow(row)
	}

	if opts.Color {
		t.SetColumnConfigs([]table.ColumnConfig{{
			Number: statusColumn,
			Transformer: func(val interface{}) string {
				s := fmt.Sprint(val)
				var code int
				if _, err := fmt.Sscan(s, &code); err != nil {
					return s
				}
				return StatusColors(code).Sprint(s)
			},
		}})
	}

	return t
}

// Table renders records as a rounded ASCII table.
func Table(records []batch.MergedRecord, opts Options) string {
	t := newWriter(records, opts)
	rendered := t.Render()
	if opts.Summary {
		rendered += "\n" + SummaryTable(batch.Summarize(records))
	}
	return rendered
}

// Markdown renders records as a markdown table.
func Markdown(records []batch.MergedRecord, opts Options) string {
	opts.Color = false
	t := newWriter(records, opts)
	rendered := t.RenderMarkdown()
	if opts.Summary {
		sum := batch.Summarize(records)
		rendered += fmt.Sprintf("\n\n**Total**: %d, **Succeeded**: %d, **HTTP errors**: %d, **Network errors**: %d",
			sum.Total, sum.Succeeded, sum.HTTPFailed, sum.NetworkFailed)
	}
	return rendered
}

// SummaryTable renders outcome counts.
func SummaryTable(sum batch.Summary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Outcome", "Rows"})
	t.AppendRow(table.Row{"success", sum.Succeeded})
	t.AppendRow(table.Row{"http error", sum.HTTPFailed})
	t.AppendRow(table.Row{"network error", sum.NetworkFailed})
	t.AppendFooter(table.Row{"total", sum.Total})
	return t.Render()
}
