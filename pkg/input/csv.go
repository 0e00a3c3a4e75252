package input

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
)

// Supported encodings.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1251 = "windows-1251"
)

// ErrInvalidOptions is returned for an unusable delimiter or encoding.
var ErrInvalidOptions = errors.New("invalid input options")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options controls CSV parsing.
type Options struct {
	// Delimiter is the field separator; "," when empty.
	Delimiter string
	// Encoding is utf-8 (default) or windows-1251.
	Encoding string
}

// DefaultOptions returns comma-separated UTF-8.
func DefaultOptions() Options {
	return Options{Delimiter: ",", Encoding: EncodingUTF8}
}

func (o Options) comma() (rune, error) {
	if o.Delimiter == "" {
		return ',', nil
	}
	if o.Delimiter == `\t` {
		return '\t', nil
	}
	runes := []rune(o.Delimiter)
	if len(runes) != 1 || runes[0] == '"' || runes[0] == '\n' || runes[0] == '\r' {
		return 0, fmt.Errorf("%w: delimiter %q", ErrInvalidOptions, o.Delimiter)
	}
	return runes[0], nil
}

func (o Options) decode(r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(o.Encoding)) {
	case "", EncodingUTF8, "utf8":
		return r, nil
	case EncodingWindows1251, "cp1251":
		return charmap.Windows1251.NewDecoder().Reader(r), nil
	default:
		return nil, fmt.Errorf("%w: encoding %q", ErrInvalidOptions, o.Encoding)
	}
}

// LoadCSV parses a CSV upload. The first record is the header and must
// contain an id column; every following record becomes one row with all
// columns kept as strings. An empty input yields no rows.
func LoadCSV(r io.Reader, opts Options) ([]batch.InputRow, error) {
	comma, err := opts.comma()
	if err != nil {
		return nil, err
	}
	decoded, err := opts.decode(r)
	if err != nil {
		return nil, err
	}

	buffered := bufio.NewReader(decoded)
	if prefix, err := buffered.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = buffered.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(buffered)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []batch.InputRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	builder, err := newRowBuilder(header)
	if err != nil {
		return nil, err
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		builder.add(line, record)
	}

	return builder.finish(), nil
}
