package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
	TrimSpace  bool
}

func newCSVReader(r io.Reader, opts CSVOptions) *csv.Reader {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = opts.Comment
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1
	return reader
}

// StreamCSV sends every row of r to the returned channel. Read errors and
// cancellation are reported on the error channel; both channels close when
// the input is exhausted.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := newCSVReader(r, opts)
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				for i := range record {
					record[i] = strings.TrimSpace(record[i])
				}
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// Record is a CSV row keyed by header column.
type Record map[string]string

// StreamRecords is StreamCSV for files with a header row: each data row is
// sent as a Record keyed by the (trimmed, BOM-stripped) header names. Cells
// past the header width are dropped and missing trailing cells are absent.
func StreamRecords(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record, <-chan error) {
	outCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	rows, rowErrs := StreamCSV(ctx, r, opts)
	go func() {
		defer close(outCh)
		defer close(errCh)

		var header []string
		for row := range rows {
			if header == nil {
				header = make([]string, len(row))
				for i, h := range row {
					header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
				}
				continue
			}
			rec := make(Record, len(header))
			for i, cell := range row {
				if i >= len(header) {
					break
				}
				rec[header[i]] = cell
			}
			select {
			case outCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				for range rows {
				}
				return
			}
		}
		if err := <-rowErrs; err != nil {
			errCh <- err
		}
	}()

	return outCh, errCh
}
