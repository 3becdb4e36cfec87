package precinct

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/precinct-map/internal/fetcher"
)

// Row is one attribute row from the precinct CSV.
type Row map[string]any

// ReadRows reads a header CSV. Numeric cells become float64, empty cells are
// dropped and everything else stays a string. idColumn is kept verbatim so
// identifiers with leading zeros survive.
func ReadRows(ctx context.Context, r io.Reader, idColumn string) ([]Row, error) {
	recs, errs := fetcher.StreamRecords(ctx, r, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true})

	var rows []Row
	for rec := range recs {
		row := make(Row, len(rec))
		for k, v := range rec {
			if v == "" {
				continue
			}
			if k == idColumn {
				row[k] = v
				continue
			}
			row[k] = typed(v)
		}
		rows = append(rows, row)
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "precinct: read rows")
	}
	return rows, nil
}

func typed(v string) any {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
