package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/store"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// MissingValue is written for fetched variables without a value.
const MissingValue = -1.0

// ContentType returns the MIME type of an export format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// ParseFormat normalises an export format name.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("ingest: unknown export format %q", s)
	}
}

type exportRow struct {
	id     string
	fips   string
	values map[string]classify.Observation
}

// Export writes every precinct's FIPS and fetched values to w and records
// the export in the store.
func (m *Manager) Export(ctx context.Context, w io.Writer, format string) (*store.Export, error) {
	format, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	if m.set == nil {
		m.mu.RUnlock()
		return nil, ErrNotLoaded
	}
	rows := make([]exportRow, 0, m.set.Len())
	for _, p := range m.set.All() {
		rows = append(rows, exportRow{id: p.ID, fips: p.FIPS, values: p.Observations()})
	}
	m.mu.RUnlock()

	variables := m.catalog.Variables()
	cw := &countingWriter{w: w}
	switch format {
	case FormatCSV:
		err = writeCSV(cw, rows, variables)
	case FormatXLSX:
		err = writeXLSX(cw, rows, variables)
	default:
		err = writeJSON(cw, rows)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: export %s", format)
	}

	rec := &store.Export{
		ID:        uuid.NewString(),
		Format:    format,
		Precincts: len(rows),
		Bytes:     cw.n,
		CreatedAt: time.Now().UTC(),
	}
	if m.store != nil {
		stored, err := m.store.RecordExport(ctx, format, len(rows), cw.n)
		if err != nil {
			zap.L().Warn("ingest: record export failed", zap.Error(err))
		} else {
			rec = stored
		}
	}
	zap.L().Info("ingest: data exported",
		zap.String("id", rec.ID),
		zap.String("format", format),
		zap.Int("precincts", rec.Precincts),
		zap.Int64("bytes", rec.Bytes),
	)
	return rec, nil
}

func exportValue(o classify.Observation) (float64, bool) {
	if !o.Fetched() {
		return 0, false
	}
	if v, ok := o.Float(); ok {
		return v, true
	}
	return MissingValue, true
}

func writeJSON(w io.Writer, rows []exportRow) error {
	out := make(map[string]map[string]any, len(rows))
	for _, r := range rows {
		entry := map[string]any{"FIPS": nil}
		if r.fips != "" {
			entry["FIPS"] = r.fips
		}
		for v, o := range r.values {
			if val, ok := exportValue(o); ok {
				entry[v] = val
			}
		}
		out[r.id] = entry
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func header(variables []string) []string {
	return append([]string{"Precinct_ID", "FIPS"}, variables...)
}

func cells(r exportRow, variables []string) []string {
	rec := make([]string, 0, len(variables)+2)
	rec = append(rec, r.id, r.fips)
	for _, v := range variables {
		if val, ok := exportValue(r.values[v]); ok {
			rec = append(rec, strconv.FormatFloat(val, 'f', -1, 64))
		} else {
			rec = append(rec, "")
		}
	}
	return rec
}

func writeCSV(w io.Writer, rows []exportRow, variables []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(variables)); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(cells(r, variables)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, rows []exportRow, variables []string) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("precincts")
	if err != nil {
		return err
	}
	hr := sheet.AddRow()
	for _, h := range header(variables) {
		hr.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.id)
		row.AddCell().SetString(r.fips)
		for _, v := range variables {
			cell := row.AddCell()
			if val, ok := exportValue(r.values[v]); ok {
				cell.SetFloat(val)
			}
		}
	}
	return file.Write(w)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
