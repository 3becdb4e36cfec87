package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/ingest"
	"github.com/sells-group/precinct-map/internal/metric"
	"github.com/sells-group/precinct-map/internal/store"
)

const testBoundary = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"PRECINCT": "1001", "NAME": "North"},
     "geometry": {"type": "Polygon", "coordinates": [[[-118.4,33.8],[-118.39,33.8],[-118.39,33.81],[-118.4,33.81],[-118.4,33.8]]]}},
    {"type": "Feature", "properties": {"PRECINCT": "1002", "NAME": "South"},
     "geometry": {"type": "Polygon", "coordinates": [[[-118.3,33.7],[-118.29,33.7],[-118.29,33.71],[-118.3,33.71],[-118.3,33.7]]]}}
  ]
}`

// writeData lays out the default source paths under dir.
func writeData(t *testing.T, dir string) {
	t.Helper()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "precincts.geojson"), []byte(testBoundary), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(data, "precincts.csv"), []byte("Precinct_ID,Registered\n1001,1200\n1002,800\n"), 0o644))
	full := `[{"Precinct_ID": "1001", "FIPS": "06037650901", "ACS_2022": {"` + metric.VarRenter + `": 45.2}}]`
	require.NoError(t, os.WriteFile(filepath.Join(data, "precinct_acs_full.json"), []byte(full), 0o644))
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	oldCfg := cfg
	t.Cleanup(func() { cfg = oldCfg })
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.Execute()
}

func TestMigrateCommand(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, execute(t, "migrate"))
	_, err := os.Stat(filepath.Join(dir, "precinct-map.db"))
	assert.NoError(t, err)
}

func TestCatalogCommand_Write(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "catalog.yaml")

	require.NoError(t, execute(t, "catalog", "--write", path))

	catalog, err := metric.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, catalog.Metrics(), len(metric.Default().Metrics()))
}

func TestExportCommand_CSVWithFullData(t *testing.T) {
	dir := chdirTemp(t)
	writeData(t, dir)
	out := filepath.Join(dir, "out.csv")

	require.NoError(t, execute(t, "export", "--format", "csv", "--out", out, "--full"))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Precinct_ID", "FIPS"}, rows[0][:2])

	byID := map[string][]string{}
	for _, r := range rows[1:] {
		byID[r[0]] = r
	}
	assert.Equal(t, "06037650901", byID["1001"][1])
	assert.Contains(t, byID["1001"], "45.2")

	st, err := store.Open(t.Context(), store.Config{Driver: "sqlite", DSN: filepath.Join(dir, "precinct-map.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	exports, err := st.ListExports(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, ingest.FormatCSV, exports[0].Format)
	assert.Equal(t, 2, exports[0].Precincts)
}

func TestExportCommand_BadFormat(t *testing.T) {
	chdirTemp(t)
	err := execute(t, "export", "--format", "pdf", "--full=false", "--out", "")
	assert.Error(t, err)
}

func TestExportFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "precinct_data_2024-03-09.xlsx", exportFileName("xlsx", ts))
}

func TestFormatScale(t *testing.T) {
	m, ok := metric.Default().Get("renter")
	require.True(t, ok)
	scale := classify.Classify([]float64{10, 30}, m.Scheme(), false)

	var buf bytes.Buffer
	formatScale(&buf, m, scale, 2)
	out := buf.String()
	assert.Contains(t, out, "(renter)")
	assert.Contains(t, out, "strategy: fixed_percent")
	assert.Contains(t, out, "values: 2")
	assert.Contains(t, out, "COLOR")
	assert.Contains(t, out, m.Palette[0])
}

func TestFormatScale_NoValues(t *testing.T) {
	m, ok := metric.Default().Get("commute_time")
	require.True(t, ok)

	var buf bytes.Buffer
	formatScale(&buf, m, classify.Classify(nil, m.Scheme(), false), 0)
	assert.Contains(t, buf.String(), "no values to classify")
}

func TestFormatCatalog(t *testing.T) {
	var buf bytes.Buffer
	formatCatalog(&buf, metric.Default())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, len(metric.Default().Metrics())+2)
	assert.Contains(t, lines[0], "STRATEGY")
	assert.Contains(t, lines[2], "renter")
	assert.Contains(t, lines[2], "fixed_percent")
}

func TestFormatChunkResults(t *testing.T) {
	var buf bytes.Buffer
	formatChunkResults(&buf, []*ingest.ChunkResult{
		{Chunk: "Renter", Precincts: 10, Fetched: 9, Failed: 1},
		nil,
		{Chunk: "Income", Skipped: true, Reason: ingest.StatusFull},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "Renter")
	assert.Contains(t, lines[3], "skipped: "+ingest.StatusFull)
}

func TestFormatChunkStates(t *testing.T) {
	var buf bytes.Buffer
	formatChunkStates(&buf, []ingest.ChunkState{
		{Key: "Renter", Name: "Housing: Renter Status", Variables: []string{metric.VarRenter}, Status: ingest.StatusLoaded},
	})
	assert.Contains(t, buf.String(), "Renter")
	assert.Contains(t, buf.String(), ingest.StatusLoaded)
}

func TestFormatExports(t *testing.T) {
	var buf bytes.Buffer
	formatExports(&buf, []store.Export{
		{ID: "abc", Format: "json", Precincts: 2, Bytes: 120, CreatedAt: time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)},
	})
	assert.Contains(t, buf.String(), "abc")
	assert.Contains(t, buf.String(), "2024-01-02 03:04")
}
