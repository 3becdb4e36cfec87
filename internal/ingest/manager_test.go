package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/metric"
	"github.com/sells-group/precinct-map/internal/resilience"
	"github.com/sells-group/precinct-map/internal/store"
	"github.com/sells-group/precinct-map/pkg/census"
)

const (
	renterCode   = "DP04_0047PE"
	povertyCode  = "DP03_0128PE"
	testBoundary = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"PRECINCT": "1001", "NAME": "North"},
     "geometry": {"type": "Polygon", "coordinates": [[[-118.4,33.8],[-118.39,33.8],[-118.39,33.81],[-118.4,33.81],[-118.4,33.8]]]}},
    {"type": "Feature", "properties": {"PRECINCT": "1002", "NAME": "South"},
     "geometry": {"type": "Polygon", "coordinates": [[[-118.3,33.7],[-118.29,33.7],[-118.29,33.71],[-118.3,33.71],[-118.3,33.7]]]}},
    {"type": "Feature", "properties": {"PRECINCT": "9999"},
     "geometry": {"type": "Polygon", "coordinates": [[[-118.2,33.7],[-118.19,33.7],[-118.19,33.71],[-118.2,33.71],[-118.2,33.7]]]}}
  ]
}`
	testRows = "Precinct_ID,Registered\n1001,1200\n1002,800\n"
)

var testLabels = "Variable,Label\n" +
	renterCode + ",\"" + metric.VarRenter + "\"\n" +
	"\"" + metric.VarPoverty + "\"," + povertyCode + "\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testSources(t *testing.T) (Sources, string) {
	t.Helper()
	dir := t.TempDir()
	return Sources{
		GeoJSON: writeFile(t, dir, "precincts.geojson", testBoundary),
		CSV:     writeFile(t, dir, "precincts.csv", testRows),
		Labels:  writeFile(t, dir, "labels.csv", testLabels),
		Full: writeFile(t, dir, "full.json", `[
  {"Precinct_ID": "1001", "FIPS": "06037650901", "ACS_2022": {"`+metric.VarRenter+`": 45.2, "`+metric.VarPoverty+`": -1}},
  {"Precinct_ID": "5555", "ACS_2022": {"`+metric.VarRenter+`": 10}}
]`),
	}, dir
}

func openStore(t *testing.T, dir string) store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Driver: "sqlite", DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeCensus struct {
	mu        sync.Mutex
	fipsCalls int
	calls     map[string]int
	profile   func(fips string, call int) (census.Profile, error)
}

func (f *fakeCensus) BlockFIPS(_ context.Context, lat, _ float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fipsCalls++
	if lat > 33.75 {
		return "060376509011000", nil
	}
	return "060376509021000", nil
}

func (f *fakeCensus) TractProfile(_ context.Context, fips string, codes []string) (census.Profile, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[fips]++
	call := f.calls[fips]
	f.mu.Unlock()
	if f.profile != nil {
		return f.profile(fips, call)
	}
	p := make(census.Profile, len(codes))
	for _, c := range codes {
		p[c] = census.Estimate{Value: 12.5, OK: true}
	}
	return p, nil
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{
		Backoff:   resilience.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
		Retryable: retryable,
	}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, string) {
	t.Helper()
	sources, dir := testSources(t)
	base := []Option{WithPolicy(fastPolicy())}
	m := NewManager(metric.Default(), sources, append(base, opts...)...)
	return m, dir
}

func loaded(t *testing.T, opts ...Option) (*Manager, string) {
	t.Helper()
	m, dir := newTestManager(t, opts...)
	_, err := m.LoadBase(context.Background())
	require.NoError(t, err)
	_, err = m.LoadLabels(context.Background())
	require.NoError(t, err)
	return m, dir
}

func TestLoadBase(t *testing.T) {
	m, _ := newTestManager(t)
	stats, err := m.LoadBase(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Features)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 2, m.Set().Len())

	p, ok := m.Set().Get("1001")
	require.True(t, ok)
	assert.Equal(t, "North", p.Name)
	assert.Equal(t, 1200.0, p.Properties["Registered"])

	_, ok = m.Set().Get("9999")
	assert.False(t, ok, "features without a row are dropped")
}

func TestLoadBase_BoundariesOnly(t *testing.T) {
	sources, _ := testSources(t)
	sources.CSV = ""
	m := NewManager(metric.Default(), sources)

	_, err := m.LoadBase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.Set().Len())
}

func TestLoadBase_Errors(t *testing.T) {
	m := NewManager(metric.Default(), Sources{})
	_, err := m.LoadBase(context.Background())
	assert.Error(t, err)

	m = NewManager(metric.Default(), Sources{GeoJSON: "/does/not/exist.geojson"})
	_, err = m.LoadBase(context.Background())
	assert.Error(t, err)
	assert.Nil(t, m.Set())
}

func TestLoadLabels(t *testing.T) {
	m, _ := newTestManager(t)
	labels, err := m.LoadLabels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, labels.Len())
	code, ok := labels.Code(metric.VarRenter)
	require.True(t, ok)
	assert.Equal(t, renterCode, code)

	code, ok = labels.Code(metric.VarPoverty)
	require.True(t, ok, "rows with the code in the label column are flipped")
	assert.Equal(t, povertyCode, code)

	label, ok := labels.Label(povertyCode)
	require.True(t, ok)
	assert.Equal(t, metric.VarPoverty, label)

	_, ok = labels.Code(metric.VarDisability)
	assert.False(t, ok)
}

func TestLabels_CodesResolveToThemselves(t *testing.T) {
	var l *Labels
	code, ok := l.Code("DP05_0001E")
	assert.True(t, ok)
	assert.Equal(t, "DP05_0001E", code)

	_, ok = l.Code(metric.VarRenter)
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestIsCensusCode(t *testing.T) {
	assert.True(t, IsCensusCode("DP04_0047PE"))
	assert.True(t, IsCensusCode("DP03_0005E"))
	assert.False(t, IsCensusCode(metric.VarRenter))
	assert.False(t, IsCensusCode(""))
}

func TestFetchChunk(t *testing.T) {
	fc := &fakeCensus{}
	m, dir := loaded(t, WithCensus(fc))
	st := openStore(t, dir)
	m.store = st

	var seen []Progress
	res, err := m.FetchChunk(context.Background(), "Renter", func(p Progress) { seen = append(seen, p) })
	require.NoError(t, err)

	assert.Equal(t, 2, res.Precincts)
	assert.Equal(t, 2, res.Fetched)
	assert.Zero(t, res.Failed)
	assert.False(t, res.Skipped)
	assert.Equal(t, []Progress{{Chunk: "Renter", Current: 1, Total: 2}, {Chunk: "Renter", Current: 2, Total: 2}}, seen)
	assert.Equal(t, 2, fc.fipsCalls)

	p, _ := m.Set().Get("1001")
	assert.Equal(t, "060376509011000", p.FIPS)
	v, ok := p.Observation(metric.VarRenter).Float()
	require.True(t, ok)
	assert.Equal(t, 12.5, v)

	status := statusByKey(m.ChunkStatus())
	assert.Equal(t, StatusLoaded, status["Renter"])
	assert.Equal(t, StatusNotLoaded, status["Poverty"])

	recs, err := st.LoadPrecincts(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2, "values are saved after the chunk")
}

func statusByKey(states []ChunkState) map[string]string {
	out := make(map[string]string, len(states))
	for _, s := range states {
		out[s.Key] = s.Status
	}
	return out
}

func TestFetchChunk_MissingEstimates(t *testing.T) {
	fc := &fakeCensus{profile: func(string, int) (census.Profile, error) {
		return census.Profile{renterCode: {}}, nil
	}}
	m, _ := loaded(t, WithCensus(fc))

	_, err := m.FetchChunk(context.Background(), "Renter", nil)
	require.NoError(t, err)

	p, _ := m.Set().Get("1002")
	assert.Equal(t, classify.KindMissing, p.Observation(metric.VarRenter).Kind())
}

func TestFetchChunk_PrecinctFailureIsSkipped(t *testing.T) {
	fc := &fakeCensus{profile: func(fips string, _ int) (census.Profile, error) {
		if fips == "060376509021000" {
			return nil, &census.StatusError{Service: "acs profile", StatusCode: 400}
		}
		return census.Profile{renterCode: {Value: 30, OK: true}}, nil
	}}
	m, _ := loaded(t, WithCensus(fc))

	res, err := m.FetchChunk(context.Background(), "Renter", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, fc.calls["060376509021000"], "permanent errors are not retried")

	south, _ := m.Set().Get("1002")
	assert.False(t, south.Observation(metric.VarRenter).Fetched())
}

func TestFetchChunk_RetriesTransientErrors(t *testing.T) {
	fc := &fakeCensus{profile: func(_ string, call int) (census.Profile, error) {
		if call == 1 {
			return nil, &census.StatusError{Service: "acs profile", StatusCode: 503}
		}
		return census.Profile{renterCode: {Value: 5, OK: true}}, nil
	}}
	m, _ := loaded(t, WithCensus(fc))

	res, err := m.FetchChunk(context.Background(), "Renter", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, fc.calls["060376509011000"])
}

func TestFetchChunk_BreakerStopsCalls(t *testing.T) {
	fc := &fakeCensus{profile: func(string, int) (census.Profile, error) {
		return nil, errors.New("connection refused")
	}}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	m, _ := loaded(t, WithCensus(fc), WithBreaker(breaker))

	res, err := m.FetchChunk(context.Background(), "Renter", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, resilience.StateOpen, breaker.State())
	assert.Len(t, fc.calls, 1, "the second precinct never reaches the census api")
}

func TestFetchChunk_Errors(t *testing.T) {
	m, _ := newTestManager(t, WithCensus(&fakeCensus{}))

	_, err := m.FetchChunk(context.Background(), "Nope", nil)
	assert.Error(t, err)

	_, err = m.FetchChunk(context.Background(), "Renter", nil)
	assert.Error(t, err, "variables need labels to resolve")

	_, err = m.LoadLabels(context.Background())
	require.NoError(t, err)
	_, err = m.FetchChunk(context.Background(), "Renter", nil)
	assert.ErrorIs(t, err, ErrNotLoaded)

	m = NewManager(metric.Default(), Sources{})
	_, err = m.FetchChunk(context.Background(), "Renter", nil)
	assert.Error(t, err, "no census client")
}

func TestStartChunk_ReservesUntilRun(t *testing.T) {
	m, _ := loaded(t, WithCensus(&fakeCensus{}))

	f, err := m.StartChunk("Renter")
	require.NoError(t, err)
	assert.True(t, chunkState(t, m, "Renter").Running)

	_, err = m.StartChunk("Renter")
	assert.ErrorIs(t, err, ErrFetchRunning)
	_, err = m.FetchChunk(context.Background(), "Renter", nil)
	assert.ErrorIs(t, err, ErrFetchRunning)

	other, err := m.StartChunk("Poverty")
	require.NoError(t, err, "other chunks are not blocked")
	_, err = other.Run(context.Background(), nil)
	require.NoError(t, err)

	res, err := f.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.False(t, chunkState(t, m, "Renter").Running)

	_, err = m.StartChunk("Renter")
	assert.NoError(t, err)
}

func chunkState(t *testing.T, m *Manager, key string) ChunkState {
	t.Helper()
	for _, st := range m.ChunkStatus() {
		if st.Key == key {
			return st
		}
	}
	t.Fatalf("chunk %q not listed", key)
	return ChunkState{}
}

func TestFetchChunk_Cancelled(t *testing.T) {
	m, _ := loaded(t, WithCensus(&fakeCensus{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.FetchChunk(ctx, "Renter", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFull(t *testing.T) {
	fc := &fakeCensus{}
	m, _ := loaded(t, WithCensus(fc))

	stats, err := m.LoadFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 1, stats.Matched)
	assert.True(t, m.FullLoaded())

	north, _ := m.Set().Get("1001")
	assert.Equal(t, "06037650901", north.FIPS)
	v, ok := north.Observation(metric.VarRenter).Float()
	require.True(t, ok)
	assert.Equal(t, 45.2, v)
	assert.Equal(t, classify.KindMissing, north.Observation(metric.VarPoverty).Kind())

	south, _ := m.Set().Get("1002")
	assert.Equal(t, classify.KindMissing, south.Observation(metric.VarRenter).Kind(), "unmatched precincts are marked fetched")

	for _, st := range m.ChunkStatus() {
		assert.Equal(t, StatusFull, st.Status, st.Key)
	}

	res, err := m.FetchChunk(context.Background(), "Renter", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, StatusFull, res.Reason)
	assert.Empty(t, fc.calls)

	again, err := m.LoadFull(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Records, "the full overlay is applied once")
}

func TestLoadFull_Errors(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.LoadFull(context.Background())
	assert.ErrorIs(t, err, ErrNotLoaded)

	m = NewManager(metric.Default(), Sources{})
	_, err = m.LoadFull(context.Background())
	assert.Error(t, err)
}

func TestChunkStatus_BeforeLoad(t *testing.T) {
	m := NewManager(metric.Default(), Sources{})
	states := m.ChunkStatus()
	require.Len(t, states, len(metric.DefaultChunks()))
	for _, st := range states {
		assert.Equal(t, StatusNotLoaded, st.Status)
	}
}

func TestSaveRestore(t *testing.T) {
	m, dir := loaded(t, WithCensus(&fakeCensus{}))
	st := openStore(t, dir)
	m.store = st

	_, err := m.FetchChunk(context.Background(), "Renter", nil)
	require.NoError(t, err)

	fresh := NewManager(metric.Default(), m.sources, WithStore(st))
	_, err = fresh.LoadBase(context.Background())
	require.NoError(t, err)

	n, err := fresh.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, _ := fresh.Set().Get("1001")
	assert.Equal(t, "060376509011000", p.FIPS)
	v, ok := p.Observation(metric.VarRenter).Float()
	require.True(t, ok)
	assert.Equal(t, 12.5, v)
	assert.Equal(t, StatusLoaded, statusByKey(fresh.ChunkStatus())["Renter"])
}

func TestRestore_WithoutStore(t *testing.T) {
	m, _ := loaded(t)
	n, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, m.Save(context.Background()))
}

type fakeFetcher struct {
	etag      string
	body      string
	fail      bool
	downloads int
}

func (f *fakeFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	rc, _, _, err := f.DownloadIfChanged(ctx, url, "")
	return rc, err
}

func (f *fakeFetcher) DownloadIfChanged(_ context.Context, _, etag string) (io.ReadCloser, string, bool, error) {
	f.downloads++
	if f.fail {
		return nil, "", false, errors.New("connection reset by peer")
	}
	if etag != "" && etag == f.etag {
		return nil, etag, false, nil
	}
	return io.NopCloser(strings.NewReader(f.body)), f.etag, true, nil
}

func TestOpen_RemoteSourcesAreCached(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	ff := &fakeFetcher{etag: `"v1"`, body: testRows}
	m := NewManager(metric.Default(), Sources{}, WithFetcher(ff), WithStore(st))
	ctx := context.Background()
	const url = "https://example.com/precincts.csv"

	read := func() string {
		rc, err := m.open(ctx, url)
		require.NoError(t, err)
		defer rc.Close() //nolint:errcheck
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}

	assert.Equal(t, testRows, read())
	src, err := st.GetSource(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, `"v1"`, src.ETag)

	ff.body = "changed but same etag"
	assert.Equal(t, testRows, read(), "unchanged sources come from the store")

	ff.fail = true
	assert.Equal(t, testRows, read(), "failed downloads fall back to the cached copy")
	assert.Equal(t, 3, ff.downloads)
}

func TestExport(t *testing.T) {
	m, dir := loaded(t)
	st := openStore(t, dir)
	m.store = st

	_, err := m.LoadFull(context.Background())
	require.NoError(t, err)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		rec, err := m.Export(context.Background(), &buf, "JSON")
		require.NoError(t, err)
		assert.Equal(t, FormatJSON, rec.Format)
		assert.Equal(t, 2, rec.Precincts)
		assert.Equal(t, int64(buf.Len()), rec.Bytes)
		assert.NotEmpty(t, rec.ID)

		out := buf.String()
		assert.Contains(t, out, "\n  \"1001\": {")
		assert.Contains(t, out, `"FIPS": "06037650901"`)
		assert.Contains(t, out, `"FIPS": null`)
		assert.Contains(t, out, `"`+metric.VarRenter+`": 45.2`)
		assert.Contains(t, out, `"`+metric.VarPoverty+`": -1`)
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := m.Export(context.Background(), &buf, FormatCSV)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "Precinct_ID,FIPS,"))
		assert.True(t, strings.HasPrefix(lines[1], "1001,06037650901,45.2,"))
	})

	t.Run("xlsx", func(t *testing.T) {
		var buf bytes.Buffer
		rec, err := m.Export(context.Background(), &buf, FormatXLSX)
		require.NoError(t, err)
		assert.Positive(t, rec.Bytes)
		assert.Equal(t, []byte("PK"), buf.Bytes()[:2], "xlsx is a zip archive")
	})

	exports, err := st.ListExports(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, exports, 3)
}

func TestExport_Errors(t *testing.T) {
	m := NewManager(metric.Default(), Sources{})
	_, err := m.Export(context.Background(), io.Discard, FormatJSON)
	assert.ErrorIs(t, err, ErrNotLoaded)

	_, err = m.Export(context.Background(), io.Discard, "pdf")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	assert.Equal(t, "text/csv", ContentType(FormatCSV))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&census.StatusError{Service: "acs profile", StatusCode: 503}))
	assert.True(t, retryable(&census.StatusError{Service: "fcc", StatusCode: 429}))
	assert.False(t, retryable(&census.StatusError{Service: "fcc", StatusCode: 404}))
	assert.False(t, retryable(errors.New("census: no block")))
}
