// Package ingest loads precinct boundaries and attributes, applies the full
// ACS overlay, fetches census chunks on demand and persists the results.
package ingest

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/fetcher"
	"github.com/sells-group/precinct-map/internal/metric"
	"github.com/sells-group/precinct-map/internal/precinct"
	"github.com/sells-group/precinct-map/internal/store"
	"github.com/sells-group/precinct-map/pkg/census"
)

// ErrNotLoaded is returned when an operation needs precincts before LoadBase ran.
var ErrNotLoaded = eris.New("ingest: precincts not loaded")

// Sources locates the input files. Each may be a local path or an http(s) URL.
type Sources struct {
	CSV       string `mapstructure:"csv"`
	GeoJSON   string `mapstructure:"geojson"`
	Shapefile string `mapstructure:"shapefile"`
	Full      string `mapstructure:"full"`
	Labels    string `mapstructure:"labels"`

	Merge precinct.MergeOptions `mapstructure:"-"`
}

// Manager owns the precinct set. All reads and writes of precinct
// observations go through its mutex.
type Manager struct {
	catalog *metric.Catalog
	fetch   fetcher.Fetcher
	census  census.Client
	store   store.Store
	sources Sources
	fetchCfg

	mu         sync.RWMutex
	set        *precinct.Set
	labels     *Labels
	fullLoaded bool
	running    map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher sets the downloader used for remote sources.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(m *Manager) { m.fetch = f }
}

// WithCensus sets the census client used by chunk fetches.
func WithCensus(c census.Client) Option {
	return func(m *Manager) { m.census = c }
}

// WithStore enables persistence and source caching.
func WithStore(s store.Store) Option {
	return func(m *Manager) { m.store = s }
}

// NewManager creates a Manager over catalog.
func NewManager(catalog *metric.Catalog, sources Sources, opts ...Option) *Manager {
	if sources.Merge.FeatureIDProp == "" || sources.Merge.RowIDColumn == "" {
		sources.Merge = precinct.DefaultMergeOptions()
	}
	m := &Manager{
		catalog:  catalog,
		sources:  sources,
		fetchCfg: defaultFetchCfg(),
		running:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Catalog returns the metric catalog.
func (m *Manager) Catalog() *metric.Catalog { return m.catalog }

// Set returns the current precinct set, nil before LoadBase.
func (m *Manager) Set() *precinct.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set
}

// View runs fn with the precinct set under the read lock.
func (m *Manager) View(fn func(*precinct.Set) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.set == nil {
		return ErrNotLoaded
	}
	return fn(m.set)
}

// FullLoaded reports whether the full overlay has been applied.
func (m *Manager) FullLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fullLoaded
}

// Labels returns the loaded variable labels, nil before LoadLabels.
func (m *Manager) Labels() *Labels {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.labels
}

// LoadBase loads the boundaries and attribute rows and joins them. CSV and
// GeoJSON are fetched concurrently; a configured shapefile replaces the GeoJSON.
func (m *Manager) LoadBase(ctx context.Context) (precinct.MergeStats, error) {
	var (
		features []precinct.Feature
		rows     []precinct.Row
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if m.sources.Shapefile != "" {
			features, err = precinct.LoadShapefile(m.sources.Shapefile)
			return err
		}
		if m.sources.GeoJSON == "" {
			return eris.New("ingest: no boundary source configured")
		}
		rc, err := m.open(gctx, m.sources.GeoJSON)
		if err != nil {
			return err
		}
		defer rc.Close() //nolint:errcheck
		features, err = precinct.ParseFeatureCollection(rc)
		return err
	})
	if m.sources.CSV != "" {
		g.Go(func() error {
			rc, err := m.open(gctx, m.sources.CSV)
			if err != nil {
				return err
			}
			defer rc.Close() //nolint:errcheck
			rows, err = precinct.ReadRows(gctx, rc, m.sources.Merge.RowIDColumn)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return precinct.MergeStats{}, eris.Wrap(err, "ingest: load base")
	}

	var (
		set   *precinct.Set
		stats precinct.MergeStats
	)
	if m.sources.CSV != "" {
		set, stats = precinct.Merge(features, rows, m.sources.Merge)
	} else {
		set = precinct.FromFeatures(features, m.sources.Merge.FeatureIDProp)
		stats = precinct.MergeStats{Features: len(features), Matched: set.Len(), Unmatched: len(features) - set.Len()}
	}

	m.mu.Lock()
	m.set = set
	m.fullLoaded = false
	m.mu.Unlock()

	zap.L().Info("ingest: base data loaded",
		zap.Int("features", stats.Features),
		zap.Int("rows", stats.Rows),
		zap.Int("precincts", set.Len()),
	)
	return stats, nil
}

// LoadLabels reads the ACS variable label file and reports which catalog
// variables it covers.
func (m *Manager) LoadLabels(ctx context.Context) (*Labels, error) {
	if m.sources.Labels == "" {
		return nil, eris.New("ingest: no labels source configured")
	}
	rc, err := m.open(ctx, m.sources.Labels)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	labels, err := ReadLabels(ctx, rc)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load labels")
	}

	var found, missing []string
	for _, v := range m.catalog.Variables() {
		if _, ok := labels.Code(v); ok {
			found = append(found, v)
		} else {
			missing = append(missing, v)
		}
	}
	zap.L().Info("ingest: variable labels loaded",
		zap.Int("labels", labels.Len()),
		zap.Int("found", len(found)),
		zap.Int("missing", len(missing)),
	)
	if len(missing) > 0 {
		zap.L().Warn("ingest: catalog variables without a census code", zap.Strings("variables", missing))
	}

	m.mu.Lock()
	m.labels = labels
	m.mu.Unlock()
	return labels, nil
}

// LoadFull applies the full ACS overlay. It runs once; later calls are no-ops.
// Afterwards every catalog variable of every precinct is fetched.
func (m *Manager) LoadFull(ctx context.Context) (precinct.ApplyStats, error) {
	if m.sources.Full == "" {
		return precinct.ApplyStats{}, eris.New("ingest: no full data source configured")
	}
	if m.FullLoaded() {
		return precinct.ApplyStats{}, nil
	}
	if m.Set() == nil {
		return precinct.ApplyStats{}, ErrNotLoaded
	}

	rc, err := m.open(ctx, m.sources.Full)
	if err != nil {
		return precinct.ApplyStats{}, err
	}
	defer rc.Close() //nolint:errcheck

	recCh, errCh := fetcher.DecodeJSONArray[precinct.FullRecord](ctx, rc)
	var records []precinct.FullRecord
	for rec := range recCh {
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return precinct.ApplyStats{}, eris.Wrap(err, "ingest: load full data")
	}

	m.mu.Lock()
	stats := precinct.ApplyFull(m.set, records, m.catalog)
	variables := m.catalog.Variables()
	for _, p := range m.set.All() {
		for _, v := range variables {
			if !p.Observation(v).Fetched() {
				p.SetObservation(v, classify.Missing())
			}
		}
	}
	m.fullLoaded = true
	m.mu.Unlock()

	zap.L().Info("ingest: full data applied",
		zap.Int("records", stats.Records),
		zap.Int("matched", stats.Matched),
		zap.Int("values", stats.Values),
		zap.Int("rejected", stats.Rejected),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// open returns the contents of src. Remote sources are revalidated against
// the store's cached copy by ETag and served from it when the download fails.
func (m *Manager) open(ctx context.Context, src string) (io.ReadCloser, error) {
	if !fetcher.IsRemote(src) || m.store == nil || m.fetch == nil {
		return fetcher.Open(ctx, m.fetch, src)
	}

	cached, err := m.store.GetSource(ctx, src)
	if err != nil {
		zap.L().Warn("ingest: source cache read failed", zap.String("url", src), zap.Error(err))
		cached = nil
	}
	etag := ""
	if cached != nil {
		etag = cached.ETag
	}

	body, newETag, changed, err := m.fetch.DownloadIfChanged(ctx, src, etag)
	if err != nil {
		if cached != nil {
			zap.L().Warn("ingest: download failed, using cached copy", zap.String("url", src), zap.Error(err))
			return io.NopCloser(bytes.NewReader(cached.Body)), nil
		}
		return nil, eris.Wrapf(err, "ingest: download %s", src)
	}
	if !changed && cached != nil {
		zap.L().Debug("ingest: source unchanged", zap.String("url", src))
		return io.NopCloser(bytes.NewReader(cached.Body)), nil
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", src)
	}
	if err := m.store.PutSource(ctx, store.Source{
		URL:       src,
		ETag:      newETag,
		Body:      data,
		FetchedAt: time.Now().UTC(),
	}); err != nil {
		zap.L().Warn("ingest: source cache write failed", zap.String("url", src), zap.Error(err))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Save persists FIPS codes and fetched observations of every precinct.
func (m *Manager) Save(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.RLock()
	recs := m.records()
	m.mu.RUnlock()

	if err := m.store.SavePrecincts(ctx, recs); err != nil {
		return eris.Wrap(err, "ingest: save precincts")
	}
	zap.L().Debug("ingest: precincts saved", zap.Int("precincts", len(recs)))
	return nil
}

// records snapshots the set. Caller holds m.mu.
func (m *Manager) records() []store.PrecinctRecord {
	if m.set == nil {
		return nil
	}
	all := m.set.All()
	recs := make([]store.PrecinctRecord, 0, len(all))
	for _, p := range all {
		values := make(map[string]classify.Observation)
		for v, o := range p.Observations() {
			if o.Fetched() {
				values[v] = o
			}
		}
		if p.FIPS == "" && len(values) == 0 {
			continue
		}
		recs = append(recs, store.PrecinctRecord{ID: p.ID, FIPS: p.FIPS, Values: values})
	}
	return recs
}

// Restore applies persisted FIPS codes and observations to the loaded set and
// returns how many precincts were restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	recs, err := m.store.LoadPrecincts(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: restore precincts")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set == nil {
		return 0, ErrNotLoaded
	}
	restored := 0
	for _, rec := range recs {
		p, ok := m.set.Get(rec.ID)
		if !ok {
			continue
		}
		if rec.FIPS != "" && p.FIPS == "" {
			p.FIPS = rec.FIPS
		}
		for v, o := range rec.Values {
			if !p.Observation(v).Fetched() {
				p.SetObservation(v, o)
			}
		}
		restored++
	}
	zap.L().Info("ingest: precincts restored", zap.Int("records", len(recs)), zap.Int("restored", restored))
	return restored, nil
}
