package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/config"
	"github.com/sells-group/precinct-map/internal/fetcher"
	"github.com/sells-group/precinct-map/internal/ingest"
	"github.com/sells-group/precinct-map/internal/metric"
	"github.com/sells-group/precinct-map/internal/overlay"
	"github.com/sells-group/precinct-map/internal/precinct"
	"github.com/sells-group/precinct-map/internal/store"
	"github.com/sells-group/precinct-map/pkg/census"
	"github.com/sells-group/precinct-map/pkg/overpass"
)

// appEnv holds the store, precinct manager and overlay service shared by the
// commands.
type appEnv struct {
	Store    store.Store
	Manager  *ingest.Manager
	Overlays *overlay.Service // may be nil

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode and opens the store and manager. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &appEnv{
		Store:   st,
		Manager: newManager(catalog, st),
	}, nil
}

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		DatabaseURL: cfg.Store.DatabaseURL,
		MaxConns:    cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// loadCatalog returns the YAML catalog when configured, else the built-in one.
func loadCatalog(c config.CatalogConfig) (*metric.Catalog, error) {
	if c.Path == "" {
		return metric.Default(), nil
	}
	catalog, err := metric.LoadFile(c.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load catalog")
	}
	zap.L().Info("metric catalog loaded", zap.String("path", c.Path), zap.Int("metrics", len(catalog.Metrics())))
	return catalog, nil
}

func newManager(catalog *metric.Catalog, st store.Store) *ingest.Manager {
	sources := ingest.Sources{
		CSV:       cfg.Sources.CSV,
		GeoJSON:   cfg.Sources.GeoJSON,
		Shapefile: cfg.Sources.Shapefile,
		Full:      cfg.Sources.Full,
		Labels:    cfg.Sources.Labels,
		Merge: precinct.MergeOptions{
			FeatureIDProp: cfg.Sources.FeatureIDKey,
			RowIDColumn:   cfg.Sources.RowIDColumn,
		},
	}

	fetch := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})

	censusOpts := []census.Option{
		census.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Census.TimeoutSecs) * time.Second}),
		census.WithRateLimit(cfg.Census.RateLimit),
		census.WithYear(cfg.Census.Year),
	}
	if cfg.Census.BaseURL != "" {
		censusOpts = append(censusOpts, census.WithBaseURL(cfg.Census.BaseURL))
	}
	if cfg.Census.FCCURL != "" {
		censusOpts = append(censusOpts, census.WithFCCURL(cfg.Census.FCCURL))
	}
	if cfg.Census.Key != "" {
		censusOpts = append(censusOpts, census.WithAPIKey(cfg.Census.Key))
	} else {
		zap.L().Debug("PRECINCT_CENSUS_KEY not set, using keyless census requests")
	}

	opts := []ingest.Option{
		ingest.WithFetcher(fetch),
		ingest.WithCensus(census.NewClient(censusOpts...)),
		ingest.WithStore(st),
	}
	if cfg.Fetch.DelayMs > 0 {
		opts = append(opts, ingest.WithDelay(time.Duration(cfg.Fetch.DelayMs)*time.Millisecond))
	}
	return ingest.NewManager(catalog, sources, opts...)
}

// loadPrecincts loads boundaries, labels and any persisted observations.
// Missing labels only disable chunk fetching, so they are logged rather than
// returned.
func (e *appEnv) loadPrecincts(ctx context.Context) error {
	stats, err := e.Manager.LoadBase(ctx)
	if err != nil {
		return eris.Wrap(err, "load precincts")
	}
	zap.L().Info("precincts loaded",
		zap.Int("features", stats.Features),
		zap.Int("rows", stats.Rows),
		zap.Int("matched", stats.Matched),
	)

	if cfg.Sources.Labels != "" {
		if _, err := e.Manager.LoadLabels(ctx); err != nil {
			zap.L().Warn("variable labels unavailable, chunk fetching disabled", zap.Error(err))
		}
	}

	if cfg.Fetch.Restore {
		if _, err := e.Manager.Restore(ctx); err != nil {
			return eris.Wrap(err, "restore precincts")
		}
	}
	return nil
}

// initOverlays builds the overlay service over the configured cache. Overlays
// stay disabled when the Overpass endpoint is unset.
func (e *appEnv) initOverlays(ctx context.Context) error {
	if cfg.Overlay.Endpoint == "" {
		zap.L().Info("overlay endpoint not set, overlays disabled")
		return nil
	}

	var cache overlay.Cache
	switch cfg.Overlay.Cache {
	case config.CacheMemory:
		cache = overlay.NewMemoryCache(cfg.Overlay.MaxItems, cfg.Overlay.TTL)
	case config.CacheStore:
		cache = overlay.NewStoreCache(e.Store, cfg.Overlay.TTL)
	case config.CacheRedis:
		rc, err := overlay.OpenRedis(ctx, cfg.Overlay.Redis.Addr, cfg.Overlay.Redis.Password, cfg.Overlay.Redis.DB)
		if err != nil {
			return err
		}
		e.redis = rc
		cache = overlay.NewRedisCache(rc, cfg.Overlay.TTL)
	case config.CacheNone:
	default:
		return eris.Errorf("unknown overlay cache %q", cfg.Overlay.Cache)
	}

	client := overpass.NewClient(
		overpass.WithEndpoint(cfg.Overlay.Endpoint),
		overpass.WithRateLimit(cfg.Overlay.RateLimit),
	)
	e.Overlays = overlay.NewService(client, cache)
	zap.L().Info("overlays enabled", zap.String("cache", cfg.Overlay.Cache))
	return nil
}
