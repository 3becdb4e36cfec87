// Package overlay loads transit and park features for a viewport from
// Overpass and caches them by rounded bounding box.
package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/fetcher"
	"github.com/sells-group/precinct-map/internal/metrics"
	"github.com/sells-group/precinct-map/internal/precinct"
	"github.com/sells-group/precinct-map/internal/resilience"
	"github.com/sells-group/precinct-map/pkg/overpass"
)

// DefaultTTL is how long a cached viewport stays valid.
const DefaultTTL = 10 * 7 * 24 * time.Hour

// Kinds lists the overlay layers.
var Kinds = []overpass.Kind{overpass.KindTransit, overpass.KindParks}

// Key is the cache key for kind over vp: "kind:s,w,n,e" at 4 decimals.
func Key(kind overpass.Kind, vp precinct.Viewport) string {
	return string(kind) + ":" + vp.String()
}

// Result is the outcome of a Load.
type Result struct {
	Kind      overpass.Kind      `json:"kind"`
	Key       string             `json:"key"`
	Features  []overpass.Feature `json:"-"`
	FetchedAt time.Time          `json:"fetched_at"`
	Cached    bool               `json:"cached"`
}

// Collection returns the features as GeoJSON.
func (r *Result) Collection() *geojson.FeatureCollection {
	return overpass.Collection(r.Features)
}

// Stats counts cached viewports per kind.
type Stats struct {
	Transit int         `json:"transit"`
	Parks   int         `json:"parks"`
	Total   int         `json:"total"`
	Memory  *CacheStats `json:"memory,omitempty"`
}

// Service fetches overlays through a cache.
type Service struct {
	client  overpass.Client
	cache   Cache
	breaker *resilience.Breaker
	policy  resilience.Policy
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the retry policy around Overpass calls.
func WithPolicy(p resilience.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithBreaker overrides the circuit breaker around Overpass calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// NewService creates a Service. A nil cache disables caching.
func NewService(client overpass.Client, cache Cache, opts ...Option) *Service {
	policy := resilience.DefaultPolicy()
	policy.OnRetry = resilience.LogRetries("overpass", "query")
	policy.Retryable = retryable

	s := &Service{
		client: client,
		cache:  cache,
		policy: policy,
		now:    time.Now,
	}
	s.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		OnChange: func(_, to resilience.State) {
			metrics.BreakerState.WithLabelValues("overpass").Set(float64(to))
			zap.L().Warn("overlay: overpass breaker changed state", zap.String("state", to.String()))
		},
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func retryable(err error) bool {
	var se *overpass.StatusError
	if errors.As(err, &se) {
		return resilience.IsTransient(resilience.CheckStatus("overpass", se.StatusCode))
	}
	return resilience.IsTransient(err)
}

type payload struct {
	FetchedAt time.Time                  `json:"fetched_at"`
	Features  *geojson.FeatureCollection `json:"features"`
}

// Load returns kind features inside vp, from cache when a fresh entry exists.
func (s *Service) Load(ctx context.Context, kind overpass.Kind, vp precinct.Viewport) (*Result, error) {
	if err := vp.Validate(); err != nil {
		return nil, err
	}
	key := Key(kind, vp)
	log := zap.L().With(zap.String("key", key))

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn("overlay: cache read failed", zap.Error(err))
		}
		if ok {
			res, err := decode(kind, key, data)
			if err == nil {
				metrics.OverlayCacheHitsTotal.WithLabelValues(string(kind)).Inc()
				log.Debug("overlay: cache hit", zap.Int("features", len(res.Features)))
				return res, nil
			}
			log.Warn("overlay: dropping unreadable cache entry", zap.Error(err))
		}
		metrics.OverlayCacheMissesTotal.WithLabelValues(string(kind)).Inc()
	}

	bbox := overpass.BBox{South: vp.South, West: vp.West, North: vp.North, East: vp.East}
	resp, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (*overpass.Response, error) {
		return resilience.DoVal(ctx, s.policy, func(ctx context.Context) (*overpass.Response, error) {
			return s.client.Query(ctx, kind.Query(bbox))
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "overlay: load %s", key)
	}

	res := &Result{
		Kind:      kind,
		Key:       key,
		Features:  overpass.Features(kind, resp.Elements),
		FetchedAt: s.now().UTC(),
	}
	log.Info("overlay: fetched from overpass",
		zap.Int("elements", len(resp.Elements)),
		zap.Int("features", len(res.Features)),
	)

	if s.cache != nil {
		data, err := json.Marshal(payload{FetchedAt: res.FetchedAt, Features: res.Collection()})
		if err == nil {
			err = s.cache.Put(ctx, key, data)
		}
		if err != nil {
			log.Warn("overlay: cache write failed", zap.Error(err))
		}
	}
	return res, nil
}

func decode(kind overpass.Kind, key string, data []byte) (*Result, error) {
	p, err := fetcher.DecodeJSONObject[payload](bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "overlay: decode cache entry")
	}
	res := &Result{Kind: kind, Key: key, FetchedAt: p.FetchedAt, Cached: true}
	if p.Features != nil {
		res.Features = make([]overpass.Feature, 0, len(p.Features.Features))
		for _, f := range p.Features.Features {
			res.Features = append(res.Features, overpass.FromGeoJSON(f))
		}
	}
	return res, nil
}

// Clear empties the cache.
func (s *Service) Clear(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Clear(ctx); err != nil {
		return eris.Wrap(err, "overlay: clear cache")
	}
	zap.L().Info("overlay: cache cleared")
	return nil
}

// Stats counts cached viewports per kind.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if s.cache == nil {
		return st, nil
	}
	var err error
	if st.Transit, err = s.cache.Count(ctx, string(overpass.KindTransit)+":"); err != nil {
		return st, eris.Wrap(err, "overlay: count transit")
	}
	if st.Parks, err = s.cache.Count(ctx, string(overpass.KindParks)+":"); err != nil {
		return st, eris.Wrap(err, "overlay: count parks")
	}
	st.Total = st.Transit + st.Parks
	if mc, ok := s.cache.(*MemoryCache); ok {
		ms := mc.Stats()
		st.Memory = &ms
	}
	return st, nil
}
