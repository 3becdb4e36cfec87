package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/metrics"
	"github.com/sells-group/precinct-map/internal/precinct"
	"github.com/sells-group/precinct-map/internal/resilience"
	"github.com/sells-group/precinct-map/pkg/census"
)

// Chunk status values.
const (
	StatusFull      = "available in full data"
	StatusLoaded    = "loaded"
	StatusNotLoaded = "not loaded"
)

// ErrFetchRunning is returned when a chunk fetch is already in progress.
var ErrFetchRunning = eris.New("ingest: chunk fetch already running")

type fetchCfg struct {
	policy  resilience.Policy
	breaker *resilience.Breaker
	delay   time.Duration
}

func defaultFetchCfg() fetchCfg {
	policy := resilience.DefaultPolicy()
	policy.OnRetry = resilience.LogRetries("census", "chunk")
	policy.Retryable = retryable
	return fetchCfg{
		policy: policy,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			OnChange: func(_, to resilience.State) {
				metrics.BreakerState.WithLabelValues("census").Set(float64(to))
				zap.L().Warn("ingest: census breaker changed state", zap.String("state", to.String()))
			},
		}),
	}
}

// WithPolicy overrides the retry policy around census calls.
func WithPolicy(p resilience.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithBreaker overrides the circuit breaker around census calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(m *Manager) { m.breaker = b }
}

// WithDelay adds a pause between precincts on top of the client's rate limit.
func WithDelay(d time.Duration) Option {
	return func(m *Manager) { m.delay = d }
}

func retryable(err error) bool {
	var se *census.StatusError
	if errors.As(err, &se) {
		return resilience.IsTransient(resilience.CheckStatus("census", se.StatusCode))
	}
	return resilience.IsTransient(err)
}

// ChunkState describes one chunk for status listings.
type ChunkState struct {
	Key       string   `json:"key"`
	Name      string   `json:"name"`
	Variables []string `json:"variables"`
	Status    string   `json:"status"`
	Running   bool     `json:"running"`
}

// ChunkStatus reports every chunk. A chunk is loaded when each of its
// variables is fetched on the first precinct.
func (m *Manager) ChunkStatus() []ChunkState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	first, hasFirst := m.set.First()
	chunks := m.catalog.Chunks()
	out := make([]ChunkState, 0, len(chunks))
	for _, ch := range chunks {
		st := ChunkState{Key: ch.Key, Name: ch.Name, Variables: ch.Variables, Running: m.running[ch.Key]}
		switch {
		case m.fullLoaded:
			st.Status = StatusFull
		case hasFirst && chunkLoaded(first, ch.Variables):
			st.Status = StatusLoaded
		default:
			st.Status = StatusNotLoaded
		}
		out = append(out, st)
	}
	return out
}

func chunkLoaded(p *precinct.Precinct, variables []string) bool {
	for _, v := range variables {
		if !p.Observation(v).Fetched() {
			return false
		}
	}
	return true
}

// Progress is reported before each precinct of a chunk fetch.
type Progress struct {
	Chunk   string `json:"chunk"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// ChunkResult summarises a chunk fetch.
type ChunkResult struct {
	Chunk     string `json:"chunk"`
	Precincts int    `json:"precincts"`
	Fetched   int    `json:"fetched"`
	Failed    int    `json:"failed"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// FetchChunk fetches the variables of chunk key for every precinct, one
// precinct at a time. Precincts that fail are logged and skipped. The set is
// saved afterwards.
func (m *Manager) FetchChunk(ctx context.Context, key string, progress func(Progress)) (*ChunkResult, error) {
	f, err := m.StartChunk(key)
	if err != nil {
		return nil, err
	}
	return f.Run(ctx, progress)
}

// ChunkFetch is a chunk fetch reserved by StartChunk.
type ChunkFetch struct {
	m         *Manager
	key       string
	codes     []string
	variables []string
	all       []*precinct.Precinct
	skipped   *ChunkResult
}

// StartChunk checks that chunk key can be fetched and marks it running, so a
// second StartChunk or FetchChunk for key fails with ErrFetchRunning until
// Run returns. Callers must call Run on the returned fetch. When full data is
// loaded nothing is reserved and Run reports the chunk as skipped.
func (m *Manager) StartChunk(key string) (*ChunkFetch, error) {
	ch, ok := m.catalog.Chunk(key)
	if !ok {
		return nil, eris.Errorf("ingest: unknown chunk %q", key)
	}
	f := &ChunkFetch{m: m, key: key}
	if m.FullLoaded() {
		f.skipped = &ChunkResult{Chunk: key, Skipped: true, Reason: StatusFull}
		return f, nil
	}
	if m.census == nil {
		return nil, eris.New("ingest: no census client configured")
	}

	f.codes, f.variables = m.resolve(ch.Variables)
	if len(f.codes) == 0 {
		return nil, eris.Errorf("ingest: chunk %q has no resolvable census codes, load labels first", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set == nil {
		return nil, ErrNotLoaded
	}
	if m.running[key] {
		return nil, ErrFetchRunning
	}
	m.running[key] = true
	f.all = m.set.All()
	return f, nil
}

// Run performs the fetch and releases the chunk.
func (f *ChunkFetch) Run(ctx context.Context, progress func(Progress)) (*ChunkResult, error) {
	m, key := f.m, f.key
	if f.skipped != nil {
		zap.L().Info("ingest: chunk skipped", zap.String("chunk", key), zap.String("reason", f.skipped.Reason))
		return f.skipped, nil
	}
	defer func() {
		m.mu.Lock()
		delete(m.running, key)
		m.mu.Unlock()
	}()

	all, codes, variables := f.all, f.codes, f.variables
	res := &ChunkResult{Chunk: key}
	log := zap.L().With(zap.String("chunk", key))
	log.Info("ingest: fetching chunk", zap.Int("precincts", len(all)), zap.Int("variables", len(codes)))
	res.Precincts = len(all)

	for i, p := range all {
		if err := ctx.Err(); err != nil {
			metrics.ChunkFetchesTotal.WithLabelValues(key, "cancelled").Inc()
			return res, eris.Wrap(err, "ingest: fetch chunk")
		}
		if progress != nil {
			progress(Progress{Chunk: key, Current: i + 1, Total: len(all)})
		}

		if err := m.fetchPrecinct(ctx, p, codes, variables); err != nil {
			if ctx.Err() != nil {
				metrics.ChunkFetchesTotal.WithLabelValues(key, "cancelled").Inc()
				return res, eris.Wrap(ctx.Err(), "ingest: fetch chunk")
			}
			res.Failed++
			metrics.PrecinctFetchFailuresTotal.WithLabelValues(key).Inc()
			log.Warn("ingest: precinct fetch failed", zap.String("precinct", p.ID), zap.Error(err))
		} else {
			res.Fetched++
		}

		if m.delay > 0 && i < len(all)-1 {
			t := time.NewTimer(m.delay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}

	outcome := "success"
	if res.Fetched == 0 && res.Failed > 0 {
		outcome = "failed"
	} else if res.Failed > 0 {
		outcome = "partial"
	}
	metrics.ChunkFetchesTotal.WithLabelValues(key, outcome).Inc()
	log.Info("ingest: chunk fetched", zap.Int("fetched", res.Fetched), zap.Int("failed", res.Failed))

	if err := m.Save(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// resolve maps chunk variables to census codes, dropping those without one.
// The two returned slices are parallel.
func (m *Manager) resolve(chunkVars []string) (codes, variables []string) {
	labels := m.Labels()
	var missing []string
	for _, v := range chunkVars {
		code, ok := labels.Code(v)
		if !ok {
			missing = append(missing, v)
			continue
		}
		codes = append(codes, code)
		variables = append(variables, v)
	}
	if len(missing) > 0 {
		zap.L().Warn("ingest: skipping variables without a census code", zap.Strings("variables", missing))
	}
	return codes, variables
}

func (m *Manager) fetchPrecinct(ctx context.Context, p *precinct.Precinct, codes, variables []string) error {
	m.mu.RLock()
	fips := p.FIPS
	m.mu.RUnlock()

	if fips == "" {
		lat, lon, ok := p.Centroid()
		if !ok {
			return eris.Errorf("ingest: precinct %s has no geometry", p.ID)
		}
		var err error
		fips, err = guarded(ctx, m, func(ctx context.Context) (string, error) {
			return m.census.BlockFIPS(ctx, lat, lon)
		})
		if err != nil {
			return eris.Wrap(err, "ingest: resolve fips")
		}
		m.mu.Lock()
		p.FIPS = fips
		m.mu.Unlock()
	}

	profile, err := guarded(ctx, m, func(ctx context.Context) (census.Profile, error) {
		return m.census.TractProfile(ctx, fips, codes)
	})
	if err != nil {
		return eris.Wrap(err, "ingest: tract profile")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, code := range codes {
		est := profile[code]
		if est.OK {
			p.SetObservation(variables[i], classify.FromSource(est.Value))
		} else {
			p.SetObservation(variables[i], classify.Missing())
		}
	}
	return nil
}

// guarded runs a census call with retry inside the breaker.
func guarded[T any](ctx context.Context, m *Manager, fn func(context.Context) (T, error)) (T, error) {
	return resilience.Call(ctx, m.breaker, func(ctx context.Context) (T, error) {
		return resilience.DoVal(ctx, m.policy, fn)
	})
}

// FetchAll fetches every chunk in catalog order and stops at the first error.
func (m *Manager) FetchAll(ctx context.Context, progress func(Progress)) ([]*ChunkResult, error) {
	var results []*ChunkResult
	for _, ch := range m.catalog.Chunks() {
		res, err := m.FetchChunk(ctx, ch.Key, progress)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
