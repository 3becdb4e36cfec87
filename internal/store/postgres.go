package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/precinct-map/internal/db"
	"github.com/sells-group/precinct-map/internal/overlay"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS precincts (
	precinct_id TEXT PRIMARY KEY,
	fips        TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS precinct_values (
	precinct_id TEXT NOT NULL REFERENCES precincts(precinct_id) ON DELETE CASCADE,
	variable    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	value       DOUBLE PRECISION,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (precinct_id, variable)
);

CREATE TABLE IF NOT EXISTS overlay_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	url        TEXT PRIMARY KEY,
	etag       TEXT NOT NULL DEFAULT '',
	body       BYTEA NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS exports (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	format     TEXT NOT NULL,
	precincts  INTEGER NOT NULL,
	bytes      BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_overlay_cache_fetched_at ON overlay_cache(fetched_at);
CREATE INDEX IF NOT EXISTS idx_exports_created_at ON exports(created_at DESC);
`

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var (
	precinctUpsert = db.UpsertConfig{
		Table:        "precincts",
		Columns:      []string{"precinct_id", "fips", "updated_at"},
		ConflictKeys: []string{"precinct_id"},
	}
	valueUpsert = db.UpsertConfig{
		Table:        "precinct_values",
		Columns:      []string{"precinct_id", "variable", "kind", "value", "updated_at"},
		ConflictKeys: []string{"precinct_id", "variable"},
	}
	sourceUpsert = db.UpsertConfig{
		Table:        "sources",
		Columns:      []string{"url", "etag", "body", "fetched_at"},
		ConflictKeys: []string{"url"},
	}
)

// SavePrecincts upserts precincts and their observations in one transaction.
func (s *PostgresStore) SavePrecincts(ctx context.Context, recs []PrecinctRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	precinctRows := make([][]any, 0, len(recs))
	var valueRows [][]any
	for _, rec := range recs {
		precinctRows = append(precinctRows, []any{rec.ID, rec.FIPS, now})
		for variable, o := range rec.Values {
			kind, value, ok := encodeObservation(o)
			if !ok {
				continue
			}
			valueRows = append(valueRows, []any{rec.ID, variable, kind, value, now})
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save precincts")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.UpsertTx(ctx, tx, precinctUpsert, precinctRows); err != nil {
		return eris.Wrap(err, "postgres: save precincts")
	}
	if _, err := db.UpsertTx(ctx, tx, valueUpsert, valueRows); err != nil {
		return eris.Wrap(err, "postgres: save values")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save precincts")
}

// LoadPrecincts returns every stored precinct ordered by id.
func (s *PostgresStore) LoadPrecincts(ctx context.Context) ([]PrecinctRecord, error) {
	rows, err := s.pool.Query(ctx, selectPrecinctsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load precincts")
	}
	defer rows.Close()

	var out []PrecinctRecord
	for rows.Next() {
		var (
			id, fips       string
			variable, kind *string
			value          *float64
		)
		if err := rows.Scan(&id, &fips, &variable, &kind, &value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan precinct")
		}
		var v, k string
		if variable != nil {
			v = *variable
		}
		if kind != nil {
			k = *kind
		}
		out = appendRow(out, id, fips, v, variable != nil, k, value)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load precincts iterate")
}

// ClearPrecincts deletes every stored precinct; observations cascade.
func (s *PostgresStore) ClearPrecincts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM precincts`)
	return eris.Wrap(err, "postgres: clear precincts")
}

// GetOverlay returns the cached overlay for key, or nil.
func (s *PostgresStore) GetOverlay(ctx context.Context, key string) (*overlay.Record, error) {
	var rec overlay.Record
	err := s.pool.QueryRow(ctx,
		`SELECT cache_key, payload, fetched_at FROM overlay_cache WHERE cache_key = $1`, key,
	).Scan(&rec.Key, &rec.Payload, &rec.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get overlay")
	}
	return &rec, nil
}

// PutOverlay stores or replaces an overlay payload.
func (s *PostgresStore) PutOverlay(ctx context.Context, rec overlay.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO overlay_cache (cache_key, payload, fetched_at) VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`,
		rec.Key, rec.Payload, rec.FetchedAt,
	)
	return eris.Wrap(err, "postgres: put overlay")
}

// ClearOverlays deletes every cached overlay.
func (s *PostgresStore) ClearOverlays(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM overlay_cache`)
	return eris.Wrap(err, "postgres: clear overlays")
}

// CountOverlays counts overlays with the key prefix fetched after since.
func (s *PostgresStore) CountOverlays(ctx context.Context, prefix string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM overlay_cache WHERE starts_with(cache_key, $1) AND fetched_at > $2`,
		prefix, since,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count overlays")
}

// GetSource returns the cached download for url, or nil.
func (s *PostgresStore) GetSource(ctx context.Context, url string) (*Source, error) {
	var src Source
	err := s.pool.QueryRow(ctx,
		`SELECT url, etag, body, fetched_at FROM sources WHERE url = $1`, url,
	).Scan(&src.URL, &src.ETag, &src.Body, &src.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get source")
	}
	return &src, nil
}

// PutSource stores or replaces a download.
func (s *PostgresStore) PutSource(ctx context.Context, src Source) error {
	if src.FetchedAt.IsZero() {
		src.FetchedAt = time.Now().UTC()
	}
	_, err := db.BulkUpsert(ctx, s.pool, sourceUpsert, [][]any{{src.URL, src.ETag, src.Body, src.FetchedAt}})
	return eris.Wrap(err, "postgres: put source")
}

// RecordExport stores an export with a new id.
func (s *PostgresStore) RecordExport(ctx context.Context, format string, precincts int, bytes int64) (*Export, error) {
	e := &Export{
		ID:        uuid.New().String(),
		Format:    format,
		Precincts: precincts,
		Bytes:     bytes,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exports (id, format, precincts, bytes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Format, e.Precincts, e.Bytes, e.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert export")
	}
	return e, nil
}

// ListExports returns the most recent exports first.
func (s *PostgresStore) ListExports(ctx context.Context, limit int) ([]Export, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, format, precincts, bytes, created_at FROM exports ORDER BY created_at DESC, id LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list exports")
	}
	defer rows.Close()

	var out []Export
	for rows.Next() {
		var e Export
		if err := rows.Scan(&e.ID, &e.Format, &e.Precincts, &e.Bytes, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan export")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list exports iterate")
}
