package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/overlay"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "precinct-map.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are unix milliseconds so range filters compare numerically.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS precincts (
	precinct_id TEXT PRIMARY KEY,
	fips        TEXT NOT NULL DEFAULT '',
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS precinct_values (
	precinct_id TEXT NOT NULL REFERENCES precincts(precinct_id) ON DELETE CASCADE,
	variable    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	value       REAL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (precinct_id, variable)
);

CREATE TABLE IF NOT EXISTS overlay_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	url        TEXT PRIMARY KEY,
	etag       TEXT NOT NULL DEFAULT '',
	body       BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exports (
	id         TEXT PRIMARY KEY,
	format     TEXT NOT NULL,
	precincts  INTEGER NOT NULL,
	bytes      INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_overlay_cache_fetched_at ON overlay_cache(fetched_at);
CREATE INDEX IF NOT EXISTS idx_exports_created_at ON exports(created_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePrecincts upserts FIPS codes and replaces the stored observations of
// every precinct in recs.
func (s *SQLiteStore) SavePrecincts(ctx context.Context, recs []PrecinctRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save precincts")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixMilli()
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO precincts (precinct_id, fips, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (precinct_id) DO UPDATE SET fips = excluded.fips, updated_at = excluded.updated_at`,
			rec.ID, rec.FIPS, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert precinct %s", rec.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM precinct_values WHERE precinct_id = ?`, rec.ID); err != nil {
			return eris.Wrapf(err, "sqlite: clear values for %s", rec.ID)
		}
		for variable, o := range rec.Values {
			kind, value, ok := encodeObservation(o)
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO precinct_values (precinct_id, variable, kind, value, updated_at) VALUES (?, ?, ?, ?, ?)`,
				rec.ID, variable, kind, value, now,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert value for %s", rec.ID)
			}
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save precincts")
}

// LoadPrecincts returns every stored precinct ordered by id.
func (s *SQLiteStore) LoadPrecincts(ctx context.Context) ([]PrecinctRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectPrecinctsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load precincts")
	}
	defer rows.Close() //nolint:errcheck

	var out []PrecinctRecord
	for rows.Next() {
		var (
			id, fips       string
			variable, kind sql.NullString
			value          sql.NullFloat64
		)
		if err := rows.Scan(&id, &fips, &variable, &kind, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan precinct")
		}
		var v *float64
		if value.Valid {
			v = &value.Float64
		}
		out = appendRow(out, id, fips, variable.String, variable.Valid, kind.String, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load precincts iterate")
}

const selectPrecinctsSQL = `SELECT p.precinct_id, p.fips, v.variable, v.kind, v.value
	FROM precincts p LEFT JOIN precinct_values v ON v.precinct_id = p.precinct_id
	ORDER BY p.precinct_id, v.variable`

// appendRow folds one joined row into out, which is ordered by precinct id.
func appendRow(out []PrecinctRecord, id, fips, variable string, hasValue bool, kind string, value *float64) []PrecinctRecord {
	if len(out) == 0 || out[len(out)-1].ID != id {
		out = append(out, PrecinctRecord{ID: id, FIPS: fips, Values: make(map[string]classify.Observation)})
	}
	if hasValue {
		out[len(out)-1].Values[variable] = decodeObservation(kind, value)
	}
	return out
}

// ClearPrecincts deletes every stored precinct and observation.
func (s *SQLiteStore) ClearPrecincts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM precinct_values`); err != nil {
		return eris.Wrap(err, "sqlite: clear values")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM precincts`)
	return eris.Wrap(err, "sqlite: clear precincts")
}

// GetOverlay returns the cached overlay for key, or nil.
func (s *SQLiteStore) GetOverlay(ctx context.Context, key string) (*overlay.Record, error) {
	var rec overlay.Record
	var fetched int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cache_key, payload, fetched_at FROM overlay_cache WHERE cache_key = ?`, key,
	).Scan(&rec.Key, &rec.Payload, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get overlay")
	}
	rec.FetchedAt = fromMillis(fetched)
	return &rec, nil
}

// PutOverlay stores or replaces an overlay payload.
func (s *SQLiteStore) PutOverlay(ctx context.Context, rec overlay.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO overlay_cache (cache_key, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		rec.Key, rec.Payload, millis(rec.FetchedAt),
	)
	return eris.Wrap(err, "sqlite: put overlay")
}

// ClearOverlays deletes every cached overlay.
func (s *SQLiteStore) ClearOverlays(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM overlay_cache`)
	return eris.Wrap(err, "sqlite: clear overlays")
}

// CountOverlays counts overlays with the key prefix fetched after since.
func (s *SQLiteStore) CountOverlays(ctx context.Context, prefix string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM overlay_cache WHERE substr(cache_key, 1, ?) = ? AND fetched_at > ?`,
		len(prefix), prefix, millis(since),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count overlays")
}

// GetSource returns the cached download for url, or nil.
func (s *SQLiteStore) GetSource(ctx context.Context, url string) (*Source, error) {
	var src Source
	var fetched int64
	err := s.db.QueryRowContext(ctx,
		`SELECT url, etag, body, fetched_at FROM sources WHERE url = ?`, url,
	).Scan(&src.URL, &src.ETag, &src.Body, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get source")
	}
	src.FetchedAt = fromMillis(fetched)
	return &src, nil
}

// PutSource stores or replaces a download.
func (s *SQLiteStore) PutSource(ctx context.Context, src Source) error {
	if src.FetchedAt.IsZero() {
		src.FetchedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (url, etag, body, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET etag = excluded.etag, body = excluded.body, fetched_at = excluded.fetched_at`,
		src.URL, src.ETag, src.Body, millis(src.FetchedAt),
	)
	return eris.Wrap(err, "sqlite: put source")
}

// RecordExport stores an export with a new id.
func (s *SQLiteStore) RecordExport(ctx context.Context, format string, precincts int, bytes int64) (*Export, error) {
	e := &Export{
		ID:        uuid.New().String(),
		Format:    format,
		Precincts: precincts,
		Bytes:     bytes,
		CreatedAt: fromMillis(time.Now().UnixMilli()),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (id, format, precincts, bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Format, e.Precincts, e.Bytes, millis(e.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert export")
	}
	return e, nil
}

// ListExports returns the most recent exports first.
func (s *SQLiteStore) ListExports(ctx context.Context, limit int) ([]Export, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, format, precincts, bytes, created_at FROM exports ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list exports")
	}
	defer rows.Close() //nolint:errcheck

	var out []Export
	for rows.Next() {
		var e Export
		var created int64
		if err := rows.Scan(&e.ID, &e.Format, &e.Precincts, &e.Bytes, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan export")
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list exports iterate")
}
