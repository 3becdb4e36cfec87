// Package store persists precinct observations, cached overlays, source
// downloads and export history.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/overlay"
)

// PrecinctRecord is what survives a restart for one precinct.
type PrecinctRecord struct {
	ID     string
	FIPS   string
	Values map[string]classify.Observation
}

// Source is a cached remote download.
type Source struct {
	URL       string
	ETag      string
	Body      []byte
	FetchedAt time.Time
}

// Export records one data export.
type Export struct {
	ID        string    `json:"id"`
	Format    string    `json:"format"`
	Precincts int       `json:"precincts"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the persistence interface.
type Store interface {
	// Precinct observations
	SavePrecincts(ctx context.Context, recs []PrecinctRecord) error
	LoadPrecincts(ctx context.Context) ([]PrecinctRecord, error)
	ClearPrecincts(ctx context.Context) error

	// Overlay cache
	GetOverlay(ctx context.Context, key string) (*overlay.Record, error)
	PutOverlay(ctx context.Context, rec overlay.Record) error
	ClearOverlays(ctx context.Context) error
	CountOverlays(ctx context.Context, prefix string, since time.Time) (int, error)

	// Source downloads
	GetSource(ctx context.Context, url string) (*Source, error)
	PutSource(ctx context.Context, src Source) error

	// Exports
	RecordExport(ctx context.Context, format string, precincts int, bytes int64) (*Export, error)
	ListExports(ctx context.Context, limit int) ([]Export, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// Open creates the configured backend and runs migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DSN)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// observation kinds as stored
const (
	kindMissing = "missing"
	kindValue   = "value"
)

// encodeObservation returns the stored kind and value. NotFetched
// observations are not stored.
func encodeObservation(o classify.Observation) (string, *float64, bool) {
	switch o.Kind() {
	case classify.KindMissing:
		return kindMissing, nil, true
	case classify.KindValue:
		v, ok := o.Float()
		if !ok {
			return kindMissing, nil, true
		}
		return kindValue, &v, true
	default:
		return "", nil, false
	}
}

func decodeObservation(kind string, value *float64) classify.Observation {
	if kind == kindValue && value != nil {
		return classify.FromSource(*value)
	}
	return classify.Missing()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
