package overlay

import (
	"context"
	"time"
)

// Record is one persisted overlay payload.
type Record struct {
	Key       string
	Payload   []byte
	FetchedAt time.Time
}

// RecordStore is the subset of the persistence layer the store-backed cache needs.
type RecordStore interface {
	GetOverlay(ctx context.Context, key string) (*Record, error)
	PutOverlay(ctx context.Context, rec Record) error
	ClearOverlays(ctx context.Context) error
	CountOverlays(ctx context.Context, prefix string, since time.Time) (int, error)
}

// StoreCache keeps overlay payloads in the application database so they
// survive restarts.
type StoreCache struct {
	store RecordStore
	ttl   time.Duration
	now   func() time.Time
}

// NewStoreCache wraps s.
func NewStoreCache(s RecordStore, ttl time.Duration) *StoreCache {
	return &StoreCache{store: s, ttl: ttl, now: time.Now}
}

// Get implements Cache. Expired rows count as misses and are left for the
// next Put to overwrite.
func (c *StoreCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rec, err := c.store.GetOverlay(ctx, key)
	if err != nil || rec == nil {
		return nil, false, err
	}
	if c.ttl > 0 && c.now().Sub(rec.FetchedAt) >= c.ttl {
		return nil, false, nil
	}
	return rec.Payload, true, nil
}

// Put implements Cache.
func (c *StoreCache) Put(ctx context.Context, key string, data []byte) error {
	return c.store.PutOverlay(ctx, Record{Key: key, Payload: data, FetchedAt: c.now().UTC()})
}

// Clear implements Cache.
func (c *StoreCache) Clear(ctx context.Context) error {
	return c.store.ClearOverlays(ctx)
}

// Count implements Cache.
func (c *StoreCache) Count(ctx context.Context, prefix string) (int, error) {
	var since time.Time
	if c.ttl > 0 {
		since = c.now().Add(-c.ttl).UTC()
	}
	return c.store.CountOverlays(ctx, prefix, since)
}
