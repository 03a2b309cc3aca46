// Package backingstore defines the durable-storage contract the cache sits
// in front of, plus two implementations: an in-memory store for tests and
// embedding, and a TimescaleDB-backed store for production use (see
// timescale.go).
package backingstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/intelpoc/tscache/internal/tsdverrors"
	"github.com/intelpoc/tscache/internal/tsschema"
)

// BackingStore is the durable row store the cache prefetches from and
// writes through to. Put is idempotent on the schema's date-key column;
// Query returns every stored point whose date key falls within
// [start, end], ordered ascending by date key.
type BackingStore interface {
	Put(ctx context.Context, schema tsschema.Schema, points []tsschema.Point) error
	Query(ctx context.Context, schema tsschema.Schema, start, end string) (tsschema.PointBatch, error)
}

// MapBackingStore is an in-memory BackingStore keyed by table name then
// date key. It exists for tests and for library consumers who want the
// cache's semantics without standing up Postgres.
type MapBackingStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]tsschema.Point
}

// NewMapBackingStore returns an empty MapBackingStore.
func NewMapBackingStore() *MapBackingStore {
	return &MapBackingStore{tables: make(map[string]map[string]tsschema.Point)}
}

func (m *MapBackingStore) Put(_ context.Context, schema tsschema.Schema, points []tsschema.Point) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[schema.Table]
	if !ok {
		table = make(map[string]tsschema.Point)
		m.tables[schema.Table] = table
	}
	for _, p := range points {
		key, ok := p.DateKey(schema)
		if !ok {
			return fmt.Errorf("%w: point missing date key column %q", tsdverrors.ErrStorageError, schema.DateKeyColumn)
		}
		table[key] = p
	}
	return nil
}

func (m *MapBackingStore) Query(_ context.Context, schema tsschema.Schema, start, end string) (tsschema.PointBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batch := tsschema.Empty(start, end)
	table, ok := m.tables[schema.Table]
	if !ok {
		return batch, nil
	}
	keys := make([]string, 0, len(table))
	for k := range table {
		if k >= start && k <= end {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		batch.Points = append(batch.Points, table[k])
	}
	return batch, nil
}
