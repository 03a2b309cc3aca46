// Package cachestore is the non-durable, in-process tier of the cache: a
// raw table plus N precomputed downsample levels, each holding rows keyed
// by date-key string. It deliberately has no notion of SQL or disk
// persistence — that is exactly the boundary the BackingStore exists on the
// other side of, and CacheStore's whole reason to exist is to be the part
// that can be thrown away and rebuilt from the BackingStore at any time.
package cachestore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/intelpoc/tscache/internal/intervalset"
	"github.com/intelpoc/tscache/internal/tsdverrors"
	"github.com/intelpoc/tscache/internal/tsschema"
)

// LevelConfig describes one precomputed downsample tier: a window of
// LevelDuration seconds is reduced to NumPoints points at this tier, and a
// gap of any other length is reduced proportionally (see
// orchestrator.scaledLevelPoints).
type LevelConfig struct {
	// LevelDuration is the duration, in seconds, that this level's points
	// were downsampled over (i.e. the window size used to populate it).
	LevelDuration int64
	// NumPoints is the point count a window of LevelDuration was reduced
	// to when this level was populated.
	NumPoints int
}

// table is one physical table: raw rows or one level's downsampled rows.
type table struct {
	mu        sync.RWMutex
	rows      map[string]tsschema.Point
	intervals *intervalset.Set
}

func newTable() *table {
	return &table{rows: make(map[string]tsschema.Point), intervals: intervalset.New()}
}

// insert adds points to the table, keyed by their date-key value. A row
// whose date key already exists is left untouched (INSERT OR IGNORE
// semantics): the first write for a given date key wins.
func (t *table) insert(points []tsschema.Point, dateKeyColumn string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range points {
		key, ok := p.DateKey(tsschema.Schema{DateKeyColumn: dateKeyColumn})
		if !ok {
			return fmt.Errorf("%w: point missing date key column %q", tsdverrors.ErrStorageError, dateKeyColumn)
		}
		if _, exists := t.rows[key]; !exists {
			t.rows[key] = p
		}
	}
	return nil
}

// query returns the rows whose date key falls within [start, end], ordered
// by date key ascending.
func (t *table) query(start, end string) []tsschema.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		if k >= start && k <= end {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]tsschema.Point, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.rows[k])
	}
	return out
}

// Store is the in-memory cache: one raw table (if enabled) plus one table
// per configured level.
type Store struct {
	schema       tsschema.Schema
	cacheRawData bool
	raw          *table
	levels       []*table
	levelConfig  []LevelConfig
}

// CreateAll constructs the raw table (if cacheRawData is set) and one table
// per entry in levels, named conceptually "<table>_raw" and "<table>_<n>"
// after the schema's table name, matching the original implementation's
// table naming scheme even though nothing here is SQL.
func CreateAll(schema tsschema.Schema, levels []LevelConfig, cacheRawData bool) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		schema:       schema,
		cacheRawData: cacheRawData,
		levelConfig:  append([]LevelConfig(nil), levels...),
		levels:       make([]*table, len(levels)),
	}
	if cacheRawData {
		s.raw = newTable()
	}
	for i := range s.levels {
		s.levels[i] = newTable()
	}
	return s, nil
}

// InsertRaw writes points into the raw table. It is a no-op returning
// ErrStorageError if raw caching was not enabled via CreateAll.
func (s *Store) InsertRaw(points []tsschema.Point) error {
	if s.raw == nil {
		return fmt.Errorf("%w: raw caching is not enabled", tsdverrors.ErrStorageError)
	}
	return s.raw.insert(points, s.schema.DateKeyColumn)
}

// InsertLevel writes points into the given level's table.
func (s *Store) InsertLevel(level int, points []tsschema.Point) error {
	if level < 0 || level >= len(s.levels) {
		return fmt.Errorf("%w: level %d out of range", tsdverrors.ErrStorageError, level)
	}
	return s.levels[level].insert(points, s.schema.DateKeyColumn)
}

// QueryRaw returns the raw rows within [start, end]. ok is false if raw
// caching is disabled.
func (s *Store) QueryRaw(start, end string) (tsschema.PointBatch, bool) {
	if s.raw == nil {
		return tsschema.PointBatch{}, false
	}
	return tsschema.PointBatch{StartDate: start, EndDate: end, Points: s.raw.query(start, end)}, true
}

// QueryLevel returns the rows within [start, end] for the given level.
func (s *Store) QueryLevel(level int, start, end string) (tsschema.PointBatch, bool) {
	if level < 0 || level >= len(s.levels) {
		return tsschema.PointBatch{}, false
	}
	return tsschema.PointBatch{StartDate: start, EndDate: end, Points: s.levels[level].query(start, end)}, true
}

// RawIntervals exposes the raw table's coverage tracker, or nil if raw
// caching is disabled.
func (s *Store) RawIntervals() *intervalset.Set {
	if s.raw == nil {
		return nil
	}
	return s.raw.intervals
}

// LevelIntervals exposes a level's coverage tracker.
func (s *Store) LevelIntervals(level int) *intervalset.Set {
	if level < 0 || level >= len(s.levels) {
		return nil
	}
	return s.levels[level].intervals
}

// NumLevels returns how many precomputed levels this store has.
func (s *Store) NumLevels() int {
	return len(s.levels)
}

// LevelConfigAt returns the configuration for a level.
func (s *Store) LevelConfigAt(level int) (LevelConfig, bool) {
	if level < 0 || level >= len(s.levelConfig) {
		return LevelConfig{}, false
	}
	return s.levelConfig[level], true
}

// CacheRawData reports whether raw caching is enabled for this store.
func (s *Store) CacheRawData() bool {
	return s.cacheRawData
}

// LookupLevel finds the smallest-indexed level whose precomputed point
// density exactly matches a request for numOfPoints over a window of
// queryDuration. The matching rule truncates toward zero, mirroring the
// original cache's use of a C-style double-to-int cast rather than
// round-to-nearest: a level matches when
//
//	floor(level.NumPoints * queryDuration / level.LevelDuration) == numOfPoints
//
// Levels are checked in configuration order and the first match wins, so
// callers should list levels from finest to coarsest if they want the
// least-downsampled match preferred.
func LookupLevel(levels []LevelConfig, queryDuration time.Duration, numOfPoints int) (int, bool) {
	qd := queryDuration.Seconds()
	for i, lvl := range levels {
		if lvl.LevelDuration <= 0 {
			continue
		}
		computed := int64(float64(lvl.NumPoints) * qd / float64(lvl.LevelDuration))
		if computed == int64(numOfPoints) {
			return i, true
		}
	}
	return -1, false
}
