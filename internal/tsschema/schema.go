// Package tsschema defines the wire types shared by every layer of the
// cache: the column schema describing a table, the points that flow through
// it, and the query/setup envelopes exchanged with callers as JSON.
package tsschema

import (
	"encoding/json"
	"fmt"

	"github.com/intelpoc/tscache/internal/tsdverrors"
)

// ColumnType is the declared type of a schema column. Only numeric column
// types participate in downsampling averages; TEXT columns are carried
// forward from the last contributing point in a downsampled window.
type ColumnType string

const (
	ColumnInt  ColumnType = "INT"
	ColumnReal ColumnType = "REAL"
	ColumnText ColumnType = "TEXT"
)

// Numeric reports whether values of this column type participate in
// averaging during downsampling.
func (c ColumnType) Numeric() bool {
	return c == ColumnInt || c == ColumnReal
}

// Schema describes a single logical table: its name, which column holds the
// canonical date-key string, and the type of every column.
type Schema struct {
	Table         string                `json:"table"`
	DateKeyColumn string                `json:"date_key_column"`
	Columns       map[string]ColumnType `json:"columns"`
}

// Validate checks that the schema is internally consistent: it must name at
// least one column, and its date-key column must exist and be typed TEXT
// (date keys are always carried as canonical strings, never numeric).
func (s Schema) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("%w: table name is empty", tsdverrors.ErrInvalidSchema)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: schema has no columns", tsdverrors.ErrInvalidSchema)
	}
	dateKeyType, ok := s.Columns[s.DateKeyColumn]
	if !ok {
		return fmt.Errorf("%w: date key column %q not found in column list", tsdverrors.ErrInvalidSchema, s.DateKeyColumn)
	}
	if dateKeyType != ColumnText {
		return fmt.Errorf("%w: date key column %q must be TEXT, got %s", tsdverrors.ErrInvalidSchema, s.DateKeyColumn, dateKeyType)
	}
	return nil
}

// ParseSchema decodes a JSON-encoded schema and validates it.
func ParseSchema(raw string) (Schema, error) {
	var s Schema
	if raw == "" {
		return s, fmt.Errorf("%w: empty schema", tsdverrors.ErrMalformedInput)
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("%w: %v", tsdverrors.ErrMalformedInput, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Point is one row of data keyed by column name. Values are whatever
// encoding/json produced: float64 for numbers, string for TEXT columns.
type Point map[string]interface{}

// DateKey extracts the canonical date-key string for this point under the
// given schema.
func (p Point) DateKey(s Schema) (string, bool) {
	v, ok := p[s.DateKeyColumn]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// PointBatch is the JSON envelope used for both stored windows and query
// responses: a date range plus the points within it.
type PointBatch struct {
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate"`
	Points    []Point `json:"points"`
}

// Empty returns a PointBatch with no points and the given date range, used
// as the neutral response for malformed or degenerate requests.
func Empty(startDate, endDate string) PointBatch {
	return PointBatch{StartDate: startDate, EndDate: endDate, Points: []Point{}}
}

// FilterType selects which downsampling algorithm a CacheSetup uses.
type FilterType string

const (
	FilterPoints             FilterType = "POINTS"
	FilterTimeWeightedPoints FilterType = "TIME_WEIGHTED_POINTS"
	FilterTimeWeightedTime   FilterType = "TIME_WEIGHTED_TIME"
)

// ParseFilterType validates a filter name supplied by a caller.
func ParseFilterType(s string) (FilterType, error) {
	switch FilterType(s) {
	case FilterPoints, FilterTimeWeightedPoints, FilterTimeWeightedTime:
		return FilterType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", tsdverrors.ErrInvalidFilter, s)
	}
}

// LevelSpec describes one precomputed downsample tier as supplied by a
// caller's CacheSetup JSON: a window of Duration seconds is reduced to
// NumPoints points when this level is populated.
type LevelSpec struct {
	Duration  int64 `json:"duration"`
	NumPoints int   `json:"numOfPoints"`
}

// CacheSetup controls whether and how the Facade uses its CacheStore.
type CacheSetup struct {
	UseCache           bool        `json:"useCache"`
	CacheRawData       bool        `json:"cacheRawData"`
	DownsamplingFilter FilterType  `json:"downsamplingFilter"`
	Levels             []LevelSpec `json:"downsamplingLevels,omitempty"`

	// FetchAhead and FetchBehind scale the prefetch widening applied around
	// a requested [start, end] window: the orchestrator widens by
	// FetchBehind*D before start and FetchAhead*D after end, where D is the
	// requested window's own duration.
	FetchAhead  float64 `json:"fetchAhead"`
	FetchBehind float64 `json:"fetchBehind"`
}

// DefaultCacheSetup mirrors the original implementation's defaults: caching
// off, raw data not cached, time-weighted-points as the default filter.
func DefaultCacheSetup() CacheSetup {
	return CacheSetup{
		UseCache:           false,
		CacheRawData:       false,
		DownsamplingFilter: FilterTimeWeightedPoints,
	}
}

// ParseCacheSetup decodes an optional JSON-encoded CacheSetup. An empty
// string yields DefaultCacheSetup with UseCache forced false, matching the
// original's "cache_setup.empty() => use_cache_ = false" branch.
func ParseCacheSetup(raw string) (CacheSetup, error) {
	if raw == "" {
		cs := DefaultCacheSetup()
		cs.UseCache = false
		return cs, nil
	}
	cs := DefaultCacheSetup()
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return CacheSetup{}, fmt.Errorf("%w: %v", tsdverrors.ErrMalformedInput, err)
	}
	if cs.DownsamplingFilter == "" {
		cs.DownsamplingFilter = FilterTimeWeightedPoints
	} else if _, err := ParseFilterType(string(cs.DownsamplingFilter)); err != nil {
		return CacheSetup{}, err
	}
	return cs, nil
}

// Query is the decoded form of a GetData request.
type Query struct {
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	NumOfPoints int    `json:"numOfPoints"`
}

// ParseQuery decodes and minimally validates a GetData JSON request.
func ParseQuery(raw string) (Query, error) {
	var q Query
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return q, fmt.Errorf("%w: %v", tsdverrors.ErrMalformedInput, err)
	}
	if q.StartDate == "" || q.EndDate == "" {
		return q, fmt.Errorf("%w: query missing startDate/endDate", tsdverrors.ErrMalformedInput)
	}
	return q, nil
}
