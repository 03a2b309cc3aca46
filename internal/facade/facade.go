// Package facade is the cache's public entry point: Init, AddData, and
// GetData, all as JSON strings, so a host application never needs to import
// any other package in this module. Its decision logic is a direct
// translation of the original implementation's init/addData/getData, with
// the error/empty-response policy from the specification applied at every
// boundary.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/intelpoc/tscache/internal/backingstore"
	"github.com/intelpoc/tscache/internal/cachestore"
	"github.com/intelpoc/tscache/internal/downsample"
	"github.com/intelpoc/tscache/internal/orchestrator"
	"github.com/intelpoc/tscache/internal/timecodec"
	"github.com/intelpoc/tscache/internal/tsdverrors"
	"github.com/intelpoc/tscache/internal/tsschema"
)

// Facade is the cache. One Facade serves one schema/table; a host
// application wanting multiple tables constructs one Facade per table.
type Facade struct {
	backing  backingstore.BackingStore
	logger   *zap.Logger
	limiter  *rate.Limiter
	observer orchestrator.Observer

	mu          sync.RWMutex
	initialized bool
	schema      tsschema.Schema
	cacheSetup  tsschema.CacheSetup
	cache       *cachestore.Store
	orch        *orchestrator.Orchestrator
	levels      []cachestore.LevelConfig
}

// New constructs an uninitialized Facade over the given BackingStore.
// populateRPS bounds how many populate dispatches per second the rate
// limiter admits; a non-positive value disables the limit.
func New(backing backingstore.BackingStore, logger *zap.Logger, populateRPS float64) *Facade {
	var limiter *rate.Limiter
	if populateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(populateRPS), int(populateRPS)+1)
	}
	return &Facade{backing: backing, logger: logger, limiter: limiter}
}

// SetObserver registers an observer to be notified of every populate
// dispatch's completion, starting with the next Init. It must be called
// before Init to take effect for the orchestrator Init builds.
func (f *Facade) SetObserver(observer orchestrator.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = observer
}

// Init parses cacheSetupJSON and schemaJSON and prepares the cache. An empty
// cacheSetupJSON disables caching entirely, matching the original
// implementation's "cache_setup.empty() => use_cache_ = false" behavior.
func (f *Facade) Init(cacheSetupJSON, schemaJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = false

	cacheSetup, err := tsschema.ParseCacheSetup(cacheSetupJSON)
	if err != nil {
		f.logger.Error("cannot parse cache setup", zap.Error(err))
		return err
	}

	schema, err := tsschema.ParseSchema(schemaJSON)
	if err != nil {
		f.logger.Error("cannot parse data schema", zap.Error(err))
		return err
	}

	levels := make([]cachestore.LevelConfig, 0, len(cacheSetup.Levels))
	for _, l := range cacheSetup.Levels {
		levels = append(levels, cachestore.LevelConfig{LevelDuration: l.Duration, NumPoints: l.NumPoints})
	}

	var cache *cachestore.Store
	if cacheSetup.UseCache {
		cache, err = cachestore.CreateAll(schema, levels, cacheSetup.CacheRawData)
		if err != nil {
			f.logger.Error("cannot initialize cache", zap.Error(err))
			return err
		}
	}

	// Wait for populates dispatched under the previous Init before replacing
	// the cache they write into.
	if f.orch != nil {
		f.orch.Close()
	}

	f.schema = schema
	f.cacheSetup = cacheSetup
	f.cache = cache
	f.levels = levels
	if cache != nil {
		f.orch = orchestrator.New(schema, f.backing, cache, cacheSetup, f.logger, f.observer)
	} else {
		f.orch = nil
	}
	f.initialized = true
	f.logger.Info("facade initialized", zap.String("table", schema.Table), zap.Bool("use_cache", cacheSetup.UseCache))
	return nil
}

// AddData parses a PointBatch JSON payload and writes it straight through
// to the BackingStore. It never touches the cache: population only ever
// happens lazily from GetData, matching the original implementation.
func (f *Facade) AddData(dataJSON string) error {
	f.mu.RLock()
	initialized, schema, backing := f.initialized, f.schema, f.backing
	f.mu.RUnlock()

	if !initialized {
		f.logger.Error("add data: facade not initialized")
		return tsdverrors.ErrNotInitialized
	}

	var batch tsschema.PointBatch
	if err := json.Unmarshal([]byte(dataJSON), &batch); err != nil {
		f.logger.Error("unable to parse data values", zap.Error(err))
		return fmt.Errorf("%w: %v", tsdverrors.ErrMalformedInput, err)
	}

	if err := backing.Put(context.Background(), schema, batch.Points); err != nil {
		f.logger.Error("failed writing to backing store", zap.Error(err))
		return err
	}
	return nil
}

// GetData parses a Query JSON payload and returns a PointBatch JSON
// response, downsampled to at most numOfPoints points. It never returns an
// error to the caller: every failure mode degrades to an empty-points
// response, matching the specification's error-propagation policy at this
// boundary.
func (f *Facade) GetData(paramsJSON string) string {
	f.mu.RLock()
	initialized := f.initialized
	schema := f.schema
	cacheSetup := f.cacheSetup
	cache := f.cache
	orch := f.orch
	levels := f.levels
	f.mu.RUnlock()

	if !initialized {
		f.logger.Error("get data: facade not initialized")
		return marshal(tsschema.Empty("", ""))
	}

	query, err := tsschema.ParseQuery(paramsJSON)
	if err != nil {
		f.logger.Error("unable to parse query params", zap.Error(err))
		return marshal(tsschema.Empty("", ""))
	}

	// Fire-and-forget populate dispatch happens before the numOfPoints<=0
	// early return, matching the original's getData.
	if cacheSetup.UseCache && orch != nil {
		if f.limiter == nil || f.limiter.Allow() {
			orch.PopulateAsync(query.StartDate, query.EndDate)
		} else {
			f.logger.Debug("populate dispatch dropped by rate limiter",
				zap.String("start", query.StartDate), zap.String("end", query.EndDate))
		}
	}

	if query.NumOfPoints <= 0 {
		f.logger.Debug("requested 0 results, returning empty-point response")
		return marshal(tsschema.Empty(query.StartDate, query.EndDate))
	}

	response, servedFromBacking := f.lookupCacheOrFetch(context.Background(), schema, cacheSetup, cache, levels, query)
	if !servedFromBacking && !cacheSetup.CacheRawData {
		// Cache's own response is already final: a precomputed level hit
		// with raw caching disabled never needs re-downsampling.
		return marshal(response)
	}

	if len(response.Points) > query.NumOfPoints {
		reduced, err := downsample.ApplyFilter(response, schema, query.NumOfPoints, cacheSetup.DownsamplingFilter)
		if err != nil {
			f.logger.Error("downsampling failed", zap.Error(err))
			return marshal(tsschema.Empty(query.StartDate, query.EndDate))
		}
		response = reduced
	}
	return marshal(response)
}

// lookupCacheOrFetch tries the cache first when enabled; it falls back to
// the BackingStore whenever no level (or the raw table) fully covers the
// requested window, returning servedFromBacking=true in that case (the
// caller must still apply the size check and downsample). A genuine cache
// hit returns servedFromBacking=false.
func (f *Facade) lookupCacheOrFetch(ctx context.Context, schema tsschema.Schema, cacheSetup tsschema.CacheSetup, cache *cachestore.Store, levels []cachestore.LevelConfig, query tsschema.Query) (tsschema.PointBatch, bool) {
	if cacheSetup.UseCache && cache != nil {
		if batch, ok := f.cacheLookup(schema, cache, levels, query); ok {
			return batch, false
		}
	}

	response, err := f.backing.Query(ctx, schema, query.StartDate, query.EndDate)
	if err != nil {
		f.logger.Error("backing store query failed", zap.Error(err))
		return tsschema.Empty(query.StartDate, query.EndDate), true
	}
	return response, true
}

// cacheLookup returns a cache response only when the matching level's (or
// the raw table's) IntervalSet actually covers [query.StartDate,
// query.EndDate] end to end. QueryLevel/QueryRaw always stamp the returned
// batch's StartDate/EndDate to the requested range regardless of what rows
// it actually found, so that alone can never prove a hit — Covers is the
// only source of truth for whether the window is fully cached, per the
// specification's IntervalSet.covers(start,end) lookup guard. Per the
// original implementation, if raw data is cached the match is still usable
// without a BackingStore round-trip — but the caller must apply the size
// check and downsample it if it has more points than requested, which the
// caller's servedFromBacking==false branch skips only when cacheRawData is
// false.
func (f *Facade) cacheLookup(schema tsschema.Schema, cache *cachestore.Store, levels []cachestore.LevelConfig, query tsschema.Query) (tsschema.PointBatch, bool) {
	startEpoch := timecodec.Parse(query.StartDate)
	endEpoch := timecodec.Parse(query.EndDate)
	if startEpoch >= 0 && endEpoch >= 0 {
		duration := time.Duration(endEpoch-startEpoch) * time.Second
		if level, ok := cachestore.LookupLevel(levels, duration, query.NumOfPoints); ok {
			if intervals := cache.LevelIntervals(level); intervals != nil && intervals.Covers(query.StartDate, query.EndDate) {
				if batch, ok2 := cache.QueryLevel(level, query.StartDate, query.EndDate); ok2 {
					return batch, true
				}
			}
		}
	}
	if cache.CacheRawData() {
		if intervals := cache.RawIntervals(); intervals != nil && intervals.Covers(query.StartDate, query.EndDate) {
			if batch, ok := cache.QueryRaw(query.StartDate, query.EndDate); ok {
				return batch, true
			}
		}
	}
	return tsschema.PointBatch{}, false
}

// Close drains any in-flight background populate dispatches.
func (f *Facade) Close() {
	f.mu.RLock()
	orch := f.orch
	f.mu.RUnlock()
	if orch != nil {
		orch.Close()
	}
}

func marshal(batch tsschema.PointBatch) string {
	if batch.Points == nil {
		batch.Points = []tsschema.Point{}
	}
	out, err := json.Marshal(batch)
	if err != nil {
		return `{"startDate":"","endDate":"","points":[]}`
	}
	return string(out)
}
