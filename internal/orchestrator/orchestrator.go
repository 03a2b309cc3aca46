// Package orchestrator implements the cache's prefetch/populate pipeline:
// widen the requested window, find what's missing from each cache tier,
// fetch it from the BackingStore, downsample it into every level, and
// publish the newly-covered range — all without holding an IntervalSet lock
// across backing-store I/O. Only the orchestrator's own populate lock, which
// serializes whole populates, is held across those fetches.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/intelpoc/tscache/internal/backingstore"
	"github.com/intelpoc/tscache/internal/cachestore"
	"github.com/intelpoc/tscache/internal/downsample"
	"github.com/intelpoc/tscache/internal/intervalset"
	"github.com/intelpoc/tscache/internal/timecodec"
	"github.com/intelpoc/tscache/internal/tsschema"
)

// Observer receives a notification each time a PopulateAsync dispatch
// finishes, whether or not it turned out there was anything new to fetch;
// a failed dispatch is reported too, with its error. Direct Populate calls
// do not notify it. The
// demo WebSocket stream (internal/handlers) implements this to show live
// populate progress; nil is a valid Observer (no-op).
type Observer interface {
	PopulateFinished(id string, start, end string, err error)
}

// Orchestrator drives cache population for a single schema/table.
type Orchestrator struct {
	schema     tsschema.Schema
	backing    backingstore.BackingStore
	cache      *cachestore.Store
	cacheSetup tsschema.CacheSetup
	logger     *zap.Logger
	observer   Observer

	// populateMu serializes Populate end-to-end: snapshot, fetch, write,
	// and publish all happen while held, so two concurrent populates for
	// overlapping ranges can never race to fetch the same gap twice.
	populateMu sync.Mutex

	// wg tracks detached PopulateAsync goroutines so Close can drain them
	// deterministically instead of leaking background work, the behavior
	// the original implementation left to an unjoined detached thread.
	wg sync.WaitGroup
}

// New constructs an Orchestrator. Prefetch widening is controlled by
// cacheSetup.FetchAhead/FetchBehind; both zero disables widening.
func New(schema tsschema.Schema, backing backingstore.BackingStore, cache *cachestore.Store, cacheSetup tsschema.CacheSetup, logger *zap.Logger, observer Observer) *Orchestrator {
	return &Orchestrator{
		schema:     schema,
		backing:    backing,
		cache:      cache,
		cacheSetup: cacheSetup,
		logger:     logger,
		observer:   observer,
	}
}

// PopulateAsync dispatches Populate on a tracked background goroutine and
// returns immediately, matching the original cache's fire-and-forget
// cacheDataAsync dispatch from getData. Errors are logged, never returned
// to the caller, per the specification's background-failure policy.
func (o *Orchestrator) PopulateAsync(start, end string) {
	id := uuid.New().String()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := o.Populate(context.Background(), start, end)
		if err != nil {
			o.logger.Error("background populate failed",
				zap.String("populate_id", id), zap.String("start", start), zap.String("end", end), zap.Error(err))
		}
		if o.observer != nil {
			o.observer.PopulateFinished(id, start, end, err)
		}
	}()
}

// Close waits for every in-flight PopulateAsync dispatch to finish.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

// Populate ensures the cache (raw table, if enabled, and every precomputed
// level) covers [start, end], widened per widenRange. It fetches only the
// sub-ranges not already covered, downsamples them per-level, and publishes
// the newly-covered range to that level's IntervalSet.
func (o *Orchestrator) Populate(ctx context.Context, start, end string) error {
	o.populateMu.Lock()
	defer o.populateMu.Unlock()

	wStart, wEnd := o.widenRange(start, end)

	if o.cache.CacheRawData() {
		if err := o.populateTable(ctx, -1, wStart, wEnd); err != nil {
			return fmt.Errorf("populating raw table: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for level := 0; level < o.cache.NumLevels(); level++ {
		level := level
		g.Go(func() error {
			if err := o.populateTable(gctx, level, wStart, wEnd); err != nil {
				return fmt.Errorf("populating level %d: %w", level, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// populateTable fills in the gaps of one table (raw, when level < 0, or a
// precomputed level) for [start, end].
func (o *Orchestrator) populateTable(ctx context.Context, level int, start, end string) error {
	intervals := o.intervalsFor(level)
	if intervals == nil {
		return nil
	}

	gaps := intervals.Difference(start, end)
	for _, gap := range gaps {
		batch, err := o.backing.Query(ctx, o.schema, gap.Start, gap.End)
		if err != nil {
			return err
		}

		if level < 0 {
			if err := o.cache.InsertRaw(batch.Points); err != nil {
				return err
			}
		} else {
			cfg, ok := o.cache.LevelConfigAt(level)
			if !ok {
				continue
			}
			targetPoints := scaledLevelPoints(cfg, gap.Start, gap.End)
			reduced, err := downsample.ApplyFilter(batch, o.schema, targetPoints, o.cacheSetup.DownsamplingFilter)
			if err != nil {
				return err
			}
			if err := o.cache.InsertLevel(level, reduced.Points); err != nil {
				return err
			}
		}

		// Publish: the only moment this gap's IntervalSet lock is taken.
		intervals.InsertMerge(gap.Start, gap.End)
	}
	return nil
}

// scaledLevelPoints computes how many points a gap of [start, end] should be
// downsampled to for a level, matching cachestore.LookupLevel's formula
// exactly so that populating a level and looking it up agree on its point
// density: n = floor(level.NumPoints * gapDuration / level.LevelDuration).
func scaledLevelPoints(cfg cachestore.LevelConfig, start, end string) int {
	if cfg.LevelDuration <= 0 {
		return cfg.NumPoints
	}
	s := timecodec.Parse(start)
	e := timecodec.Parse(end)
	if s < 0 || e < 0 {
		return cfg.NumPoints
	}
	gapDuration := float64(e - s)
	return int(float64(cfg.NumPoints) * gapDuration / float64(cfg.LevelDuration))
}

func (o *Orchestrator) intervalsFor(level int) *intervalset.Set {
	if level < 0 {
		return o.cache.RawIntervals()
	}
	return o.cache.LevelIntervals(level)
}

// widenRange expands [start, end] into the "Widened interval" the
// specification's prefetch cache always populates around a request:
// start' = start - FetchBehind*D, end' = end + FetchAhead*D, where D is the
// requested window's own duration. This mirrors cacheDataAsync's use of
// updateTimeString(..., ±fetch*duration) in the original implementation —
// the widening scales with the query, it is not a flat constant. If either
// bound fails to parse, the original range is returned unchanged.
func (o *Orchestrator) widenRange(start, end string) (string, string) {
	if o.cacheSetup.FetchAhead <= 0 && o.cacheSetup.FetchBehind <= 0 {
		return start, end
	}
	s := timecodec.Parse(start)
	e := timecodec.Parse(end)
	if s < 0 || e < 0 {
		return start, end
	}
	duration := e - s
	behind := int64(o.cacheSetup.FetchBehind * float64(duration))
	ahead := int64(o.cacheSetup.FetchAhead * float64(duration))
	return timecodec.Format(s - behind), timecodec.Format(e + ahead)
}
