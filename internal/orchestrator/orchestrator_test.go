package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/intelpoc/tscache/internal/backingstore"
	"github.com/intelpoc/tscache/internal/cachestore"
	"github.com/intelpoc/tscache/internal/timecodec"
	"github.com/intelpoc/tscache/internal/tsschema"
)

func testSchema() tsschema.Schema {
	return tsschema.Schema{
		Table:         "readings",
		DateKeyColumn: "ts",
		Columns: map[string]tsschema.ColumnType{
			"ts":    tsschema.ColumnText,
			"value": tsschema.ColumnReal,
		},
	}
}

func seedBacking(t *testing.T, schema tsschema.Schema, from, to int64) backingstore.BackingStore {
	t.Helper()
	m := backingstore.NewMapBackingStore()
	var points []tsschema.Point
	for sec := from; sec < to; sec += 60 {
		points = append(points, tsschema.Point{
			"ts":    formatSeconds(sec),
			"value": float64(sec),
		})
	}
	require.NoError(t, m.Put(context.Background(), schema, points))
	return m
}

func formatSeconds(sec int64) string {
	return timecodec.Format(sec)
}

type recordingObserver struct {
	mu      sync.Mutex
	records []string
}

func (r *recordingObserver) PopulateFinished(id string, start, end string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, id)
}

func TestPopulateFillsRawAndLevels(t *testing.T) {
	schema := testSchema()
	start, end := int64(0), int64(3600)
	backing := seedBacking(t, schema, start, end)

	levels := []cachestore.LevelConfig{{LevelDuration: 3600, NumPoints: 6}}
	cache, err := cachestore.CreateAll(schema, levels, true)
	require.NoError(t, err)

	cacheSetup := tsschema.CacheSetup{UseCache: true, CacheRawData: true, DownsamplingFilter: tsschema.FilterPoints}
	logger := zap.NewNop()
	orch := New(schema, backing, cache, cacheSetup, logger, nil)

	err = orch.Populate(context.Background(), formatSeconds(start), formatSeconds(end-60))
	require.NoError(t, err)

	rawBatch, ok := cache.QueryRaw(formatSeconds(start), formatSeconds(end-60))
	require.True(t, ok)
	assert.NotEmpty(t, rawBatch.Points)

	levelBatch, ok := cache.QueryLevel(0, formatSeconds(start), formatSeconds(end-60))
	require.True(t, ok)
	assert.NotEmpty(t, levelBatch.Points)
	assert.LessOrEqual(t, len(levelBatch.Points), 6)
}

func TestPopulateIsIdempotentOnSecondCall(t *testing.T) {
	schema := testSchema()
	backing := seedBacking(t, schema, 0, 1800)

	cache, err := cachestore.CreateAll(schema, nil, true)
	require.NoError(t, err)
	cacheSetup := tsschema.CacheSetup{UseCache: true, CacheRawData: true, DownsamplingFilter: tsschema.FilterPoints}
	orch := New(schema, backing, cache, cacheSetup, zap.NewNop(), nil)

	require.NoError(t, orch.Populate(context.Background(), formatSeconds(0), formatSeconds(1740)))
	before, _ := cache.QueryRaw(formatSeconds(0), formatSeconds(1740))

	require.NoError(t, orch.Populate(context.Background(), formatSeconds(0), formatSeconds(1740)))
	after, _ := cache.QueryRaw(formatSeconds(0), formatSeconds(1740))

	assert.Equal(t, len(before.Points), len(after.Points))
}

func TestPopulateAsyncNotifiesObserverAndCloseDrains(t *testing.T) {
	schema := testSchema()
	backing := seedBacking(t, schema, 0, 600)
	cache, err := cachestore.CreateAll(schema, nil, true)
	require.NoError(t, err)
	cacheSetup := tsschema.CacheSetup{UseCache: true, CacheRawData: true, DownsamplingFilter: tsschema.FilterPoints}

	obs := &recordingObserver{}
	orch := New(schema, backing, cache, cacheSetup, zap.NewNop(), obs)

	orch.PopulateAsync(formatSeconds(0), formatSeconds(540))
	orch.Close()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.records, 1)
}
