package facade

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/intelpoc/tscache/internal/backingstore"
	"github.com/intelpoc/tscache/internal/tsschema"
)

const testSchemaJSON = `{"table":"readings","date_key_column":"ts","columns":{"ts":"TEXT","value":"REAL"}}`

func seedPoints(t *testing.T, f *Facade, from, to int64, step int64) {
	t.Helper()
	var points []tsschema.Point
	for sec := from; sec < to; sec += step {
		points = append(points, tsschema.Point{
			"ts":    formatSeconds(sec),
			"value": float64(sec),
		})
	}
	raw, err := json.Marshal(tsschema.PointBatch{Points: points})
	require.NoError(t, err)
	require.NoError(t, f.AddData(string(raw)))
}

func TestAddDataBeforeInitFails(t *testing.T) {
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	err := f.AddData(`{"points":[]}`)
	assert.Error(t, err)
}

func TestGetDataBeforeInitReturnsEmptyBatch(t *testing.T) {
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	resp := f.GetData(`{"startDate":"a","endDate":"b","numOfPoints":10}`)
	assert.Contains(t, resp, `"points":[]`)
}

func TestInitRejectsInvalidSchema(t *testing.T) {
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	err := f.Init("", `{"table":"","date_key_column":"ts","columns":{}}`)
	assert.Error(t, err)
}

func TestAddDataThenGetDataWithoutCacheHitsBackingStore(t *testing.T) {
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	require.NoError(t, f.Init("", testSchemaJSON))

	seedPoints(t, f, 0, 600, 60)

	resp := f.GetData(`{"startDate":"` + formatSeconds(0) + `","endDate":"` + formatSeconds(540) + `","numOfPoints":100}`)
	var batch tsschema.PointBatch
	require.NoError(t, json.Unmarshal([]byte(resp), &batch))
	assert.NotEmpty(t, batch.Points)
}

func TestGetDataZeroPointsReturnsEmptyWithoutFetch(t *testing.T) {
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	require.NoError(t, f.Init("", testSchemaJSON))
	seedPoints(t, f, 0, 120, 60)

	resp := f.GetData(`{"startDate":"` + formatSeconds(0) + `","endDate":"` + formatSeconds(60) + `","numOfPoints":0}`)
	var batch tsschema.PointBatch
	require.NoError(t, json.Unmarshal([]byte(resp), &batch))
	assert.Empty(t, batch.Points)
}

func TestGetDataDownsamplesWhenOverNumOfPoints(t *testing.T) {
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	require.NoError(t, f.Init("", testSchemaJSON))
	seedPoints(t, f, 0, 3600, 60)

	resp := f.GetData(`{"startDate":"` + formatSeconds(0) + `","endDate":"` + formatSeconds(3540) + `","numOfPoints":5}`)
	var batch tsschema.PointBatch
	require.NoError(t, json.Unmarshal([]byte(resp), &batch))
	assert.LessOrEqual(t, len(batch.Points), 5)
}

func TestGetDataWithCacheExactWindowHitReturnsWithoutBackingCall(t *testing.T) {
	cacheSetupJSON := `{"useCache":true,"cacheRawData":false,"downsamplingFilter":"POINTS","downsamplingLevels":[{"duration":600,"numOfPoints":5}]}`
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	require.NoError(t, f.Init(cacheSetupJSON, testSchemaJSON))
	seedPoints(t, f, 0, 600, 60)

	// A 600 s window at 5 points matches the level exactly.
	start, end := formatSeconds(0), formatSeconds(600)
	// First call dispatches populate asynchronously; Close waits for it.
	_ = f.GetData(`{"startDate":"` + start + `","endDate":"` + end + `","numOfPoints":5}`)
	f.Close()

	// This point reaches the backing store only; a response built from the
	// backing store would end at it.
	seedPoints(t, f, 600, 660, 60)

	resp := f.GetData(`{"startDate":"` + start + `","endDate":"` + end + `","numOfPoints":5}`)
	var batch tsschema.PointBatch
	require.NoError(t, json.Unmarshal([]byte(resp), &batch))
	assert.LessOrEqual(t, len(batch.Points), 5)
	require.NotEmpty(t, batch.Points)
	assert.Equal(t, formatSeconds(540), batch.Points[len(batch.Points)-1]["ts"])
}

func TestCloseWithoutCacheIsNoop(t *testing.T) {
	f := New(backingstore.NewMapBackingStore(), zap.NewNop(), 0)
	require.NoError(t, f.Init("", testSchemaJSON))
	f.Close()
}

func formatSeconds(sec int64) string {
	return time.Unix(sec, 0).Local().Format("2006-01-02 15:04Z")
}
