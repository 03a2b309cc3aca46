package backingstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestMapBackingStorePutAndQuery(t *testing.T) {
	m := NewMapBackingStore()
	schema := testSchema()
	ctx := context.Background()

	points := []tsschema.Point{
		{"ts": "2020-01-01 00:00Z", "value": 1.0},
		{"ts": "2020-01-02 00:00Z", "value": 2.0},
		{"ts": "2020-01-05 00:00Z", "value": 5.0},
	}
	require.NoError(t, m.Put(ctx, schema, points))

	batch, err := m.Query(ctx, schema, "2020-01-01 00:00Z", "2020-01-02 00:00Z")
	require.NoError(t, err)
	assert.Len(t, batch.Points, 2)
	assert.Equal(t, "2020-01-01 00:00Z", batch.Points[0]["ts"])
	assert.Equal(t, "2020-01-02 00:00Z", batch.Points[1]["ts"])
}

func TestMapBackingStorePutOverwritesSameKey(t *testing.T) {
	m := NewMapBackingStore()
	schema := testSchema()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, schema, []tsschema.Point{{"ts": "2020-01-01 00:00Z", "value": 1.0}}))
	require.NoError(t, m.Put(ctx, schema, []tsschema.Point{{"ts": "2020-01-01 00:00Z", "value": 9.0}}))

	batch, err := m.Query(ctx, schema, "2020-01-01 00:00Z", "2020-01-01 00:00Z")
	require.NoError(t, err)
	require.Len(t, batch.Points, 1)
	assert.Equal(t, 9.0, batch.Points[0]["value"])
}

func TestMapBackingStoreQueryUnknownTableReturnsEmpty(t *testing.T) {
	m := NewMapBackingStore()
	batch, err := m.Query(context.Background(), testSchema(), "a", "b")
	require.NoError(t, err)
	assert.Empty(t, batch.Points)
}

func TestMapBackingStorePutRejectsInvalidSchema(t *testing.T) {
	m := NewMapBackingStore()
	err := m.Put(context.Background(), tsschema.Schema{}, nil)
	assert.Error(t, err)
}

func TestMapBackingStorePutMissingDateKey(t *testing.T) {
	m := NewMapBackingStore()
	err := m.Put(context.Background(), testSchema(), []tsschema.Point{{"value": 1.0}})
	assert.Error(t, err)
}
