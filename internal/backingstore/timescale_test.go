package backingstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intelpoc/tscache/internal/tsschema"
)

func TestSQLType(t *testing.T) {
	assert.Equal(t, "BIGINT", sqlType(tsschema.ColumnInt))
	assert.Equal(t, "DOUBLE PRECISION", sqlType(tsschema.ColumnReal))
	assert.Equal(t, "TEXT", sqlType(tsschema.ColumnText))
}

func TestSchemaColumnOrderIsSortedAndStable(t *testing.T) {
	schema := tsschema.Schema{
		Columns: map[string]tsschema.ColumnType{
			"zeta":  tsschema.ColumnReal,
			"alpha": tsschema.ColumnText,
			"mid":   tsschema.ColumnInt,
		},
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, schemaColumnOrder(schema))
}
