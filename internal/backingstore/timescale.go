package backingstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/intelpoc/tscache/internal/tsdverrors"
	"github.com/intelpoc/tscache/internal/tsschema"
)

// defaultBatchSize bounds how many rows go into a single multi-row INSERT,
// the same chunking the teacher's repository layer uses for
// BatchSaveLocations to stay well under Postgres's per-statement parameter
// limit.
const defaultBatchSize = 1000

// TimescaleConfig configures a TimescaleBackingStore.
type TimescaleConfig struct {
	DSN                   string
	MaxConnections        int32
	ConnectionTimeout     time.Duration
	RetentionPeriod       time.Duration
	CompressionAfter      time.Duration
	CircuitBreakerTimeout time.Duration
}

// TimescaleBackingStore is a BackingStore backed by a TimescaleDB
// hypertable, one per schema.Table. Every call goes through a circuit
// breaker so that a struggling database degrades the cache's populate
// pipeline instead of cascading into it.
type TimescaleBackingStore struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	cfg     TimescaleConfig
}

// NewTimescaleBackingStore connects to Postgres/TimescaleDB and wraps the
// pool in a circuit breaker, matching the teacher's newTimescaleDB wiring
// in cmd/server/main.go.
func NewTimescaleBackingStore(ctx context.Context, cfg TimescaleConfig, logger *zap.Logger) (*TimescaleBackingStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing DSN: %v", tsdverrors.ErrStorageError, err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.ConnectionTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to timescaledb: %v", tsdverrors.ErrStorageError, err)
	}

	breakerTimeout := cfg.CircuitBreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "timescale-backing-store",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &TimescaleBackingStore{pool: pool, breaker: breaker, logger: logger, cfg: cfg}, nil
}

// Close releases the connection pool.
func (t *TimescaleBackingStore) Close() {
	t.pool.Close()
}

// EnsureHypertable creates schema.Table (if absent), one column per schema
// column plus a TimescaleDB hypertable partitioned on the date-key column.
// Column and table identifiers are taken from the schema and quoted, never
// interpolated into the query text as user-controlled SQL fragments.
func (t *TimescaleBackingStore) EnsureHypertable(ctx context.Context, schema tsschema.Schema) error {
	var cols []string
	for name, colType := range schema.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", pgx.Identifier{name}.Sanitize(), sqlType(colType)))
	}
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		pgx.Identifier{schema.Table}.Sanitize(),
		strings.Join(cols, ", "),
		pgx.Identifier{schema.DateKeyColumn}.Sanitize(),
	)
	_, err := t.do(ctx, func(ctx context.Context) (interface{}, error) {
		return t.pool.Exec(ctx, ddl)
	})
	if err != nil {
		return fmt.Errorf("%w: creating table: %v", tsdverrors.ErrStorageError, err)
	}

	hypertableSQL := "SELECT create_hypertable($1, $2, if_not_exists => true)"
	_, err = t.do(ctx, func(ctx context.Context) (interface{}, error) {
		return t.pool.Exec(ctx, hypertableSQL, schema.Table, schema.DateKeyColumn)
	})
	if err != nil {
		t.logger.Warn("create_hypertable failed, continuing with a plain table",
			zap.String("table", schema.Table), zap.Error(err))
	}
	return nil
}

func sqlType(c tsschema.ColumnType) string {
	switch c {
	case tsschema.ColumnInt:
		return "BIGINT"
	case tsschema.ColumnReal:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// Put writes points in batches of defaultBatchSize using parameterized
// multi-row INSERTs with ON CONFLICT DO NOTHING, the parameterized
// replacement for the original cache's "INSERT OR IGNORE" semantics.
func (t *TimescaleBackingStore) Put(ctx context.Context, schema tsschema.Schema, points []tsschema.Point) error {
	if len(points) == 0 {
		return nil
	}
	columns := schemaColumnOrder(schema)

	for start := 0; start < len(points); start += defaultBatchSize {
		end := start + defaultBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := t.putBatch(ctx, schema, columns, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (t *TimescaleBackingStore) putBatch(ctx context.Context, schema tsschema.Schema, columns []string, points []tsschema.Point) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pgx.Identifier{schema.Table}.Sanitize())
	sb.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pgx.Identifier{c}.Sanitize())
	}
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(points)*len(columns))
	argN := 1
	for pi, p := range points {
		if pi > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for ci, c := range columns {
			if ci > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argN)
			argN++
			args = append(args, p[c])
		}
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", pgx.Identifier{schema.DateKeyColumn}.Sanitize())

	_, err := t.do(ctx, func(ctx context.Context) (interface{}, error) {
		return t.pool.Exec(ctx, sb.String(), args...)
	})
	if err != nil {
		return fmt.Errorf("%w: batch insert: %v", tsdverrors.ErrStorageError, err)
	}
	return nil
}

// Query reads every row with a date key in [start, end], ordered ascending.
func (t *TimescaleBackingStore) Query(ctx context.Context, schema tsschema.Schema, start, end string) (tsschema.PointBatch, error) {
	columns := schemaColumnOrder(schema)
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pgx.Identifier{c}.Sanitize())
	}
	sb.WriteString(" FROM ")
	sb.WriteString(pgx.Identifier{schema.Table}.Sanitize())
	fmt.Fprintf(&sb, " WHERE %s BETWEEN $1 AND $2 ORDER BY %s ASC",
		pgx.Identifier{schema.DateKeyColumn}.Sanitize(), pgx.Identifier{schema.DateKeyColumn}.Sanitize())

	result, err := t.do(ctx, func(ctx context.Context) (interface{}, error) {
		rows, err := t.pool.Query(ctx, sb.String(), start, end)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var points []tsschema.Point
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return nil, err
			}
			p := make(tsschema.Point, len(columns))
			for i, c := range columns {
				p[c] = vals[i]
			}
			points = append(points, p)
		}
		return points, rows.Err()
	})
	if err != nil {
		return tsschema.PointBatch{}, fmt.Errorf("%w: query: %v", tsdverrors.ErrStorageError, err)
	}

	batch := tsschema.Empty(start, end)
	if result != nil {
		batch.Points = result.([]tsschema.Point)
	}
	return batch, nil
}

// ApplyRetentionPolicy drops data older than t.cfg.RetentionPeriod and, if
// configured, compresses chunks older than t.cfg.CompressionAfter. This
// mirrors the teacher's ManageRetention, generalized from a fixed locations
// table to any schema-described hypertable.
func (t *TimescaleBackingStore) ApplyRetentionPolicy(ctx context.Context, schema tsschema.Schema) error {
	if t.cfg.CompressionAfter > 0 {
		compressSQL := "SELECT add_compression_policy($1, $2, if_not_exists => true)"
		if _, err := t.do(ctx, func(ctx context.Context) (interface{}, error) {
			return t.pool.Exec(ctx, compressSQL, schema.Table, t.cfg.CompressionAfter.String())
		}); err != nil {
			t.logger.Warn("add_compression_policy failed", zap.String("table", schema.Table), zap.Error(err))
		}
	}
	if t.cfg.RetentionPeriod > 0 {
		retentionSQL := "SELECT add_retention_policy($1, $2, if_not_exists => true)"
		if _, err := t.do(ctx, func(ctx context.Context) (interface{}, error) {
			return t.pool.Exec(ctx, retentionSQL, schema.Table, t.cfg.RetentionPeriod.String())
		}); err != nil {
			t.logger.Warn("add_retention_policy failed", zap.String("table", schema.Table), zap.Error(err))
		}
	}
	return nil
}

func (t *TimescaleBackingStore) do(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return t.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
}

func schemaColumnOrder(schema tsschema.Schema) []string {
	cols := make([]string, 0, len(schema.Columns))
	for c := range schema.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
