// Package downsample implements the three point-reduction algorithms the
// cache can apply when a caller requests fewer points than are stored for a
// window: POINTS (fixed stride averaging), TIME_WEIGHTED_POINTS (duration
// buckets of averaged points), and TIME_WEIGHTED_TIME (duration buckets
// recursively subdivided by duration again).
//
// Every function here is pure: given the same points, schema, and target
// count, it always produces the same result. None of it touches the cache
// or backing store.
package downsample

import (
	"fmt"
	"math"
	"sort"

	"github.com/intelpoc/tscache/internal/timecodec"
	"github.com/intelpoc/tscache/internal/tsdverrors"
	"github.com/intelpoc/tscache/internal/tsschema"
)

// avgPointsPerBucket controls how many raw points, on average, a single
// time-weighted bucket is sized to hold before it gets its own averaging
// pass. 10 matches the original implementation's tuning constant.
const avgPointsPerBucket = 10

// ApplyFilter reduces batch.Points to at most numOfPoints points using the
// named filter, described fully in the downsampling algorithms section of
// the specification. If the batch already has numOfPoints points or fewer,
// it is returned unchanged.
func ApplyFilter(batch tsschema.PointBatch, schema tsschema.Schema, numOfPoints int, filter tsschema.FilterType) (tsschema.PointBatch, error) {
	if schema.DateKeyColumn == "" {
		return tsschema.PointBatch{}, tsdverrors.ErrNotInitialized
	}

	n := len(batch.Points)
	if n == 0 || n <= numOfPoints {
		return batch, nil
	}

	columns := sortedColumns(schema)
	out := tsschema.PointBatch{StartDate: batch.StartDate, EndDate: batch.EndDate}

	switch filter {
	case tsschema.FilterPoints:
		out.Points = applyPoints(batch.Points, 0, n, schema, columns, numOfPoints)
	case tsschema.FilterTimeWeightedPoints:
		out.Points = applyTimeWeighted(batch.Points, 0, n, schema, columns, numOfPoints, tsschema.FilterTimeWeightedPoints)
	case tsschema.FilterTimeWeightedTime:
		out.Points = applyTimeWeighted(batch.Points, 0, n, schema, columns, numOfPoints, tsschema.FilterTimeWeightedTime)
	default:
		return tsschema.PointBatch{}, fmt.Errorf("%w: %q", tsdverrors.ErrInvalidFilter, filter)
	}
	if out.Points == nil {
		out.Points = []tsschema.Point{}
	}
	return out, nil
}

// sortedColumns fixes a deterministic column iteration order so averaging
// and emission line up the same way on every point in a window, matching
// the original's reliance on its JSON library's alphabetically-ordered
// member enumeration.
func sortedColumns(schema tsschema.Schema) []string {
	cols := make([]string, 0, len(schema.Columns))
	for c := range schema.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// applyPoints implements the POINTS filter: a running sum of every numeric
// column, emitted as an average whenever the stride boundary is crossed or
// the window ends. TEXT columns (including the date key) carry forward the
// value of the last point contributing to each emitted average.
func applyPoints(points []tsschema.Point, startI, endI int, schema tsschema.Schema, columns []string, numOfPoints int) []tsschema.Point {
	out := make([]tsschema.Point, 0, numOfPoints)
	if numOfPoints == 0 {
		return out
	}

	avgPerPoint := float64(endI-startI) / float64(numOfPoints)
	stride := math.Ceil(avgPerPoint)
	prevIndex := startI - 1
	averages := make([]float64, len(columns))

	for pointIndex := startI; pointIndex < endI; pointIndex++ {
		point := points[pointIndex]
		for i, col := range columns {
			if schema.Columns[col].Numeric() {
				averages[i] += numericValue(point[col])
			}
		}

		emit := (pointIndex > 0 && math.Mod(float64(pointIndex+1-startI), stride) == 0) || pointIndex == endI-1
		if !emit {
			continue
		}

		rangeLen := pointIndex - prevIndex
		newPoint := tsschema.Point{}
		for i, col := range columns {
			colType := schema.Columns[col]
			if colType.Numeric() {
				avg := averages[i] / float64(rangeLen)
				if colType == tsschema.ColumnInt {
					newPoint[col] = float64(int64(avg))
				} else {
					newPoint[col] = avg
				}
				averages[i] = 0
			} else {
				newPoint[col] = stringValue(point[col])
			}
		}
		prevIndex = pointIndex
		out = append(out, newPoint)
	}
	return out
}

// applyTimeWeighted implements TIME_WEIGHTED_POINTS and TIME_WEIGHTED_TIME.
// Points are grouped into duration-sized buckets (inclusive of both bucket
// endpoints); each bucket's point count is scaled down proportionally to
// numOfPoints and reduced by applyPoints (TIME_WEIGHTED_POINTS) or by a
// recursive call to this function (TIME_WEIGHTED_TIME). Once a recursive
// call's target is at or below avgPointsPerBucket it bottoms out in
// applyPoints directly.
func applyTimeWeighted(points []tsschema.Point, startI, endI int, schema tsschema.Schema, columns []string, numOfPoints int, filterType tsschema.FilterType) []tsschema.Point {
	if numOfPoints == 0 {
		return []tsschema.Point{}
	}
	if numOfPoints <= avgPointsPerBucket {
		return applyPoints(points, startI, endI, schema, columns, numOfPoints)
	}

	dateKey := schema.DateKeyColumn
	startTime := timecodec.Parse(stringValue(points[startI][dateKey]))
	endTime := timecodec.Parse(stringValue(points[endI-1][dateKey]))
	bucketDuration := int64(float64(endTime-startTime) / (float64(numOfPoints) / float64(avgPointsPerBucket)))

	bucketStart := startTime
	bucketEnd := startTime + bucketDuration
	bucketSize := 0
	out := []tsschema.Point{}

	for i := startI; i < endI; i++ {
		t := timecodec.Parse(stringValue(points[i][dateKey]))
		if t >= bucketStart && t <= bucketEnd {
			bucketSize++
			continue
		}

		scaled := int(float64(bucketSize) / float64(endI-startI) * float64(numOfPoints))
		if scaled > 0 {
			switch filterType {
			case tsschema.FilterTimeWeightedPoints:
				out = append(out, applyPoints(points, i-bucketSize, i, schema, columns, scaled)...)
			case tsschema.FilterTimeWeightedTime:
				out = append(out, applyTimeWeighted(points, i-bucketSize, i, schema, columns, scaled, tsschema.FilterTimeWeightedTime)...)
			}
		}
		bucketSize = 1
		bucketStart += bucketDuration
		bucketEnd += bucketDuration
	}

	scaled := int(float64(bucketSize) / float64(endI-startI) * float64(numOfPoints))
	switch filterType {
	case tsschema.FilterTimeWeightedPoints:
		out = append(out, applyPoints(points, endI-bucketSize, endI, schema, columns, scaled)...)
	case tsschema.FilterTimeWeightedTime:
		out = append(out, applyTimeWeighted(points, endI-bucketSize, endI, schema, columns, scaled, tsschema.FilterTimeWeightedTime)...)
	}
	return out
}

func numericValue(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return 0
	}
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
