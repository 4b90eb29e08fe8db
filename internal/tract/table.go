package tract

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// Row is one tract: its normalized join key, polygon geometry, and attribute
// properties. Property values are whatever the source decoder produced
// (float64, string, bool, nil).
type Row struct {
	Key   string
	Geom  geom.T
	Props map[string]any
}

// GeoTable is the base per-tract geospatial table. It is owned by exactly one
// Service and mutated in place by index generation; callers must hold the
// Service lock for the full read-modify-write cycle.
type GeoTable struct {
	rows   []Row
	colSet map[string]struct{}
	srid   int
}

// NewGeoTable builds a table over the given rows. columns lists every
// property column present; srid declares the source CRS (4326 or 3857).
func NewGeoTable(rows []Row, columns []string, srid int) *GeoTable {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return &GeoTable{rows: rows, colSet: set, srid: srid}
}

// Len returns the number of tract rows.
func (t *GeoTable) Len() int {
	return len(t.rows)
}

// SRID returns the declared source coordinate reference system.
func (t *GeoTable) SRID() int {
	return t.srid
}

// HasColumn reports whether a property column exists.
func (t *GeoTable) HasColumn(name string) bool {
	_, ok := t.colSet[name]
	return ok
}

// Columns returns all property column names, sorted.
func (t *GeoTable) Columns() []string {
	out := make([]string, 0, len(t.colSet))
	for c := range t.colSet {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Keys returns the normalized join key of every row, in row order.
func (t *GeoTable) Keys() []string {
	out := make([]string, len(t.rows))
	for i := range t.rows {
		out[i] = t.rows[i].Key
	}
	return out
}

// DropColumn removes a property column from every row. Dropping a column that
// does not exist is a no-op.
func (t *GeoTable) DropColumn(name string) {
	if !t.HasColumn(name) {
		return
	}
	for i := range t.rows {
		delete(t.rows[i].Props, name)
	}
	delete(t.colSet, name)
}

// FloatAt reads a numeric property from a row. Returns false for nulls,
// non-numeric values, NaN, and ±Inf: infinities arising from upstream
// computation are coerced to null, never propagated.
func (t *GeoTable) FloatAt(row int, col string) (float64, bool) {
	return asFloat(t.rows[row].Props[col])
}

func asFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SetColumn attaches a column of per-row values computed positionally (one
// value per row, nil for null). The registry bookkeeping is the caller's job.
func (t *GeoTable) SetColumn(name string, values []*float64) error {
	if len(values) != len(t.rows) {
		return eris.Wrapf(ErrMergeInvariant, "column %s has %d values for %d rows", name, len(values), len(t.rows))
	}
	for i := range t.rows {
		if values[i] == nil {
			t.rows[i].Props[name] = nil
		} else {
			t.rows[i].Props[name] = *values[i]
		}
	}
	t.colSet[name] = struct{}{}
	return nil
}

// MergeColumn left-joins an aggregation result onto the table by tract key.
// Every base row is preserved; unmatched rows get null. A duplicate key on
// the aggregation side would fan out rows in a relational join, so it is a
// fatal merge violation here, as is a row count change or the target column
// being absent afterward.
func (t *GeoTable) MergeColumn(name string, result *IndexResult) error {
	byKey := make(map[string]*float64, len(result.Keys))
	for i, k := range result.Keys {
		if _, dup := byKey[k]; dup && k != "" {
			return eris.Wrapf(ErrMergeInvariant, "duplicate tract key %q in aggregation result", k)
		}
		byKey[k] = result.Values[i]
	}

	before := len(t.rows)
	var matched int
	for i := range t.rows {
		v, ok := byKey[t.rows[i].Key]
		if !ok || t.rows[i].Key == "" || v == nil {
			t.rows[i].Props[name] = nil
			continue
		}
		t.rows[i].Props[name] = *v
		matched++
	}
	t.colSet[name] = struct{}{}

	if len(t.rows) != before {
		return eris.Wrapf(ErrMergeInvariant, "row count changed during merge: %d -> %d", before, len(t.rows))
	}
	if !t.HasColumn(name) {
		return eris.Wrapf(ErrMergeInvariant, "column %s absent after merge", name)
	}
	if matched == 0 {
		zap.L().Warn("tract: merged column has no matching keys",
			zap.String("column", name),
			zap.Int("rows", len(t.rows)),
		)
	}
	return nil
}

// Snapshot serializes a column-filtered view of the table as a GeoJSON
// FeatureCollection with geometry reprojected to WGS84. Columns not present
// are silently skipped; geometry and the tract key are always included.
func (t *GeoTable) Snapshot(columns []string) (*geojson.FeatureCollection, error) {
	send := make([]string, 0, len(columns)+1)
	seen := map[string]struct{}{KeyColumn: {}}
	send = append(send, KeyColumn)
	for _, c := range columns {
		if _, ok := seen[c]; ok {
			continue
		}
		if !t.HasColumn(c) && c != KeyColumn {
			continue
		}
		seen[c] = struct{}{}
		send = append(send, c)
	}
	sort.Strings(send)

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(t.rows))}
	for i := range t.rows {
		g, err := toWGS84(t.rows[i].Geom, t.srid)
		if err != nil {
			return nil, eris.Wrapf(err, "reproject row %d", i)
		}
		props := make(map[string]any, len(send))
		for _, c := range send {
			if c == KeyColumn {
				props[c] = t.rows[i].Key
				continue
			}
			props[c] = t.rows[i].Props[c]
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   g,
			Properties: props,
		})
	}
	return fc, nil
}

// IndexResult is one aggregated column keyed by tract, produced by either
// aggregation path and consumed by MergeColumn. Keys must already be
// normalized.
type IndexResult struct {
	Keys   []string
	Values []*float64
}
