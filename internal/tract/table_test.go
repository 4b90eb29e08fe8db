package tract

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func squareAt(x float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{x, 0, x + 1, 0, x + 1, 1, x, 1, x, 0}, []int{10})
}

func testTable(srid int) *GeoTable {
	rows := []Row{
		{Key: "100", Geom: squareAt(0), Props: map[string]any{"poverty_rate_zscore_o": 0.2, "race": "A"}},
		{Key: "200", Geom: squareAt(2), Props: map[string]any{"poverty_rate_zscore_o": nil, "race": "B"}},
		{Key: "300", Geom: squareAt(4), Props: map[string]any{"poverty_rate_zscore_o": -1.5, "race": "C"}},
	}
	return NewGeoTable(rows, []string{KeyColumn, "poverty_rate_zscore_o", "race"}, srid)
}

func fptr(f float64) *float64 { return &f }

func TestMergeColumn_LeftJoinPreservesRows(t *testing.T) {
	tbl := testTable(SRIDWGS84)
	result := &IndexResult{
		Keys:   []string{"100", "300", "999"},
		Values: []*float64{fptr(10), fptr(30), fptr(99)},
	}

	require.NoError(t, tbl.MergeColumn("NDI_ACT", result))
	assert.Equal(t, 3, tbl.Len())
	assert.True(t, tbl.HasColumn("NDI_ACT"))

	v, ok := tbl.FloatAt(0, "NDI_ACT")
	require.True(t, ok)
	assert.Equal(t, 10.0, v)

	// Tract absent from the aggregation result gets null.
	_, ok = tbl.FloatAt(1, "NDI_ACT")
	assert.False(t, ok)

	v, ok = tbl.FloatAt(2, "NDI_ACT")
	require.True(t, ok)
	assert.Equal(t, 30.0, v)
}

func TestMergeColumn_DuplicateKeysFatal(t *testing.T) {
	tbl := testTable(SRIDWGS84)
	result := &IndexResult{
		Keys:   []string{"100", "100"},
		Values: []*float64{fptr(1), fptr(2)},
	}

	err := tbl.MergeColumn("NDI_ACT", result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMergeInvariant)
	// The table must be untouched after an aborted merge.
	assert.False(t, tbl.HasColumn("NDI_ACT"))
	assert.Equal(t, 3, tbl.Len())
}

func TestMergeColumn_NullKeyNeverJoins(t *testing.T) {
	rows := []Row{
		{Key: "", Geom: squareAt(0), Props: map[string]any{}},
		{Key: "100", Geom: squareAt(2), Props: map[string]any{}},
	}
	tbl := NewGeoTable(rows, []string{KeyColumn}, SRIDWGS84)

	result := &IndexResult{Keys: []string{"", "100"}, Values: []*float64{fptr(5), fptr(7)}}
	require.NoError(t, tbl.MergeColumn("X_ACT", result))

	_, ok := tbl.FloatAt(0, "X_ACT")
	assert.False(t, ok, "null-keyed row must not join")
	v, ok := tbl.FloatAt(1, "X_ACT")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestDropColumn(t *testing.T) {
	tbl := testTable(SRIDWGS84)
	require.True(t, tbl.HasColumn("race"))
	tbl.DropColumn("race")
	assert.False(t, tbl.HasColumn("race"))
	// Dropping again is harmless.
	tbl.DropColumn("race")
}

func TestFloatAt_CoercesNonFinite(t *testing.T) {
	rows := []Row{
		{Key: "1", Geom: squareAt(0), Props: map[string]any{
			"a": math.Inf(1), "b": math.Inf(-1), "c": math.NaN(), "d": "text", "e": nil, "f": 1.5,
		}},
	}
	tbl := NewGeoTable(rows, []string{KeyColumn, "a", "b", "c", "d", "e", "f"}, SRIDWGS84)

	for _, col := range []string{"a", "b", "c", "d", "e"} {
		_, ok := tbl.FloatAt(0, col)
		assert.False(t, ok, col)
	}
	v, ok := tbl.FloatAt(0, "f")
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestSetColumn_LengthMismatch(t *testing.T) {
	tbl := testTable(SRIDWGS84)
	err := tbl.SetColumn("X_RES", []*float64{fptr(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMergeInvariant)
}

func TestSnapshot_ColumnFiltered(t *testing.T) {
	tbl := testTable(SRIDWGS84)
	fc, err := tbl.Snapshot([]string{"race", "not_a_column"})
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)

	f := fc.Features[0]
	assert.Equal(t, "100", f.Properties[KeyColumn])
	assert.Equal(t, "A", f.Properties["race"])
	_, present := f.Properties["not_a_column"]
	assert.False(t, present)
	_, present = f.Properties["poverty_rate_zscore_o"]
	assert.False(t, present, "unselected column must not leak into snapshot")
	require.NotNil(t, f.Geometry)
}

func TestSnapshot_ReprojectsWebMercator(t *testing.T) {
	// A square at the origin in EPSG:3857 stays at the origin in WGS84.
	rows := []Row{{
		Key:   "1",
		Geom:  geom.NewPolygonFlat(geom.XY, []float64{0, 0, 111319.49, 0, 111319.49, 111325.14, 0, 111325.14, 0, 0}, []int{10}),
		Props: map[string]any{},
	}}
	tbl := NewGeoTable(rows, []string{KeyColumn}, SRIDWebMercator)

	fc, err := tbl.Snapshot(nil)
	require.NoError(t, err)
	flat := fc.Features[0].Geometry.FlatCoords()

	assert.InDelta(t, 0.0, flat[0], 1e-9)
	assert.InDelta(t, 0.0, flat[1], 1e-9)
	// 111319.49 meters of web-mercator easting is one degree of longitude.
	assert.InDelta(t, 1.0, flat[2], 1e-4)
}

func TestSnapshot_WGS84Passthrough(t *testing.T) {
	tbl := testTable(SRIDWGS84)
	fc, err := tbl.Snapshot(nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fc.Features[0].Geometry.FlatCoords()[0], 1e-12)
}
