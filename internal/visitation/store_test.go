package visitation

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

const fixtureCSV = `tract_id,perc_visit,poverty_rate_zscore_d,no_car_rate_zscore_d,ignored_col
100,2.0,1.5,0.5,junk
200,0.5,-2.0,1.0,junk
200,0.5,2.0,,junk
300,0,9.9,9.9,junk
400,,1.0,1.0,junk
500.0,1.0,0.25,0.75,junk
`

func loadedStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.LoadCSV(context.Background(), strings.NewReader(fixtureCSV), ""))
	return s
}

func TestLoadCSV_DeclaredSchema(t *testing.T) {
	s := loadedStore(t)

	assert.Equal(t, []string{"tract_id", "perc_visit", "poverty_rate_zscore_d", "no_car_rate_zscore_d"}, s.Columns())
	assert.Equal(t, 6, s.Rows())

	// Columns outside the declared schema are dropped at ingest.
	assert.Equal(t, []string{"ignored_col"}, s.MissingColumns([]string{"ignored_col"}))
	assert.Empty(t, s.MissingColumns([]string{"poverty_rate_zscore_d"}))
}

func TestLoadCSV_MissingEssentialColumns(t *testing.T) {
	s, err := Open()
	require.NoError(t, err)
	defer s.Close()

	err = s.LoadCSV(context.Background(), strings.NewReader("a,b\n1,2\n"), "")
	assert.Error(t, err)
}

func TestWeightedSum_SingleVariable(t *testing.T) {
	s := loadedStore(t)

	result, err := s.WeightedSum(context.Background(), []string{"poverty_rate_zscore_d"})
	require.NoError(t, err)

	byKey := map[string]*float64{}
	for i, k := range result.Keys {
		byKey[k] = result.Values[i]
	}

	// Tract 100: one row, 1.5 * 2.0 = 3.0.
	require.Contains(t, byKey, "100")
	assert.InDelta(t, 3.0, *byKey["100"], 1e-9)

	// Tract 200: two rows, (-2.0 * 0.5) + (2.0 * 0.5) = 0.
	require.Contains(t, byKey, "200")
	assert.InDelta(t, 0.0, *byKey["200"], 1e-9)

	// Zero-weight and null-weight tracts are excluded entirely.
	assert.NotContains(t, byKey, "300")
	assert.NotContains(t, byKey, "400")

	// Keys normalize identically to the geo table's ("500.0" -> "500").
	require.Contains(t, byKey, "500")
	assert.InDelta(t, 0.25, *byKey["500"], 1e-9)
}

func TestWeightedSum_NullZScoreRowContributesNothing(t *testing.T) {
	s := loadedStore(t)

	result, err := s.WeightedSum(context.Background(), []string{"poverty_rate_zscore_d", "no_car_rate_zscore_d"})
	require.NoError(t, err)

	byKey := map[string]*float64{}
	for i, k := range result.Keys {
		byKey[k] = result.Values[i]
	}

	// Tract 200 row two has a null no_car z-score: the whole row's term is
	// NULL and SUM skips it, leaving only row one: (-2.0 + 1.0) * 0.5.
	require.Contains(t, byKey, "200")
	assert.InDelta(t, -0.5, *byKey["200"], 1e-9)
}

func TestWeightedSum_UnknownColumn(t *testing.T) {
	s := loadedStore(t)
	_, err := s.WeightedSum(context.Background(), []string{"nope_zscore_d"})
	assert.Error(t, err)
}

func TestWeightedSum_NoColumns(t *testing.T) {
	s := loadedStore(t)
	_, err := s.WeightedSum(context.Background(), nil)
	assert.Error(t, err)
}

func TestWeightedSum_EmptyTable(t *testing.T) {
	s, err := Open()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.LoadCSV(context.Background(), strings.NewReader("tract_id,perc_visit,x_zscore_d\n"), ""))

	result, err := s.WeightedSum(context.Background(), []string{"x_zscore_d"})
	require.NoError(t, err)
	assert.Empty(t, result.Keys)
}

func TestLoadCSV_UnknownCharset(t *testing.T) {
	s, err := Open()
	require.NoError(t, err)
	defer s.Close()

	err = s.LoadCSV(context.Background(), strings.NewReader(fixtureCSV), "not-a-charset")
	assert.Error(t, err)
}

func TestLoadCSV_Latin1(t *testing.T) {
	s, err := Open()
	require.NoError(t, err)
	defer s.Close()

	// 0xE9 is é in latin-1 and invalid alone in UTF-8; the decoder must not
	// choke even though the column itself is dropped by the schema.
	raw := "tract_id,perc_visit,x_zscore_d,d\xe9partement\n100,1.0,0.5,x\n"
	require.NoError(t, s.LoadCSV(context.Background(), strings.NewReader(raw), "latin1"))
	assert.Equal(t, 1, s.Rows())
}

func TestLoadXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("visits")
	require.NoError(t, err)

	header := sheet.AddRow()
	for _, h := range []string{"tract_id", "perc_visit", "poverty_rate_zscore_d"} {
		header.AddCell().Value = h
	}
	row := sheet.AddRow()
	for _, v := range []string{"100", "2.0", "1.5"} {
		row.AddCell().Value = v
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	s, err := Open()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.LoadXLSX(context.Background(), buf.Bytes()))

	result, err := s.WeightedSum(context.Background(), []string{"poverty_rate_zscore_d"})
	require.NoError(t, err)
	require.Len(t, result.Keys, 1)
	assert.Equal(t, "100", result.Keys[0])
	assert.InDelta(t, 3.0, *result.Values[0], 1e-9)
}
