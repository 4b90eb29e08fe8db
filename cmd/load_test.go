package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geohealth-lab/tractindex/internal/config"
	"github.com/geohealth-lab/tractindex/internal/fetcher"
)

const loadTestGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
      "properties": {"tract_id": "100", "poverty_rate_zscore_o": 0.5, "race": "A"}
    }
  ]
}`

const loadTestCSV = "tract_id,perc_visit,poverty_rate_zscore_d\n100,0.5,1.0\n200,0.25,2.0\n"

func writeDataDir(t *testing.T, geojson, csv string) string {
	t.Helper()
	dir := t.TempDir()
	if geojson != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "tracts.geojson"), []byte(geojson), 0644))
	}
	if csv != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "visits.csv"), []byte(csv), 0644))
	}
	return dir
}

func dataConfig(base string) config.DataConfig {
	return config.DataConfig{
		Backend:       "local",
		Base:          base,
		GeoKey:        "tracts.geojson",
		VisitationKey: "visits.csv",
		SourceSRID:    4326,
	}
}

func TestLoadService_BothTables(t *testing.T) {
	dir := writeDataDir(t, loadTestGeoJSON, loadTestCSV)

	svc, err := loadService(context.Background(), dataConfig(dir))
	require.NoError(t, err)

	assert.True(t, svc.Loaded())
	st := svc.Stats()
	assert.Equal(t, 1, st.GeoRows)
	assert.Equal(t, 2, st.VisitationRows)
}

func TestLoadService_DegradedOnMissingFiles(t *testing.T) {
	dir := writeDataDir(t, "", "")

	// Missing source files degrade the service instead of failing startup.
	svc, err := loadService(context.Background(), dataConfig(dir))
	require.NoError(t, err)
	assert.False(t, svc.Loaded())
	assert.False(t, svc.GeoLoaded())
}

func TestLoadService_GeoOnly(t *testing.T) {
	dir := writeDataDir(t, loadTestGeoJSON, "")

	svc, err := loadService(context.Background(), dataConfig(dir))
	require.NoError(t, err)
	assert.True(t, svc.GeoLoaded())
	assert.False(t, svc.Loaded())
}

func TestLoadGeoTable_ShapefileNeedsLocalBackend(t *testing.T) {
	cfg := dataConfig("https://bucket.example.com")
	cfg.Backend = "https"
	cfg.GeoKey = "tracts.shp"

	f, err := fetcher.New(cfg.Backend, cfg.Base)
	require.NoError(t, err)

	_, err = loadGeoTable(context.Background(), f, cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "local backend")
}

func TestLoadService_UnknownBackend(t *testing.T) {
	cfg := dataConfig(t.TempDir())
	cfg.Backend = "s3"

	_, err := loadService(context.Background(), cfg)
	assert.Error(t, err)
}
