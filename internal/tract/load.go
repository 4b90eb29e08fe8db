package tract

import (
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// LoadGeoJSON reads the base geo table from a GeoJSON FeatureCollection.
// Every feature needs a geometry and a tract_id property; the key is
// normalized on the way in. srid declares the coordinate reference system the
// geometry arrives in.
func LoadGeoJSON(r io.Reader, srid int) (*GeoTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "tract: read geojson")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "tract: parse geojson")
	}
	if len(fc.Features) == 0 {
		return nil, eris.New("tract: geojson has no features")
	}

	rawKeys := make([]any, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			return nil, eris.Errorf("tract: feature %d has no geometry", i)
		}
		rawKeys[i] = f.Properties[KeyColumn]
	}
	if _, ok := fc.Features[0].Properties[KeyColumn]; !ok {
		return nil, eris.Errorf("tract: essential column %s missing from geojson", KeyColumn)
	}
	keys := NormalizeKeys("geojson", rawKeys)

	colSet := make(map[string]struct{})
	rows := make([]Row, len(fc.Features))
	for i, f := range fc.Features {
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			if k == KeyColumn {
				continue
			}
			props[k] = v
			colSet[k] = struct{}{}
		}
		rows[i] = Row{Key: keys[i], Geom: f.Geometry, Props: props}
	}

	columns := make([]string, 0, len(colSet)+1)
	columns = append(columns, KeyColumn)
	for c := range colSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	table := NewGeoTable(rows, columns, srid)
	zap.L().Info("tract: geo table loaded",
		zap.Int("rows", table.Len()),
		zap.Int("columns", len(columns)),
		zap.Int("srid", srid),
	)
	return table, nil
}

// LoadShapefile reads the base geo table from a shapefile. DBF attributes
// become properties; numeric-looking attribute values are stored as floats,
// the rest as strings. A tract_id field is required.
func LoadShapefile(path string, srid int) (*GeoTable, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "tract: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	keyIdx := -1
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(names[i], KeyColumn) {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return nil, eris.Errorf("tract: essential field %s missing from shapefile", KeyColumn)
	}

	var rows []Row
	var rawKeys []any
	colSet := make(map[string]struct{})
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeom(shape, srid)
		if g == nil {
			continue
		}

		props := make(map[string]any, len(fields))
		for i, name := range names {
			if i == keyIdx {
				continue
			}
			raw := strings.TrimSpace(reader.Attribute(i))
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				props[name] = f
			} else if raw == "" {
				props[name] = nil
			} else {
				props[name] = raw
			}
			colSet[name] = struct{}{}
		}
		rows = append(rows, Row{Geom: g, Props: props})
		rawKeys = append(rawKeys, strings.TrimSpace(reader.Attribute(keyIdx)))
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrap(err, "tract: read shapefile")
	}
	if len(rows) == 0 {
		return nil, eris.New("tract: shapefile has no usable shapes")
	}

	keys := NormalizeKeys("shapefile", rawKeys)
	for i := range rows {
		rows[i].Key = keys[i]
	}

	columns := make([]string, 0, len(colSet)+1)
	columns = append(columns, KeyColumn)
	for c := range colSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	table := NewGeoTable(rows, columns, srid)
	zap.L().Info("tract: geo table loaded from shapefile",
		zap.Int("rows", table.Len()),
		zap.Int("columns", len(columns)),
		zap.Int("srid", srid),
	)
	return table, nil
}

// shapeToGeom converts a shapefile polygon to a go-geom MultiPolygon.
// Non-polygon shapes are skipped.
func shapeToGeom(s shp.Shape, srid int) geom.T {
	p, ok := s.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("tract: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("tract: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
