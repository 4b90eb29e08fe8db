package tract

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

const (
	// SRIDWGS84 is the geographic CRS required on every externalization.
	SRIDWGS84 = 4326
	// SRIDWebMercator is the only projected source CRS accepted at load.
	SRIDWebMercator = 3857

	earthRadiusM = 6378137.0
)

// toWGS84 reprojects a geometry from the declared source CRS into WGS84.
// 4326 input passes through untouched; 3857 goes through the inverse
// spherical Mercator. Anything else was rejected at load time.
func toWGS84(g geom.T, srid int) (geom.T, error) {
	if g == nil {
		return nil, eris.Wrap(ErrMergeInvariant, "row has no geometry")
	}
	switch srid {
	case SRIDWGS84:
		return g, nil
	case SRIDWebMercator:
		return inverseMercator(g)
	default:
		return nil, eris.Errorf("unsupported source SRID %d", srid)
	}
}

func inverseMercator(g geom.T) (geom.T, error) {
	flat := g.FlatCoords()
	out := make([]float64, len(flat))
	copy(out, flat)

	stride := g.Stride()
	for i := 0; i+1 < len(out); i += stride {
		out[i] = out[i] / earthRadiusM * 180 / math.Pi
		out[i+1] = (2*math.Atan(math.Exp(out[i+1]/earthRadiusM)) - math.Pi/2) * 180 / math.Pi
	}

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(t.Layout(), out).SetSRID(SRIDWGS84), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(t.Layout(), out, t.Ends()).SetSRID(SRIDWGS84), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(t.Layout(), out, t.Endss()).SetSRID(SRIDWGS84), nil
	default:
		return nil, eris.Errorf("unsupported geometry type %T", g)
	}
}
