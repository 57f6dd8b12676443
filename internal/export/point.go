// Package export writes merged result tables to GeoJSON, ESRI shapefiles, and
// PostGIS tables.
package export

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/biome-cli/internal/model"
)

// SRID of every exported geometry.
const SRID = 4326

// Point returns the WGS84 point of r, or nil when its coordinates are not
// finite.
func Point(r model.Result) *geom.Point {
	if !finite(r.Point.Longitude) || !finite(r.Point.Latitude) {
		return nil
	}
	return geom.NewPointFlat(geom.XY, []float64{r.Point.Longitude, r.Point.Latitude}).SetSRID(SRID)
}

// EncodeEWKB converts the point of r to little-endian EWKB. Results without
// a usable point return nil, nil.
func EncodeEWKB(r model.Result) ([]byte, error) {
	p := Point(r)
	if p == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "export: encode EWKB")
	}
	return data, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// nullableFloat maps non-finite values to nil.
func nullableFloat(f float64) any {
	if !finite(f) {
		return nil
	}
	return f
}

// nullableCategory maps unresolved results to nil.
func nullableCategory(r model.Result) any {
	if !r.Resolved {
		return nil
	}
	return r.Category
}
