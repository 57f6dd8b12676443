package input

import (
	"context"
	"math"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/model"
)

// readShapefile loads a point shapefile. Coordinates come from the geometry;
// the entity id and pass-through columns come from the attribute table.
// Attribute columns named like the coordinate columns are dropped.
func readShapefile(ctx context.Context, path string, cols Columns) (*Table, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	entityIdx := -1
	var extraIdx []int
	t := &Table{}
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		switch normalizeHeader(name) {
		case normalizeHeader(cols.EntityID):
			if entityIdx < 0 {
				entityIdx = i
				continue
			}
		case normalizeHeader(cols.Longitude), normalizeHeader(cols.Latitude):
			continue
		}
		extraIdx = append(extraIdx, i)
		t.Extra = append(t.Extra, name)
	}
	if entityIdx < 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "input: shapefile %s has no %q attribute", path, cols.EntityID)
	}

	var nonPoint int
	for reader.Next() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "input: shapefile cancelled")
		}
		_, shape := reader.Shape()

		p := model.Point{EntityID: NormalizeID(attribute(reader, entityIdx))}
		x, y, ok := pointXY(shape)
		if !ok {
			nonPoint++
		}
		p.Longitude, p.Latitude = x, y
		if !ok || math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			p.Longitude, p.Latitude = math.NaN(), math.NaN()
			p.Diagnostic = model.DiagMalformedCoordinate
			t.Malformed++
		}
		if len(extraIdx) > 0 {
			p.Extra = make([]string, len(extraIdx))
			for j, i := range extraIdx {
				p.Extra[j] = attribute(reader, i)
			}
		}
		t.Points = append(t.Points, p)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "input: read shapefile %s", path)
	}

	if nonPoint > 0 {
		zap.L().Warn("input: shapefile records without point geometry",
			zap.String("path", path), zap.Int("records", nonPoint))
	}
	return t, nil
}

func attribute(r *shp.Reader, i int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(i), "\x00"))
}

func pointXY(s shp.Shape) (float64, float64, bool) {
	switch g := s.(type) {
	case *shp.Point:
		return g.X, g.Y, true
	case *shp.PointZ:
		return g.X, g.Y, true
	case *shp.PointM:
		return g.X, g.Y, true
	default:
		return math.NaN(), math.NaN(), false
	}
}
