// Package resolve assigns a raster category to each point, falling back to the
// nearest valid cell within an expanding search radius.
package resolve

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/raster"
)

// Default search radii in raster coordinate units.
const (
	DefaultMinRadius = 0.01
	DefaultMaxRadius = 1.0
)

// radiusSlack admits cells whose distance equals the radius up to rounding.
const radiusSlack = 1e-9

// Config controls the neighbourhood search.
type Config struct {
	MinRadius float64
	MaxRadius float64
	Index     IndexKind
}

// Resolver maps points to categories. It is safe for concurrent use when the
// accessor is.
type Resolver struct {
	acc   raster.Accessor
	kind  IndexKind
	radii []float64
}

// New validates cfg and returns a Resolver reading from acc.
func New(acc raster.Accessor, cfg Config) (*Resolver, error) {
	if acc == nil {
		return nil, eris.Wrap(model.ErrConfiguration, "resolve: nil raster")
	}
	radii, err := Radii(cfg.MinRadius, cfg.MaxRadius)
	if err != nil {
		return nil, err
	}
	kind, err := ParseIndexKind(string(cfg.Index))
	if err != nil {
		return nil, err
	}
	return &Resolver{acc: acc, kind: kind, radii: radii}, nil
}

// Radii returns the search tiers: min, 2*min, 4*min, ... with the last tier
// clamped to exactly max.
func Radii(minR, maxR float64) ([]float64, error) {
	if !(minR > 0) || math.IsInf(minR, 0) || !(maxR >= minR) || math.IsInf(maxR, 0) {
		return nil, eris.Wrapf(model.ErrConfiguration, "resolve: invalid search radii min=%v max=%v", minR, maxR)
	}
	var out []float64
	for r := minR; ; r *= 2 {
		if r >= maxR {
			out = append(out, maxR)
			return out, nil
		}
		out = append(out, r)
	}
}

// Tiers returns a copy of the search radii.
func (r *Resolver) Tiers() []float64 {
	return append([]float64(nil), r.radii...)
}

// stage is a state of a single resolution.
type stage uint8

const (
	stageExact stage = iota
	stageSearching
	stageUnresolved
)

// Resolve returns exactly one result for p. It never panics; a recovered panic
// yields an unresolved result with an internal_error diagnostic.
func (r *Resolver) Resolve(p model.Point) (res model.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("resolve: recovered panic",
				zap.String("entity_id", p.EntityID),
				zap.Float64("longitude", p.Longitude),
				zap.Float64("latitude", p.Latitude),
				zap.Any("panic", rec),
			)
			res = model.Unresolved(p, model.DiagInternalError)
		}
	}()

	if p.Malformed() {
		return model.Unresolved(p, model.DiagMalformedCoordinate)
	}

	st := stageExact
	tier := 0
	for {
		switch st {
		case stageExact:
			cell, err := r.acc.ReadCell(r.acc.IndexOf(p.Longitude, p.Latitude))
			if err != nil {
				return model.Unresolved(p, model.DiagOutOfBounds)
			}
			if cell.Valid() {
				return model.Exact(p, cell.Category)
			}
			st = stageSearching

		case stageSearching:
			if cell, ok := r.search(p, r.radii[tier]); ok {
				return model.Approx(p, cell.Category, cell.X, cell.Y)
			}
			tier++
			if tier == len(r.radii) {
				st = stageUnresolved
			}

		case stageUnresolved:
			return model.Unresolved(p, "")
		}
	}
}

// search looks for the nearest valid cell whose centre lies within radius of p.
func (r *Resolver) search(p model.Point, radius float64) (raster.Cell, bool) {
	w := r.acc.WindowAround(p.Longitude, p.Latitude, radius)
	if w.Empty() {
		return raster.Cell{}, false
	}
	data, err := r.acc.ReadWindow(w)
	if err != nil {
		return raster.Cell{}, false
	}
	cells := data.ValidCells()
	if len(cells) == 0 {
		return raster.Cell{}, false
	}

	cell, dist := NewIndex(r.kind, cells).Nearest(p.Longitude, p.Latitude)
	if dist > radius*(1+radiusSlack) {
		return raster.Cell{}, false
	}
	return cell, true
}

// ResolveAll resolves a batch in order and returns the results with their stats.
func (r *Resolver) ResolveAll(points []model.Point) ([]model.Result, model.Stats) {
	out := make([]model.Result, len(points))
	var stats model.Stats
	for i, p := range points {
		out[i] = r.Resolve(p)
		stats = stats.Add(model.Count(out[i]))
	}
	return out, stats
}
