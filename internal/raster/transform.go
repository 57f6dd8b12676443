package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Transform is a GDAL-style affine geotransform mapping (col, row) to (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// North-up rasters have B = D = 0 and a negative E.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Apply maps fractional grid coordinates to world coordinates.
func (t Transform) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// CellCenter returns the world coordinate at the centre of a cell.
func (t Transform) CellCenter(row, col int) (x, y float64) {
	return t.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Invert maps world coordinates back to fractional (col, row).
func (t Transform) Invert(x, y float64) (col, row float64) {
	det := t.A*t.E - t.B*t.D
	dx, dy := x-t.C, y-t.F
	col = (t.E*dx - t.B*dy) / det
	row = (-t.D*dx + t.A*dy) / det
	return col, row
}

// Validate rejects degenerate transforms that cannot be inverted.
func (t Transform) Validate() error {
	det := t.A*t.E - t.B*t.D
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return eris.Errorf("raster: degenerate transform %+v", t)
	}
	return nil
}

// floorIndex converts a fractional index to an int, saturating at the
// sentinel values -1 and limit so huge or non-finite inputs stay out of range.
func floorIndex(v float64, limit int) int {
	switch {
	case math.IsNaN(v):
		return -1
	case v < 0:
		return -1
	case v >= float64(limit):
		return limit
	default:
		return int(math.Floor(v))
	}
}
