package raster

import (
	"github.com/rotisserie/eris"
)

// grid is an in-memory row-major band.
type grid struct {
	width  int
	values []float64
}

func (g *grid) readRow(row, col int, dst []float64) error {
	start := row*g.width + col
	copy(dst, g.values[start:start+len(dst)])
	return nil
}

// NewGrid builds an in-memory raster from row-major values. A nil nodata means the
// raster has no no-data marker (NaN cells still read as no data).
func NewGrid(width, height int, tf Transform, values []float64, nodata *float64) (*Raster, error) {
	if len(values) != width*height {
		return nil, eris.Errorf("raster: grid has %d values, want %d", len(values), width*height)
	}
	var nd float64
	if nodata != nil {
		nd = *nodata
	}
	return newRaster(&grid{width: width, values: values}, width, height, tf, nd, nodata != nil)
}
