// Package raster reads single-band categorical rasters (GeoTIFF, Esri ASCII grid,
// in-memory grids) by cell and by rectangular window.
package raster

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/model"
)

// ErrOutOfBounds is returned when a grid reference lies outside the raster.
var ErrOutOfBounds = errors.New("raster: cell out of bounds")

// Status classifies the outcome of reading one cell.
type Status uint8

const (
	StatusOK Status = iota
	StatusNoData
	StatusReadFailure
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "nodata"
	case StatusReadFailure:
		return "read_failure"
	default:
		return "unknown"
	}
}

// Cell is the value of one raster cell together with its centre coordinate.
type Cell struct {
	Ref      model.GridRef
	X, Y     float64 // cell centre
	Category int32
	Status   Status
}

// Valid reports whether the cell carries a usable category.
func (c Cell) Valid() bool { return c.Status == StatusOK }

// Window is a rectangle of cells. An empty window has zero rows or columns.
type Window struct {
	Row, Col   int
	Rows, Cols int
}

// Empty reports whether the window covers no cells.
func (w Window) Empty() bool { return w.Rows <= 0 || w.Cols <= 0 }

// WindowData holds the cells read for a window in row-major order.
type WindowData struct {
	Window Window
	Cells  []Cell
}

// ValidCells returns the cells with StatusOK.
func (d WindowData) ValidCells() []Cell {
	out := make([]Cell, 0, len(d.Cells))
	for _, c := range d.Cells {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// Accessor is read access to a single-band raster. Implementations are safe for
// concurrent use.
type Accessor interface {
	Width() int
	Height() int
	Transform() Transform
	NoData() (float64, bool)
	IndexOf(x, y float64) model.GridRef
	ReadCell(ref model.GridRef) (Cell, error)
	ReadWindow(w Window) (WindowData, error)
	WindowAround(x, y, radius float64) Window
	Close() error
}

// source reads one row segment of the first band into dst.
type source interface {
	readRow(row, col int, dst []float64) error
}

// Raster implements Accessor over a source.
type Raster struct {
	src       source
	closer    io.Closer
	width     int
	height    int
	transform Transform
	nodata    float64
	hasNoData bool
}

func newRaster(src source, width, height int, tf Transform, nodata float64, hasNoData bool) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, eris.Errorf("raster: invalid dimensions %dx%d", width, height)
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return &Raster{
		src:       src,
		width:     width,
		height:    height,
		transform: tf,
		nodata:    nodata,
		hasNoData: hasNoData,
	}, nil
}

// Width returns the number of columns.
func (r *Raster) Width() int { return r.width }

// Height returns the number of rows.
func (r *Raster) Height() int { return r.height }

// Transform returns the affine geotransform.
func (r *Raster) Transform() Transform { return r.transform }

// NoData returns the no-data marker and whether one is defined.
func (r *Raster) NoData() (float64, bool) { return r.nodata, r.hasNoData }

// IndexOf maps a world coordinate to the cell containing it. The result may be
// out of bounds.
func (r *Raster) IndexOf(x, y float64) model.GridRef {
	col, row := r.transform.Invert(x, y)
	return model.GridRef{
		Row: floorIndex(row, r.height),
		Col: floorIndex(col, r.width),
	}
}

// ReadCell reads a single cell. Read failures are reported in the cell status;
// the only error is ErrOutOfBounds.
func (r *Raster) ReadCell(ref model.GridRef) (Cell, error) {
	if !ref.Valid(r.width, r.height) {
		return Cell{Ref: ref, Status: StatusReadFailure}, ErrOutOfBounds
	}
	var buf [1]float64
	c := r.cell(ref.Row, ref.Col)
	if err := r.src.readRow(ref.Row, ref.Col, buf[:]); err != nil {
		c.Status = StatusReadFailure
		return c, nil
	}
	r.classify(&c, buf[0])
	return c, nil
}

// ReadWindow reads every cell of w after clamping it to the raster extent.
func (r *Raster) ReadWindow(w Window) (WindowData, error) {
	w = r.clamp(w)
	if w.Empty() {
		return WindowData{Window: w}, nil
	}

	data := WindowData{Window: w, Cells: make([]Cell, 0, w.Rows*w.Cols)}
	buf := make([]float64, w.Cols)
	for row := w.Row; row < w.Row+w.Rows; row++ {
		err := r.src.readRow(row, w.Col, buf)
		for i := range buf {
			c := r.cell(row, w.Col+i)
			if err != nil {
				c.Status = StatusReadFailure
			} else {
				r.classify(&c, buf[i])
			}
			data.Cells = append(data.Cells, c)
		}
	}
	return data, nil
}

// WindowAround returns the clamped window covering the square of half-side
// radius centred on (x, y).
func (r *Raster) WindowAround(x, y, radius float64) Window {
	minCol, minRow := math.Inf(1), math.Inf(1)
	maxCol, maxRow := math.Inf(-1), math.Inf(-1)
	for _, dx := range []float64{-radius, radius} {
		for _, dy := range []float64{-radius, radius} {
			col, row := r.transform.Invert(x+dx, y+dy)
			minCol, maxCol = math.Min(minCol, col), math.Max(maxCol, col)
			minRow, maxRow = math.Min(minRow, row), math.Max(maxRow, row)
		}
	}
	if math.IsNaN(minCol) || math.IsNaN(minRow) || math.IsNaN(maxCol) || math.IsNaN(maxRow) {
		return Window{}
	}

	c0 := clampIndex(minCol, r.width)
	r0 := clampIndex(minRow, r.height)
	c1 := clampIndex(maxCol, r.width)
	r1 := clampIndex(maxRow, r.height)
	if maxCol < 0 || maxRow < 0 || minCol >= float64(r.width) || minRow >= float64(r.height) {
		return Window{}
	}
	return Window{Row: r0, Col: c0, Rows: r1 - r0 + 1, Cols: c1 - c0 + 1}
}

// Close releases the underlying file, if any.
func (r *Raster) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Raster) clamp(w Window) Window {
	r0, c0 := max(w.Row, 0), max(w.Col, 0)
	r1, c1 := min(w.Row+w.Rows, r.height), min(w.Col+w.Cols, r.width)
	if r1 <= r0 || c1 <= c0 {
		return Window{Row: r0, Col: c0}
	}
	return Window{Row: r0, Col: c0, Rows: r1 - r0, Cols: c1 - c0}
}

func (r *Raster) cell(row, col int) Cell {
	x, y := r.transform.CellCenter(row, col)
	return Cell{Ref: model.GridRef{Row: row, Col: col}, X: x, Y: y}
}

func (r *Raster) classify(c *Cell, v float64) {
	switch {
	case math.IsNaN(v):
		c.Status = StatusNoData
	case r.hasNoData && v == r.nodata:
		c.Status = StatusNoData
	case v < math.MinInt32 || v > math.MaxInt32:
		c.Status = StatusReadFailure
	default:
		c.Category = int32(v)
		c.Status = StatusOK
	}
}

// clampIndex floors v and clamps it into [0, limit-1].
func clampIndex(v float64, limit int) int {
	switch {
	case v < 0:
		return 0
	case v >= float64(limit):
		return limit - 1
	default:
		return int(math.Floor(v))
	}
}

// Options configures Open.
type Options struct {
	// BlockCacheSize bounds the number of decoded GeoTIFF blocks kept in memory.
	BlockCacheSize int64
}

// Open opens a raster file, choosing the decoder by extension.
func Open(path string, opts Options) (*Raster, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "raster: %s: %v", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return OpenGeoTIFF(path, opts)
	case ".asc":
		return OpenASC(path)
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "raster: unsupported format %q", filepath.Ext(path))
	}
}
