package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biome-cli/internal/model"
)

func newTestGrid(t *testing.T) *Raster {
	t.Helper()
	nd := -1.0
	values := make([]float64, 5*4)
	for i := range values {
		values[i] = float64(i)
	}
	values[7] = nd
	values[8] = math.NaN()
	// 5 columns, 4 rows, 0.5 degree cells, origin at (-10, 20)
	r, err := NewGrid(5, 4, Transform{A: 0.5, C: -10, E: -0.5, F: 20}, values, &nd)
	require.NoError(t, err)
	return r
}

func TestIndexOf(t *testing.T) {
	t.Parallel()
	r := newTestGrid(t)

	tests := []struct {
		name string
		x, y float64
		want model.GridRef
	}{
		{"origin corner", -10, 20, model.GridRef{Row: 0, Col: 0}},
		{"inside", -8.9, 18.6, model.GridRef{Row: 2, Col: 2}},
		{"last cell", -7.6, 18.1, model.GridRef{Row: 3, Col: 4}},
		{"west", -11, 19, model.GridRef{Row: 2, Col: -1}},
		{"south east", 0, 0, model.GridRef{Row: 4, Col: 5}},
		{"far away", 999999, 999999, model.GridRef{Row: -1, Col: 5}},
		{"nan", math.NaN(), 19, model.GridRef{Row: -1, Col: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, r.IndexOf(tt.x, tt.y))
		})
	}
}

func TestReadCell(t *testing.T) {
	t.Parallel()
	r := newTestGrid(t)

	c, err := r.ReadCell(model.GridRef{Row: 1, Col: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, c.Status)
	assert.Equal(t, int32(6), c.Category)
	assert.InDelta(t, -9.25, c.X, 1e-12)
	assert.InDelta(t, 19.25, c.Y, 1e-12)

	c, err = r.ReadCell(model.GridRef{Row: 1, Col: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, c.Status)
	assert.False(t, c.Valid())

	c, err = r.ReadCell(model.GridRef{Row: 1, Col: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, c.Status, "NaN reads as no data")

	_, err = r.ReadCell(model.GridRef{Row: 4, Col: 0})
	assert.True(t, errors.Is(err, ErrOutOfBounds))
	_, err = r.ReadCell(model.GridRef{Row: 0, Col: -1})
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}

func TestReadWindowClamps(t *testing.T) {
	t.Parallel()
	r := newTestGrid(t)

	data, err := r.ReadWindow(Window{Row: -2, Col: 3, Rows: 4, Cols: 10})
	require.NoError(t, err)
	assert.Equal(t, Window{Row: 0, Col: 3, Rows: 2, Cols: 2}, data.Window)
	require.Len(t, data.Cells, 4)
	assert.Equal(t, model.GridRef{Row: 0, Col: 3}, data.Cells[0].Ref)
	assert.Equal(t, model.GridRef{Row: 1, Col: 4}, data.Cells[3].Ref)
	assert.Len(t, data.ValidCells(), 3)

	data, err = r.ReadWindow(Window{Row: 10, Col: 10, Rows: 3, Cols: 3})
	require.NoError(t, err)
	assert.True(t, data.Window.Empty())
	assert.Empty(t, data.Cells)
}

func TestWindowAround(t *testing.T) {
	t.Parallel()
	r := newTestGrid(t)

	// centre of cell (2, 2) is (-8.75, 18.75)
	w := r.WindowAround(-8.75, 18.75, 0.5)
	assert.Equal(t, Window{Row: 1, Col: 1, Rows: 3, Cols: 3}, w)

	w = r.WindowAround(-8.75, 18.75, 0.1)
	assert.Equal(t, Window{Row: 2, Col: 2, Rows: 1, Cols: 1}, w)

	w = r.WindowAround(-10, 20, 100)
	assert.Equal(t, Window{Row: 0, Col: 0, Rows: 4, Cols: 5}, w)

	w = r.WindowAround(999999, 999999, 1)
	assert.True(t, w.Empty())

	w = r.WindowAround(math.NaN(), 0, 1)
	assert.True(t, w.Empty())
}

func TestNewGridValidation(t *testing.T) {
	t.Parallel()

	_, err := NewGrid(2, 2, Transform{A: 1, E: -1}, []float64{1, 2, 3}, nil)
	assert.Error(t, err)

	_, err = NewGrid(1, 1, Transform{}, []float64{1}, nil)
	assert.Error(t, err)

	r, err := NewGrid(1, 1, Transform{A: 1, E: -1}, []float64{0}, nil)
	require.NoError(t, err)
	_, ok := r.NoData()
	assert.False(t, ok)
	c, err := r.ReadCell(model.GridRef{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, c.Status, "zero is a category without a nodata marker")
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "nodata", StatusNoData.String())
	assert.Equal(t, "read_failure", StatusReadFailure.String())
}
