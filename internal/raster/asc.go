package raster

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/model"
)

// ascHeader holds the Esri ASCII grid header.
type ascHeader struct {
	ncols, nrows int
	xll, yll     float64
	centered     bool
	cellSize     float64
	nodata       float64
	hasNoData    bool
}

// OpenASC loads an Esri ASCII grid into memory.
func OpenASC(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "raster: open %s: %v", path, err)
	}
	defer f.Close() //nolint:errcheck

	return ReadASC(f)
}

// ReadASC parses an Esri ASCII grid from r.
func ReadASC(r io.Reader) (*Raster, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	var h ascHeader
	var first string
	seen := map[string]bool{}
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("raster: asc header %q has no value", key)
		}
		val := sc.Text()
		if err := h.set(key, val); err != nil {
			return nil, err
		}
		seen[key] = true
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "raster: asc scan header")
	}
	if h.ncols <= 0 || h.nrows <= 0 || h.cellSize <= 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "raster: asc header missing ncols, nrows or cellsize")
	}
	if !(seen["xllcorner"] || seen["xllcenter"]) || !(seen["yllcorner"] || seen["yllcenter"]) {
		return nil, eris.Wrap(model.ErrConfiguration, "raster: asc header missing lower-left origin")
	}

	values := make([]float64, 0, h.ncols*h.nrows)
	if first != "" {
		v, _ := strconv.ParseFloat(first, 64)
		values = append(values, v)
	}
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: asc value %d", len(values))
		}
		values = append(values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "raster: asc scan values")
	}
	if len(values) != h.ncols*h.nrows {
		return nil, eris.Errorf("raster: asc has %d values, want %d", len(values), h.ncols*h.nrows)
	}

	var nodata *float64
	if h.hasNoData {
		nodata = &h.nodata
	}
	return NewGrid(h.ncols, h.nrows, h.transform(), values, nodata)
}

func (h *ascHeader) set(key, val string) error {
	var err error
	switch key {
	case "ncols":
		h.ncols, err = strconv.Atoi(val)
	case "nrows":
		h.nrows, err = strconv.Atoi(val)
	case "xllcorner", "xllcenter":
		h.centered = key == "xllcenter"
		h.xll, err = strconv.ParseFloat(val, 64)
	case "yllcorner", "yllcenter":
		h.yll, err = strconv.ParseFloat(val, 64)
	case "cellsize":
		h.cellSize, err = strconv.ParseFloat(val, 64)
	case "nodata_value":
		h.nodata, err = strconv.ParseFloat(val, 64)
		h.hasNoData = true
	default:
		return eris.Errorf("raster: unknown asc header %q", key)
	}
	if err != nil {
		return eris.Wrapf(err, "raster: asc header %s", key)
	}
	return nil
}

func (h ascHeader) transform() Transform {
	x0, y0 := h.xll, h.yll
	if h.centered {
		x0 -= h.cellSize / 2
		y0 -= h.cellSize / 2
	}
	return Transform{
		A: h.cellSize,
		C: x0,
		E: -h.cellSize,
		F: y0 + float64(h.nrows)*h.cellSize,
	}
}
