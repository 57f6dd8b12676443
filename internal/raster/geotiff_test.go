package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biome-cli/internal/model"
)

type tiffLayout struct {
	width, height int
	values        []float64
	bits          int
	format        int // 1 uint, 2 int, 3 float
	compression   int
	predictor     int
	tileW, tileH  int // zero means strips
	rowsPerStrip  int
	nodata        string
	bigEndian     bool
	matrix        bool // write ModelTransformation instead of scale and tiepoint
	skipGeo       bool
}

type tiffEntry struct {
	tag  uint16
	typ  uint16
	cnt  uint32
	data []byte
}

// encodeTIFF writes a single-band classic TIFF with the given layout.
func encodeTIFF(t *testing.T, s tiffLayout) []byte {
	t.Helper()

	var order binary.ByteOrder = binary.LittleEndian
	magic := []byte("II")
	if s.bigEndian {
		order = binary.BigEndian
		magic = []byte("MM")
	}
	if s.bits == 0 {
		s.bits = 8
	}
	if s.format == 0 {
		s.format = 1
	}
	if s.compression == 0 {
		s.compression = 1
	}

	bw, bh := s.width, s.rowsPerStrip
	if bh == 0 {
		bh = s.height
	}
	tiled := s.tileW > 0
	if tiled {
		bw, bh = s.tileW, s.tileH
	}
	across := (s.width + bw - 1) / bw
	down := (s.height + bh - 1) / bh

	var body bytes.Buffer
	body.Write(make([]byte, 8))
	var offsets, counts []uint32
	for by := 0; by < down; by++ {
		for bx := 0; bx < across; bx++ {
			rows := bh
			if !tiled {
				rows = min(bh, s.height-by*bh)
			}
			raw := encodeBlock(order, s, bx*bw, by*bh, bw, rows)
			offsets = append(offsets, uint32(body.Len()))
			counts = append(counts, uint32(len(raw)))
			body.Write(raw)
			if body.Len()%2 == 1 {
				body.WriteByte(0)
			}
		}
	}

	short := func(v ...uint16) []byte {
		b := make([]byte, 2*len(v))
		for i, x := range v {
			order.PutUint16(b[i*2:], x)
		}
		return b
	}
	long := func(v ...uint32) []byte {
		b := make([]byte, 4*len(v))
		for i, x := range v {
			order.PutUint32(b[i*4:], x)
		}
		return b
	}
	double := func(v ...float64) []byte {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			order.PutUint64(b[i*8:], math.Float64bits(x))
		}
		return b
	}

	entries := []tiffEntry{
		{tagImageWidth, 4, 1, long(uint32(s.width))},
		{tagImageLength, 4, 1, long(uint32(s.height))},
		{tagBitsPerSample, 3, 1, short(uint16(s.bits))},
		{tagCompression, 3, 1, short(uint16(s.compression))},
		{262, 3, 1, short(1)},
		{tagSamplesPerPixel, 3, 1, short(1)},
		{tagSampleFormat, 3, 1, short(uint16(s.format))},
	}
	if s.predictor != 0 {
		entries = append(entries, tiffEntry{tagPredictor, 3, 1, short(uint16(s.predictor))})
	}
	if tiled {
		entries = append(entries,
			tiffEntry{tagTileWidth, 4, 1, long(uint32(bw))},
			tiffEntry{tagTileLength, 4, 1, long(uint32(bh))},
			tiffEntry{tagTileOffsets, 4, uint32(len(offsets)), long(offsets...)},
			tiffEntry{tagTileByteCounts, 4, uint32(len(counts)), long(counts...)},
		)
	} else {
		entries = append(entries,
			tiffEntry{tagStripOffsets, 4, uint32(len(offsets)), long(offsets...)},
			tiffEntry{tagRowsPerStrip, 4, 1, long(uint32(bh))},
			tiffEntry{tagStripByteCounts, 4, uint32(len(counts)), long(counts...)},
		)
	}
	switch {
	case s.skipGeo:
	case s.matrix:
		entries = append(entries, tiffEntry{tagModelTransformation, 12, 16, double(
			0.5, 0, 0, -10,
			0, -0.25, 0, 40,
			0, 0, 0, 0,
			0, 0, 0, 1,
		)})
	default:
		entries = append(entries,
			tiffEntry{tagModelPixelScale, 12, 3, double(1, 1, 0)},
			tiffEntry{tagModelTiepoint, 12, 6, double(0, 0, 0, 0, float64(s.height), 0)},
		)
	}
	if s.nodata != "" {
		nd := append([]byte(s.nodata), 0)
		entries = append(entries, tiffEntry{tagGDALNoData, 2, uint32(len(nd)), nd})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOff := uint32(body.Len())
	extraOff := ifdOff + 2 + 12*uint32(len(entries)) + 4
	var ifd, extra bytes.Buffer
	ifd.Write(short(uint16(len(entries))))
	for _, e := range entries {
		ifd.Write(short(e.tag, e.typ))
		ifd.Write(long(e.cnt))
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			ifd.Write(v)
			continue
		}
		ifd.Write(long(extraOff + uint32(extra.Len())))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	ifd.Write(long(0))

	out := body.Bytes()
	copy(out[0:2], magic)
	order.PutUint16(out[2:4], 42)
	order.PutUint32(out[4:8], ifdOff)
	out = append(out, ifd.Bytes()...)
	return append(out, extra.Bytes()...)
}

func encodeBlock(order binary.ByteOrder, s tiffLayout, x0, y0, bw, rows int) []byte {
	bpp := s.bits / 8
	buf := make([]byte, bw*rows*bpp)
	ints := make([]uint64, bw)
	for r := 0; r < rows; r++ {
		for c := 0; c < bw; c++ {
			var v float64
			if x0+c < s.width && y0+r < s.height {
				v = s.values[(y0+r)*s.width+x0+c]
			}
			ints[c] = sampleBits(s, v)
		}
		if s.predictor == 2 {
			for c := bw - 1; c > 0; c-- {
				ints[c] -= ints[c-1]
			}
		}
		for c := 0; c < bw; c++ {
			b := buf[(r*bw+c)*bpp:]
			switch bpp {
			case 1:
				b[0] = byte(ints[c])
			case 2:
				order.PutUint16(b, uint16(ints[c]))
			case 4:
				order.PutUint32(b, uint32(ints[c]))
			case 8:
				order.PutUint64(b, ints[c])
			}
		}
	}

	switch s.compression {
	case compressionDeflate, compressionDeflateOld:
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		_, _ = w.Write(buf)
		_ = w.Close()
		return z.Bytes()
	case compressionLZW:
		return lzwLiterals(buf)
	default:
		return buf
	}
}

func sampleBits(s tiffLayout, v float64) uint64 {
	switch {
	case s.format == 3 && s.bits == 32:
		return uint64(math.Float32bits(float32(v)))
	case s.format == 3:
		return math.Float64bits(v)
	case s.format == 2:
		return uint64(int64(v))
	default:
		return uint64(v)
	}
}

// lzwLiterals encodes data as a TIFF LZW stream made only of literal codes,
// clearing the table often enough that the code width never grows past 9 bits.
func lzwLiterals(data []byte) []byte {
	var out []byte
	var acc uint32
	var nbits uint
	emit := func(code uint32) {
		acc = acc<<9 | code
		nbits += 9
		for nbits >= 8 {
			out = append(out, byte(acc>>(nbits-8)))
			nbits -= 8
		}
		acc &= (1 << nbits) - 1
	}
	emit(256)
	for i, b := range data {
		if i > 0 && i%200 == 0 {
			emit(256)
		}
		emit(uint32(b))
	}
	emit(257)
	if nbits > 0 {
		out = append(out, byte(acc<<(8-nbits)))
	}
	return out
}

func seqValues(n int, f func(i int) float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = f(i)
	}
	return v
}

func TestGeoTIFFFormats(t *testing.T) {
	t.Parallel()

	const w, h = 10, 7
	tests := []struct {
		name string
		layout tiffLayout
	}{
		{"uint8 strips none", tiffLayout{bits: 8, format: 1, rowsPerStrip: 3}},
		{"uint8 strips lzw", tiffLayout{bits: 8, format: 1, compression: compressionLZW, rowsPerStrip: 2}},
		{"uint8 tiles deflate predictor", tiffLayout{bits: 8, format: 1, compression: compressionDeflate, predictor: 2, tileW: 4, tileH: 4}},
		{"uint16 tiles lzw predictor", tiffLayout{bits: 16, format: 1, compression: compressionLZW, predictor: 2, tileW: 8, tileH: 2}},
		{"int16 strips deflate", tiffLayout{bits: 16, format: 2, compression: compressionDeflateOld, rowsPerStrip: 4}},
		{"int32 tiles predictor", tiffLayout{bits: 32, format: 2, predictor: 2, tileW: 16, tileH: 16}},
		{"float32 strips deflate", tiffLayout{bits: 32, format: 3, compression: compressionDeflate}},
		{"float64 tiles lzw", tiffLayout{bits: 64, format: 3, compression: compressionLZW, tileW: 4, tileH: 8}},
		{"uint8 big endian", tiffLayout{bits: 8, format: 1, bigEndian: true, rowsPerStrip: 1}},
		{"int16 big endian predictor", tiffLayout{bits: 16, format: 2, bigEndian: true, predictor: 2, compression: compressionDeflate}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			layout := tt.layout
			layout.width, layout.height = w, h
			layout.values = seqValues(w*h, func(i int) float64 {
				v := float64(i%37 + 1)
				if layout.format == 2 && i%3 == 0 {
					v = -v
				}
				return v
			})

			r, err := ReadGeoTIFF(bytes.NewReader(encodeTIFF(t, layout)), Options{BlockCacheSize: 2})
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })

			assert.Equal(t, w, r.Width())
			assert.Equal(t, h, r.Height())

			data, err := r.ReadWindow(Window{Row: 0, Col: 0, Rows: h, Cols: w})
			require.NoError(t, err)
			require.Len(t, data.Cells, w*h)
			for i, c := range data.Cells {
				require.Equal(t, StatusOK, c.Status, "cell %d", i)
				require.Equal(t, int32(layout.values[i]), c.Category, "cell %d", i)
			}

			c, err := r.ReadCell(model.GridRef{Row: 6, Col: 9})
			require.NoError(t, err)
			assert.Equal(t, int32(layout.values[6*w+9]), c.Category)
		})
	}
}

func TestGeoTIFFGeoreferencing(t *testing.T) {
	t.Parallel()

	layout := tiffLayout{width: 4, height: 3, values: seqValues(12, func(i int) float64 { return float64(i) })}
	r, err := ReadGeoTIFF(bytes.NewReader(encodeTIFF(t, layout)), Options{})
	require.NoError(t, err)

	assert.Equal(t, Transform{A: 1, E: -1, F: 3}, r.Transform())
	x, y := r.Transform().CellCenter(0, 0)
	assert.InDelta(t, 0.5, x, 1e-12)
	assert.InDelta(t, 2.5, y, 1e-12)

	layout.matrix = true
	r, err = ReadGeoTIFF(bytes.NewReader(encodeTIFF(t, layout)), Options{})
	require.NoError(t, err)
	assert.Equal(t, Transform{A: 0.5, C: -10, E: -0.25, F: 40}, r.Transform())
	assert.Equal(t, model.GridRef{Row: 2, Col: 3}, r.IndexOf(-8.1, 39.4))
}

func TestGeoTIFFNoData(t *testing.T) {
	t.Parallel()

	values := seqValues(9, func(i int) float64 { return 5 })
	values[4] = 255
	layout := tiffLayout{width: 3, height: 3, values: values, nodata: "255"}

	r, err := ReadGeoTIFF(bytes.NewReader(encodeTIFF(t, layout)), Options{})
	require.NoError(t, err)

	nd, ok := r.NoData()
	assert.True(t, ok)
	assert.Equal(t, 255.0, nd)

	c, err := r.ReadCell(model.GridRef{Row: 1, Col: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, c.Status)

	data, err := r.ReadWindow(Window{Rows: 3, Cols: 3})
	require.NoError(t, err)
	assert.Len(t, data.ValidCells(), 8)
}

func TestGeoTIFFRejectsUnsupported(t *testing.T) {
	t.Parallel()

	base := tiffLayout{width: 2, height: 2, values: []float64{1, 2, 3, 4}}
	tests := []struct {
		name   string
		mutate func(*tiffLayout)
	}{
		{"packbits compression", func(s *tiffLayout) { s.compression = 32773 }},
		{"floating point predictor", func(s *tiffLayout) { s.predictor = 3 }},
		{"no georeferencing", func(s *tiffLayout) { s.skipGeo = true }},
		{"bad nodata", func(s *tiffLayout) { s.nodata = "abc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			layout := base
			tt.mutate(&layout)
			if layout.compression == 32773 {
				// encode uncompressed, then patch the tag value
				layout.compression = 1
				raw := encodeTIFF(t, layout)
				raw = patchShortTag(t, raw, tagCompression, 32773)
				_, err := ReadGeoTIFF(bytes.NewReader(raw), Options{})
				require.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrConfiguration))
				return
			}
			_, err := ReadGeoTIFF(bytes.NewReader(encodeTIFF(t, layout)), Options{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfiguration))
		})
	}
}

func TestGeoTIFFNotATIFF(t *testing.T) {
	t.Parallel()

	_, err := ReadGeoTIFF(bytes.NewReader([]byte("definitely not a tiff")), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

// patchShortTag rewrites the inline SHORT value of tag in a little-endian TIFF.
func patchShortTag(t *testing.T, raw []byte, tag uint16, v uint16) []byte {
	t.Helper()
	off := binary.LittleEndian.Uint32(raw[4:8])
	n := binary.LittleEndian.Uint16(raw[off:])
	for i := uint32(0); i < uint32(n); i++ {
		e := raw[off+2+i*12:]
		if binary.LittleEndian.Uint16(e) == tag {
			binary.LittleEndian.PutUint16(e[8:], v)
			return raw
		}
	}
	t.Fatalf("tag %d not found", tag)
	return nil
}

func TestGeoTIFFConcurrentReads(t *testing.T) {
	t.Parallel()

	const w, h = 32, 32
	layout := tiffLayout{
		width: w, height: h, bits: 16, format: 1,
		compression: compressionDeflate, predictor: 2, tileW: 8, tileH: 8,
		values: seqValues(w*h, func(i int) float64 { return float64(i) }),
	}
	// a tiny cache forces evictions while goroutines share blocks
	r, err := ReadGeoTIFF(bytes.NewReader(encodeTIFF(t, layout)), Options{BlockCacheSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				win := Window{Row: (g + k) % (h - 5), Col: (g * 3) % (w - 5), Rows: 5, Cols: 5}
				data, err := r.ReadWindow(win)
				if err != nil {
					errs <- err
					return
				}
				for _, c := range data.Cells {
					want := int32(c.Ref.Row*w + c.Ref.Col)
					if c.Category != want {
						errs <- fmt.Errorf("cell %+v = %d, want %d", c.Ref, c.Category, want)
						return
					}
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestOpenDispatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tifPath := filepath.Join(dir, "biomes.tif")
	layout := tiffLayout{width: 2, height: 2, values: []float64{1, 2, 3, 4}}
	require.NoError(t, os.WriteFile(tifPath, encodeTIFF(t, layout), 0o644))

	r, err := Open(tifPath, Options{BlockCacheSize: 4})
	require.NoError(t, err)
	c, err := r.ReadCell(model.GridRef{Row: 1, Col: 0})
	require.NoError(t, err)
	assert.Equal(t, int32(3), c.Category)
	require.NoError(t, r.Close())

	ascPath := filepath.Join(dir, "biomes.asc")
	require.NoError(t, os.WriteFile(ascPath, []byte("ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n9\n"), 0o644))
	r, err = Open(ascPath, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Width())
	require.NoError(t, r.Close())

	_, err = Open(filepath.Join(dir, "missing.tif"), Options{})
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	imgPath := filepath.Join(dir, "biomes.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("x"), 0o644))
	_, err = Open(imgPath, Options{})
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}
