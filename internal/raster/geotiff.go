package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/biome-cli/internal/model"
)

// TIFF and GeoTIFF tag identifiers.
const (
	tagImageWidth          uint16 = 256
	tagImageLength         uint16 = 257
	tagBitsPerSample       uint16 = 258
	tagCompression         uint16 = 259
	tagStripOffsets        uint16 = 273
	tagSamplesPerPixel     uint16 = 277
	tagRowsPerStrip        uint16 = 278
	tagStripByteCounts     uint16 = 279
	tagPlanarConfiguration uint16 = 284
	tagPredictor           uint16 = 317
	tagTileWidth           uint16 = 322
	tagTileLength          uint16 = 323
	tagTileOffsets         uint16 = 324
	tagTileByteCounts      uint16 = 325
	tagSampleFormat        uint16 = 339
	tagModelPixelScale     uint16 = 33550
	tagModelTiepoint       uint16 = 33922
	tagModelTransformation uint16 = 34264
	tagGDALNoData          uint16 = 42113
)

// Compression schemes.
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	planarChunky           = 1
	planarSeparate         = 2
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatIEEEFloat  = 3
	defaultBlockCacheSize  = 256
	blockTTL               = time.Hour
	maxFieldBytes          = 1 << 28
)

// TIFF field types and their sizes in bytes.
var fieldTypeSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 13: 4, 16: 8, 17: 8, 18: 8,
}

type tiffField struct {
	typ   uint16
	count uint64
	data  []byte
}

// tiffDir is the first image file directory of a TIFF.
type tiffDir struct {
	order  binary.ByteOrder
	fields map[uint16]tiffField
}

func (d tiffDir) uints(tag uint16) ([]uint64, bool) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint64, 0, f.count)
	for i := uint64(0); i < f.count; i++ {
		switch f.typ {
		case 1, 6, 7:
			out = append(out, uint64(f.data[i]))
		case 3, 8:
			out = append(out, uint64(d.order.Uint16(f.data[i*2:])))
		case 4, 9, 13:
			out = append(out, uint64(d.order.Uint32(f.data[i*4:])))
		case 16, 17, 18:
			out = append(out, d.order.Uint64(f.data[i*8:]))
		default:
			return nil, false
		}
	}
	return out, true
}

func (d tiffDir) uint(tag uint16, def uint64) uint64 {
	v, ok := d.uints(tag)
	if !ok || len(v) == 0 {
		return def
	}
	return v[0]
}

func (d tiffDir) floats(tag uint16) ([]float64, bool) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, false
	}
	switch f.typ {
	case 12:
		out := make([]float64, f.count)
		for i := range out {
			out[i] = math.Float64frombits(d.order.Uint64(f.data[i*8:]))
		}
		return out, true
	case 11:
		out := make([]float64, f.count)
		for i := range out {
			out[i] = float64(math.Float32frombits(d.order.Uint32(f.data[i*4:])))
		}
		return out, true
	}
	u, ok := d.uints(tag)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = float64(v)
	}
	return out, true
}

func (d tiffDir) ascii(tag uint16) (string, bool) {
	f, ok := d.fields[tag]
	if !ok || f.typ != 2 {
		return "", false
	}
	return strings.TrimSpace(strings.TrimRight(string(f.data), "\x00")), true
}

// readDir parses the TIFF header and the first IFD. Classic TIFF and BigTIFF
// are supported.
func readDir(r io.ReaderAt) (tiffDir, error) {
	hdr := make([]byte, 16)
	n, err := r.ReadAt(hdr, 0)
	if n < 8 {
		return tiffDir{}, eris.Wrap(err, "raster: tiff header too short")
	}

	var d tiffDir
	switch string(hdr[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return tiffDir{}, eris.New("raster: not a tiff file")
	}

	var big bool
	var off uint64
	switch d.order.Uint16(hdr[2:4]) {
	case 42:
		off = uint64(d.order.Uint32(hdr[4:8]))
	case 43:
		if n < 16 {
			return tiffDir{}, eris.New("raster: bigtiff header too short")
		}
		big = true
		off = d.order.Uint64(hdr[8:16])
	default:
		return tiffDir{}, eris.New("raster: bad tiff magic")
	}

	countLen, entryLen, inline := uint64(2), uint64(12), uint64(4)
	if big {
		countLen, entryLen, inline = 8, 20, 8
	}

	cb := make([]byte, countLen)
	if _, err := r.ReadAt(cb, int64(off)); err != nil {
		return tiffDir{}, eris.Wrap(err, "raster: read ifd count")
	}
	var count uint64
	if big {
		count = d.order.Uint64(cb)
	} else {
		count = uint64(d.order.Uint16(cb))
	}

	entries := make([]byte, count*entryLen)
	if _, err := r.ReadAt(entries, int64(off+countLen)); err != nil {
		return tiffDir{}, eris.Wrap(err, "raster: read ifd entries")
	}

	d.fields = make(map[uint16]tiffField, count)
	for i := uint64(0); i < count; i++ {
		e := entries[i*entryLen : (i+1)*entryLen]
		tag := d.order.Uint16(e[0:2])
		typ := d.order.Uint16(e[2:4])
		var cnt uint64
		var val []byte
		if big {
			cnt = d.order.Uint64(e[4:12])
			val = e[12:20]
		} else {
			cnt = uint64(d.order.Uint32(e[4:8]))
			val = e[8:12]
		}

		size, ok := fieldTypeSize[typ]
		if !ok {
			continue
		}
		total := size * cnt
		if total > maxFieldBytes {
			return tiffDir{}, eris.Errorf("raster: tiff tag %d too large (%d bytes)", tag, total)
		}

		data := make([]byte, total)
		if total <= inline {
			copy(data, val[:total])
		} else {
			var at uint64
			if big {
				at = d.order.Uint64(val)
			} else {
				at = uint64(d.order.Uint32(val))
			}
			if _, err := r.ReadAt(data, int64(at)); err != nil {
				return tiffDir{}, eris.Wrapf(err, "raster: read tiff tag %d", tag)
			}
		}
		d.fields[tag] = tiffField{typ: typ, count: cnt, data: data}
	}
	return d, nil
}

// geoTIFF decodes blocks of the first band on demand.
type geoTIFF struct {
	r     io.ReaderAt
	file  io.Closer
	order binary.ByteOrder

	width, height  int
	blockW, blockH int
	across         int
	tiled          bool
	offsets        []uint64
	counts         []uint64

	compression  uint64
	predictor    uint64
	bytesPer     int
	sampleFormat uint64
	stride       int // samples between consecutive pixels of the first band

	cache  *ccache.Cache[[]float64]
	flight singleflight.Group
}

// OpenGeoTIFF opens a GeoTIFF file. Only the first band is read.
func OpenGeoTIFF(path string, opts Options) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "raster: open %s: %v", path, err)
	}
	r, err := ReadGeoTIFF(f, opts)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	r.src.(*geoTIFF).file = f
	return r, nil
}

// ReadGeoTIFF reads a GeoTIFF from r, which must stay readable until Close.
func ReadGeoTIFF(r io.ReaderAt, opts Options) (*Raster, error) {
	d, err := readDir(r)
	if err != nil {
		return nil, eris.Wrap(model.ErrConfiguration, err.Error())
	}

	g := &geoTIFF{
		r:            r,
		order:        d.order,
		width:        int(d.uint(tagImageWidth, 0)),
		height:       int(d.uint(tagImageLength, 0)),
		compression:  d.uint(tagCompression, compressionNone),
		predictor:    d.uint(tagPredictor, predictorNone),
		bytesPer:     int(d.uint(tagBitsPerSample, 1)) / 8,
		sampleFormat: d.uint(tagSampleFormat, sampleFormatUint),
	}
	if g.width <= 0 || g.height <= 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "raster: tiff missing image dimensions")
	}
	if err := g.checkFormat(); err != nil {
		return nil, err
	}

	spp := int(d.uint(tagSamplesPerPixel, 1))
	planar := d.uint(tagPlanarConfiguration, planarChunky)
	g.stride = 1
	if planar == planarChunky {
		g.stride = spp
	}

	if tw, ok := d.uints(tagTileWidth); ok && len(tw) > 0 {
		g.tiled = true
		g.blockW = int(tw[0])
		g.blockH = int(d.uint(tagTileLength, 0))
		g.offsets, _ = d.uints(tagTileOffsets)
		g.counts, _ = d.uints(tagTileByteCounts)
	} else {
		g.blockW = g.width
		g.blockH = min(int(d.uint(tagRowsPerStrip, uint64(g.height))), g.height)
		g.offsets, _ = d.uints(tagStripOffsets)
		g.counts, _ = d.uints(tagStripByteCounts)
	}
	if g.blockW <= 0 || g.blockH <= 0 {
		return nil, eris.Wrap(model.ErrConfiguration, "raster: tiff has invalid block size")
	}
	g.across = (g.width + g.blockW - 1) / g.blockW
	down := (g.height + g.blockH - 1) / g.blockH
	if len(g.offsets) < g.across*down || len(g.counts) != len(g.offsets) {
		return nil, eris.Wrapf(model.ErrConfiguration, "raster: tiff has %d blocks, want %d", len(g.offsets), g.across*down)
	}

	tf, err := geoTransform(d)
	if err != nil {
		return nil, err
	}

	var nodata float64
	var hasNoData bool
	if s, ok := d.ascii(tagGDALNoData); ok && s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, eris.Wrapf(model.ErrConfiguration, "raster: bad nodata %q", s)
		}
		nodata, hasNoData = v, true
	}

	size := opts.BlockCacheSize
	if size <= 0 {
		size = defaultBlockCacheSize
	}
	g.cache = ccache.New(ccache.Configure[[]float64]().MaxSize(size).ItemsToPrune(uint32(max(size/8, 1))))

	out, err := newRaster(g, g.width, g.height, tf, nodata, hasNoData)
	if err != nil {
		g.cache.Stop()
		return nil, err
	}
	out.closer = g
	return out, nil
}

func (g *geoTIFF) checkFormat() error {
	switch g.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return eris.Wrapf(model.ErrConfiguration, "raster: unsupported tiff compression %d", g.compression)
	}
	if g.predictor != predictorNone && g.predictor != predictorHorizontal {
		return eris.Wrapf(model.ErrConfiguration, "raster: unsupported tiff predictor %d", g.predictor)
	}

	ok := false
	switch g.sampleFormat {
	case sampleFormatUint, sampleFormatInt:
		ok = g.bytesPer == 1 || g.bytesPer == 2 || g.bytesPer == 4
	case sampleFormatIEEEFloat:
		ok = g.bytesPer == 4 || g.bytesPer == 8
	}
	if !ok {
		return eris.Wrapf(model.ErrConfiguration, "raster: unsupported sample format %d with %d bits", g.sampleFormat, g.bytesPer*8)
	}
	return nil
}

// geoTransform derives the affine transform from ModelTransformation or from
// ModelPixelScale plus ModelTiepoint.
func geoTransform(d tiffDir) (Transform, error) {
	if m, ok := d.floats(tagModelTransformation); ok && len(m) >= 16 {
		return Transform{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}, nil
	}

	scale, okScale := d.floats(tagModelPixelScale)
	tie, okTie := d.floats(tagModelTiepoint)
	if !okScale || !okTie || len(scale) < 2 || len(tie) < 6 {
		return Transform{}, eris.Wrap(model.ErrConfiguration, "raster: tiff has no georeferencing")
	}
	sx, sy := scale[0], scale[1]
	i, j, x, y := tie[0], tie[1], tie[3], tie[4]
	return Transform{
		A: sx,
		C: x - i*sx,
		E: -sy,
		F: y + j*sy,
	}, nil
}

func (g *geoTIFF) readRow(row, col int, dst []float64) error {
	by := row / g.blockH
	inRow := row % g.blockH
	for i := 0; i < len(dst); {
		c := col + i
		bx := c / g.blockW
		block, err := g.block(by*g.across + bx)
		if err != nil {
			return err
		}
		x0 := c % g.blockW
		n := min(g.blockW-x0, len(dst)-i)
		start := inRow*g.blockW + x0
		copy(dst[i:i+n], block[start:start+n])
		i += n
	}
	return nil
}

// block returns the decoded first-band values of one block, loading it at most
// once across concurrent callers.
func (g *geoTIFF) block(idx int) ([]float64, error) {
	key := strconv.Itoa(idx)
	if item := g.cache.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		vals, err := g.decodeBlock(idx)
		if err != nil {
			return nil, err
		}
		g.cache.Set(key, vals, blockTTL)
		return vals, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

func (g *geoTIFF) blockRows(idx int) int {
	if g.tiled {
		return g.blockH
	}
	return min(g.blockH, g.height-(idx/g.across)*g.blockH)
}

func (g *geoTIFF) decodeBlock(idx int) ([]float64, error) {
	if idx < 0 || idx >= len(g.offsets) {
		return nil, eris.Errorf("raster: block %d out of range", idx)
	}

	raw := make([]byte, g.counts[idx])
	if n, err := g.r.ReadAt(raw, int64(g.offsets[idx])); n < len(raw) {
		return nil, eris.Wrapf(err, "raster: read block %d", idx)
	}

	rows := g.blockRows(idx)
	rowSamples := g.blockW * g.stride
	need := rowSamples * rows * g.bytesPer
	data, err := g.decompress(raw, need)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decompress block %d", idx)
	}

	if g.predictor == predictorHorizontal {
		for r := 0; r < rows; r++ {
			g.undoPredictor(data[r*rowSamples*g.bytesPer : (r+1)*rowSamples*g.bytesPer])
		}
	}

	out := make([]float64, g.blockW*g.blockH)
	for p := 0; p < g.blockW*rows; p++ {
		out[p] = g.sample(data, p*g.stride)
	}
	return out, nil
}

func (g *geoTIFF) decompress(raw []byte, need int) ([]byte, error) {
	var rd io.Reader
	switch g.compression {
	case compressionNone:
		if len(raw) < need {
			return nil, eris.Errorf("raster: short block (%d of %d bytes)", len(raw), need)
		}
		return raw, nil
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close() //nolint:errcheck
		rd = lr
	default:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close() //nolint:errcheck
		rd = zr
	}

	buf := make([]byte, need)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// undoPredictor reverses horizontal differencing for one row in place.
func (g *geoTIFF) undoPredictor(row []byte) {
	s := g.stride
	switch g.bytesPer {
	case 1:
		for i := s; i < len(row); i++ {
			row[i] += row[i-s]
		}
	case 2:
		for i := s; i < len(row)/2; i++ {
			v := g.order.Uint16(row[i*2:]) + g.order.Uint16(row[(i-s)*2:])
			g.order.PutUint16(row[i*2:], v)
		}
	case 4:
		for i := s; i < len(row)/4; i++ {
			v := g.order.Uint32(row[i*4:]) + g.order.Uint32(row[(i-s)*4:])
			g.order.PutUint32(row[i*4:], v)
		}
	case 8:
		for i := s; i < len(row)/8; i++ {
			v := g.order.Uint64(row[i*8:]) + g.order.Uint64(row[(i-s)*8:])
			g.order.PutUint64(row[i*8:], v)
		}
	}
}

// sample decodes the i-th sample of data.
func (g *geoTIFF) sample(data []byte, i int) float64 {
	b := data[i*g.bytesPer:]
	switch g.sampleFormat {
	case sampleFormatIEEEFloat:
		if g.bytesPer == 4 {
			return float64(math.Float32frombits(g.order.Uint32(b)))
		}
		return math.Float64frombits(g.order.Uint64(b))
	case sampleFormatInt:
		switch g.bytesPer {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(g.order.Uint16(b)))
		default:
			return float64(int32(g.order.Uint32(b)))
		}
	default:
		switch g.bytesPer {
		case 1:
			return float64(b[0])
		case 2:
			return float64(g.order.Uint16(b))
		default:
			return float64(g.order.Uint32(b))
		}
	}
}

// Close stops the block cache and closes the file.
func (g *geoTIFF) Close() error {
	g.cache.Stop()
	if g.file != nil {
		return g.file.Close()
	}
	return nil
}
