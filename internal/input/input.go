// Package input reads occurrence tables (CSV, XLSX, ESRI shapefile, or a ZIP
// holding one of them) into points for the resolver.
package input

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/biome-cli/internal/model"
)

// Format identifies an input container.
type Format string

// Supported formats.
const (
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shp"
	FormatZIP       Format = "zip"
)

// DetectFormat infers the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".shp":
		return FormatShapefile, nil
	case ".zip":
		return FormatZIP, nil
	default:
		return "", eris.Wrapf(model.ErrConfiguration, "input: unsupported file type %q", filepath.Ext(path))
	}
}

// Columns names the logical columns in the source table.
type Columns struct {
	EntityID  string `mapstructure:"entity_id"`
	Longitude string `mapstructure:"longitude"`
	Latitude  string `mapstructure:"latitude"`
}

// DefaultColumns matches the resolver's own output schema.
var DefaultColumns = Columns{EntityID: "entity_id", Longitude: "longitude", Latitude: "latitude"}

func (c Columns) withDefaults() Columns {
	if c.EntityID == "" {
		c.EntityID = DefaultColumns.EntityID
	}
	if c.Longitude == "" {
		c.Longitude = DefaultColumns.Longitude
	}
	if c.Latitude == "" {
		c.Latitude = DefaultColumns.Latitude
	}
	return c
}

// Options configures Read.
type Options struct {
	Columns   Columns
	Format    Format // empty means detect from the extension
	Delimiter rune   // CSV only, default ','
	Sheet     string // XLSX only, default first sheet
	TempDir   string // ZIP extraction root, default os.TempDir()
}

// Table is a fully loaded input.
type Table struct {
	Extra     []string // pass-through column names in input order
	Points    []model.Point
	Malformed int
}

// Read loads every record of the table at path.
func Read(ctx context.Context, path string, opts Options) (*Table, error) {
	opts.Columns = opts.Columns.withDefaults()
	format := opts.Format
	if format == "" {
		f, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	var (
		t   *Table
		err error
	)
	switch format {
	case FormatCSV:
		t, err = readCSVPoints(ctx, path, opts)
	case FormatXLSX:
		t, err = readXLSXPoints(ctx, path, opts)
	case FormatShapefile:
		t, err = readShapefile(ctx, path, opts.Columns)
	case FormatZIP:
		t, err = readZIP(ctx, path, opts)
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "input: unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("input: table loaded",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("records", len(t.Points)),
		zap.Int("malformed", t.Malformed),
	)
	return t, nil
}

// builder turns header plus string rows into points.
type builder struct {
	entity, lon, lat int
	extraIdx         []int
	table            *Table
}

func newBuilder(header []string, cols Columns) (*builder, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}

	b := &builder{table: &Table{}}
	var missing []string
	lookup := func(name string) int {
		i, ok := idx[normalizeHeader(name)]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	b.entity = lookup(cols.EntityID)
	b.lon = lookup(cols.Longitude)
	b.lat = lookup(cols.Latitude)
	if len(missing) > 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "input: missing required columns %s", strings.Join(missing, ", "))
	}

	for i, h := range header {
		if i == b.entity || i == b.lon || i == b.lat {
			continue
		}
		b.extraIdx = append(b.extraIdx, i)
		b.table.Extra = append(b.table.Extra, strings.TrimSpace(h))
	}
	return b, nil
}

func (b *builder) add(row []string) {
	field := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	p := model.Point{EntityID: NormalizeID(field(b.entity))}
	lon, lonOK := ParseCoord(field(b.lon))
	lat, latOK := ParseCoord(field(b.lat))
	p.Longitude, p.Latitude = lon, lat
	if !lonOK || !latOK {
		p.Diagnostic = model.DiagMalformedCoordinate
		b.table.Malformed++
	}
	if len(b.extraIdx) > 0 {
		p.Extra = make([]string, len(b.extraIdx))
		for j, i := range b.extraIdx {
			p.Extra[j] = field(i)
		}
	}
	b.table.Points = append(b.table.Points, p)
}

// NormalizeID trims an entity id and puts it in Unicode NFC so that the same
// name typed on different systems compares equal.
func NormalizeID(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ParseCoord parses a decimal coordinate. Unparseable or non-finite input
// returns NaN and false.
func ParseCoord(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// decimal comma, e.g. "-47,93"
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			v, err = strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		}
		if err != nil {
			return math.NaN(), false
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.TrimSpace(strings.TrimRight(h, "\x00")))
}
