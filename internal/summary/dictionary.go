// Package summary post-processes a merged result table: it joins categories to
// labels from a reclassification dictionary and tallies labels per entity.
package summary

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/input"
	"github.com/sells-group/biome-cli/internal/model"
)

// Aggregation levels written to the level column.
const (
	LevelNoData       = "No data"
	LevelReclassified = "Reclassified"
	LevelIII          = "Level III"
)

// Label is one dictionary entry.
type Label struct {
	Original     string
	Reclassified string
}

// Dictionary maps category codes to labels.
type Dictionary struct {
	labels map[string]Label
}

// NewDictionary builds a dictionary from code to label pairs.
func NewDictionary(labels map[string]Label) *Dictionary {
	d := &Dictionary{labels: make(map[string]Label, len(labels))}
	for code, l := range labels {
		d.labels[CodeKey(code)] = l
	}
	return d
}

// LoadDictionary reads a dictionary from an XLSX workbook or a CSV file. The
// first row is a header. Column 0 holds the code, column 1 the original label,
// and column 2 the reclassified label.
func LoadDictionary(ctx context.Context, path, sheet string) (*Dictionary, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		_, rows, err = input.ReadXLSX(ctx, path, sheet)
	case ".csv", ".txt":
		_, rows, err = input.ReadCSV(ctx, path, ',')
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "summary: unsupported dictionary %s", path)
	}
	if err != nil {
		return nil, eris.Wrap(err, "summary: load dictionary")
	}

	labels := make(map[string]Label, len(rows))
	for _, row := range rows {
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		l := Label{Original: strings.TrimSpace(row[1])}
		if len(row) > 2 {
			l.Reclassified = strings.TrimSpace(row[2])
		}
		labels[row[0]] = l
	}
	if len(labels) == 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "summary: dictionary %s has no entries", path)
	}

	zap.L().Info("summary: dictionary loaded", zap.String("path", path), zap.Int("codes", len(labels)))
	return NewDictionary(labels), nil
}

// Len returns the number of codes.
func (d *Dictionary) Len() int { return len(d.labels) }

// Lookup returns the labels and level for a category cell. An empty category
// is "No data"; a code present in the dictionary is "Reclassified" even when
// its labels are empty; anything else is "Level III".
func (d *Dictionary) Lookup(category string) (Label, string) {
	if strings.TrimSpace(category) == "" {
		return Label{}, LevelNoData
	}
	l, ok := d.labels[CodeKey(category)]
	if !ok {
		return Label{}, LevelIII
	}
	return l, LevelReclassified
}

// CodeKey normalises a code so "7", "7.0" and " 7 " compare equal.
func CodeKey(s string) string {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
