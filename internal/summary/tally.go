package summary

import (
	"context"
	"encoding/csv"
	"math"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/input"
	"github.com/sells-group/biome-cli/internal/model"
)

// Column prefixes and the total column of a tally table.
const (
	CountPrefix   = "COUNT_"
	PercentPrefix = "PERCENT_"
	TotalColumn   = "TOTAL"
)

// TallyOptions configures Count.
type TallyOptions struct {
	EntityColumn string // default entity_id
	LabelColumn  string // default biome_reclassified

	// Remap relabels values before counting. Values missing from a non-empty
	// Remap become Fallback.
	Remap    map[string]string
	Fallback string   // default "Other"
	Exclude  []string // labels dropped after remapping
}

// EntityTally holds the label counts of one entity.
type EntityTally struct {
	EntityID string
	Counts   map[string]int
	Total    int
}

// Percent returns the share of label among the entity's rows, rounded to two
// decimals.
func (e EntityTally) Percent(label string) float64 {
	if e.Total == 0 {
		return 0
	}
	return math.Round(float64(e.Counts[label])/float64(e.Total)*100*100) / 100
}

// Tally is the per-entity label distribution of a table.
type Tally struct {
	EntityColumn string
	Labels       []string // sorted
	Entities     []EntityTally
	Dropped      int // rows with an empty or excluded label
}

// Count tallies labels per entity in the CSV table at src. Rows with an empty
// label are dropped.
func Count(ctx context.Context, src string, opts TallyOptions) (*Tally, error) {
	if opts.EntityColumn == "" {
		opts.EntityColumn = input.DefaultColumns.EntityID
	}
	if opts.LabelColumn == "" {
		opts.LabelColumn = ReclassifyColumns[1]
	}
	if opts.Fallback == "" {
		opts.Fallback = "Other"
	}

	header, rows, err := input.ReadCSV(ctx, src, ',')
	if err != nil {
		return nil, err
	}
	ec, lc := columnIndex(header, opts.EntityColumn), columnIndex(header, opts.LabelColumn)
	var missing []string
	if ec < 0 {
		missing = append(missing, opts.EntityColumn)
	}
	if lc < 0 {
		missing = append(missing, opts.LabelColumn)
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "summary: %s is missing columns %s", src, strings.Join(missing, ", "))
	}

	t := &Tally{EntityColumn: opts.EntityColumn}
	byEntity := map[string]*EntityTally{}
	labels := map[string]bool{}
	for _, row := range rows {
		label := strings.TrimSpace(field(row, lc))
		if label != "" && len(opts.Remap) > 0 {
			if to, ok := opts.Remap[label]; ok {
				label = to
			} else {
				label = opts.Fallback
			}
		}
		if label == "" || slices.Contains(opts.Exclude, label) {
			t.Dropped++
			continue
		}

		id := field(row, ec)
		et := byEntity[id]
		if et == nil {
			et = &EntityTally{EntityID: id, Counts: map[string]int{}}
			byEntity[id] = et
		}
		et.Counts[label]++
		et.Total++
		labels[label] = true
	}

	for l := range labels {
		t.Labels = append(t.Labels, l)
	}
	sort.Strings(t.Labels)
	for _, et := range byEntity {
		t.Entities = append(t.Entities, *et)
	}
	sort.Slice(t.Entities, func(i, j int) bool { return t.Entities[i].EntityID < t.Entities[j].EntityID })

	zap.L().Info("summary: tallied",
		zap.String("src", src),
		zap.Int("entities", len(t.Entities)),
		zap.Int("labels", len(t.Labels)),
		zap.Int("dropped", t.Dropped),
	)
	return t, nil
}

// Header returns the entity column, one count column per label, one percent
// column per label, and the total.
func (t *Tally) Header() []string {
	h := make([]string, 0, 2+2*len(t.Labels))
	h = append(h, t.EntityColumn)
	for _, l := range t.Labels {
		h = append(h, CountPrefix+l)
	}
	for _, l := range t.Labels {
		h = append(h, PercentPrefix+l)
	}
	return append(h, TotalColumn)
}

// Row renders one entity in Header order.
func (t *Tally) Row(e EntityTally) []string {
	row := make([]string, 0, 2+2*len(t.Labels))
	row = append(row, e.EntityID)
	for _, l := range t.Labels {
		row = append(row, strconv.Itoa(e.Counts[l]))
	}
	for _, l := range t.Labels {
		row = append(row, strconv.FormatFloat(e.Percent(l), 'f', -1, 64))
	}
	return append(row, strconv.Itoa(e.Total))
}

// Write saves the tally as CSV at dest.
func (t *Tally) Write(dest string) error {
	err := checkpoint.WriteTable(dest, t.Header(), func(w *csv.Writer) error {
		for _, e := range t.Entities {
			if err := w.Write(t.Row(e)); err != nil {
				return err
			}
		}
		return nil
	})
	return eris.Wrap(err, "summary: write tally")
}

// LoadRemap reads a two-column relabel table (XLSX or CSV, header row first):
// column 0 is the label to replace and column 1 its replacement.
func LoadRemap(ctx context.Context, path, sheet string) (map[string]string, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		_, rows, err = input.ReadXLSX(ctx, path, sheet)
	case ".csv", ".txt":
		_, rows, err = input.ReadCSV(ctx, path, ',')
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "summary: unsupported relabel table %s", path)
	}
	if err != nil {
		return nil, eris.Wrap(err, "summary: load relabel table")
	}

	remap := make(map[string]string, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		from := strings.TrimSpace(row[0])
		if from == "" {
			continue
		}
		remap[from] = strings.TrimSpace(row[1])
	}
	return remap, nil
}

func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
