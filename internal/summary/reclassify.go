package summary

import (
	"context"
	"encoding/csv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/input"
	"github.com/sells-group/biome-cli/internal/model"
)

// Columns appended by Reclassify.
var ReclassifyColumns = []string{"biome_original", "biome_reclassified", "biome_level"}

// ReclassifyResult counts rows per level.
type ReclassifyResult struct {
	Rows   int
	Levels map[string]int
}

// Reclassify copies the table at src to dest with the labels and level of the
// category column appended to each row.
func Reclassify(ctx context.Context, src, dest, categoryColumn string, d *Dictionary) (ReclassifyResult, error) {
	if categoryColumn == "" {
		categoryColumn = "category"
	}
	header, rows, err := input.ReadCSV(ctx, src, ',')
	if err != nil {
		return ReclassifyResult{}, err
	}
	col := columnIndex(header, categoryColumn)
	if col < 0 {
		return ReclassifyResult{}, eris.Wrapf(model.ErrConfiguration, "summary: %s has no %q column", src, categoryColumn)
	}

	res := ReclassifyResult{Levels: map[string]int{}}
	out := append(append([]string(nil), header...), ReclassifyColumns...)
	err = checkpoint.WriteTable(dest, out, func(w *csv.Writer) error {
		for _, row := range rows {
			category := ""
			if col < len(row) {
				category = row[col]
			}
			label, level := d.Lookup(category)
			res.Rows++
			res.Levels[level]++
			rec := make([]string, 0, len(header)+len(ReclassifyColumns))
			rec = append(rec, row...)
			for len(rec) < len(header) {
				rec = append(rec, "")
			}
			rec = append(rec, label.Original, label.Reclassified, level)
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReclassifyResult{}, eris.Wrap(err, "summary: write reclassified table")
	}

	zap.L().Info("summary: reclassified",
		zap.String("dest", dest),
		zap.Int("rows", res.Rows),
		zap.Int("reclassified", res.Levels[LevelReclassified]),
		zap.Int("level_iii", res.Levels[LevelIII]),
		zap.Int("no_data", res.Levels[LevelNoData]),
	)
	return res, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), name) {
			return i
		}
	}
	return -1
}
