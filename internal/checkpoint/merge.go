package checkpoint

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/model"
)

// MergeResult summarises a merge.
type MergeResult struct {
	Path     string
	Segments int
	Rows     int
	Stats    model.Stats
}

// Merge concatenates every published segment in dir, in index order, into dest
// with a single header. Segments must share the same columns.
func Merge(dir, dest string) (MergeResult, error) {
	st, err := Scan(dir)
	if err != nil {
		return MergeResult{}, err
	}
	if len(st.Segments) == 0 {
		return MergeResult{}, eris.Errorf("checkpoint: no segments in %s", dir)
	}

	header, err := ReadHeader(st.Segments[0].Path)
	if err != nil {
		return MergeResult{}, err
	}
	for _, seg := range st.Segments[1:] {
		h, err := ReadHeader(seg.Path)
		if err != nil {
			return MergeResult{}, err
		}
		if !slices.Equal(h, header) {
			return MergeResult{}, eris.Errorf("checkpoint: %s has columns %v, want %v", filepath.Base(seg.Path), h, header)
		}
	}

	res := MergeResult{Path: dest, Segments: len(st.Segments)}
	err = writeTable(dest+tmpExt, dest, header, func(w *csv.Writer) error {
		for _, seg := range st.Segments {
			err := ReadTable(seg.Path, func(_ []string, r model.Result) error {
				res.Rows++
				res.Stats = res.Stats.Add(model.Count(r))
				return w.Write(EncodeRow(r))
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MergeResult{}, eris.Wrap(err, "checkpoint: merge")
	}

	zap.L().Info("checkpoint: merged segments",
		zap.String("dest", dest),
		zap.Int("segments", res.Segments),
		zap.Int("rows", res.Rows),
	)
	return res, nil
}

// ReadHeader returns the header row of a table.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	h, err := cr.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read header of %s", path)
	}
	return h, nil
}
