package checkpoint

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/model"
)

const (
	segmentPrefix = "biomes_part_"
	segmentExt    = ".csv"
	tmpExt        = ".tmp"
)

var segmentRe = regexp.MustCompile(`^biomes_part_(\d{6,})\.csv$`)

// SegmentName returns the file name of segment idx.
func SegmentName(idx int) string {
	return fmt.Sprintf("%s%06d%s", segmentPrefix, idx, segmentExt)
}

// WriteError reports a failure to publish a segment. Segments with a lower
// index remain valid.
type WriteError struct {
	Segment int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("checkpoint: write segment %d: %v", e.Segment, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// WriteSegment writes results to dir as segment idx. The file is written under a
// temporary name, synced, and renamed so a published segment is always complete.
func WriteSegment(dir string, idx int, extra []string, results []model.Result) (string, error) {
	final := filepath.Join(dir, SegmentName(idx))
	tmp := final + tmpExt

	if err := writeTable(tmp, final, Header(extra), func(w *csv.Writer) error {
		for _, r := range results {
			if err := w.Write(EncodeRow(r)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return "", &WriteError{Segment: idx, Err: err}
	}
	return final, nil
}

// WriteTable writes a CSV table to dest atomically. body writes the rows.
func WriteTable(dest string, header []string, body func(*csv.Writer) error) error {
	return writeTable(dest+tmpExt, dest, header, body)
}

// writeTable writes a CSV file atomically via tmp.
func writeTable(tmp, final string, header []string, body func(*csv.Writer) error) error {
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()      //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: write header")
	}
	if err := body(w); err != nil {
		f.Close()      //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: write rows")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()      //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: flush")
	}

	if err := f.Sync(); err != nil {
		f.Close()      //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: sync")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: close")
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: rename")
	}
	syncDir(filepath.Dir(final))
	return nil
}

// syncDir flushes the directory entry after a rename. Not every platform
// supports it, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// SegmentInfo describes one published segment found by Scan.
type SegmentInfo struct {
	Index  int
	Path   string
	Offset int // index of the first input record in the segment
	Rows   int
	Stats  model.Stats
}

// State is the resumable state of an output directory.
type State struct {
	Segments  []SegmentInfo
	NextIndex int
	Offset    int // number of input records already covered
	Stats     model.Stats
}

// Scan inspects dir for published segments. Stale temporary files from an
// interrupted write are removed. Segment indexes must be contiguous from zero.
func Scan(dir string) (State, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, eris.Wrap(err, "checkpoint: read dir")
	}

	var st State
	var found []SegmentInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, tmpExt) {
			path := filepath.Join(dir, name)
			if err := os.Remove(path); err != nil {
				return State{}, eris.Wrapf(err, "checkpoint: remove stale %s", name)
			}
			zap.L().Warn("checkpoint: removed stale temp segment", zap.String("path", path))
			continue
		}
		m := segmentRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return State{}, eris.Wrapf(err, "checkpoint: segment index %q", m[1])
		}
		found = append(found, SegmentInfo{Index: idx, Path: filepath.Join(dir, name)})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Index < found[j].Index })
	for i := range found {
		if found[i].Index != i {
			return State{}, eris.Errorf("checkpoint: segments not contiguous: expected %s, found %s",
				SegmentName(i), filepath.Base(found[i].Path))
		}
		rows, stats, err := countSegment(found[i].Path)
		if err != nil {
			return State{}, err
		}
		found[i].Offset = st.Offset
		found[i].Rows = rows
		found[i].Stats = stats
		st.Offset += rows
		st.Stats = st.Stats.Add(stats)
	}
	st.Segments = found
	st.NextIndex = len(found)
	return st, nil
}

func countSegment(path string) (int, model.Stats, error) {
	var rows int
	var stats model.Stats
	err := ReadTable(path, func(_ []string, r model.Result) error {
		rows++
		stats = stats.Add(model.Count(r))
		return nil
	})
	if err != nil {
		return 0, model.Stats{}, err
	}
	return rows, stats, nil
}

// ReadTable streams the results of a segment or merged table to fn along with
// the table's extra column names.
func ReadTable(path string, fn func(extra []string, r model.Result) error) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return eris.Errorf("checkpoint: %s is empty", path)
	}
	if err != nil {
		return eris.Wrapf(err, "checkpoint: read header of %s", path)
	}
	if len(header) < len(Columns) {
		return eris.Errorf("checkpoint: %s has %d columns, want at least %d", path, len(header), len(Columns))
	}
	for i, c := range Columns {
		if header[i] != c {
			return eris.Errorf("checkpoint: %s column %d is %q, want %q", path, i, header[i], c)
		}
	}
	extra := append([]string(nil), header[len(Columns):]...)

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "checkpoint: read %s", path)
		}
		r, err := DecodeRow(rec)
		if err != nil {
			return eris.Wrapf(err, "checkpoint: %s line %d", path, line)
		}
		if err := fn(extra, r); err != nil {
			return err
		}
	}
}
