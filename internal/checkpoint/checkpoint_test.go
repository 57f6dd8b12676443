package checkpoint

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biome-cli/internal/model"
)

func sampleResults(start, n int) []model.Result {
	out := make([]model.Result, n)
	for i := range out {
		p := model.Point{
			EntityID:  "sp" + string(rune('a'+(start+i)%26)),
			Longitude: float64(start + i),
			Latitude:  -float64(start+i) / 2,
			Extra:     []string{"x", "2024"},
		}
		switch (start + i) % 3 {
		case 0:
			out[i] = model.Exact(p, int32(start+i))
		case 1:
			out[i] = model.Approx(p, 9, p.Longitude+0.25, p.Latitude-0.25)
		default:
			out[i] = model.Unresolved(p, "")
		}
	}
	return out
}

func TestEncodeDecodeRow(t *testing.T) {
	t.Parallel()

	p := model.Point{EntityID: "Puma, concolor", Longitude: -70.125, Latitude: -33.5, Extra: []string{"a", ""}}
	for _, r := range []model.Result{
		model.Exact(p, 12),
		model.Approx(p, -3, -70.1, -33.45),
		model.Unresolved(p, model.DiagOutOfBounds),
	} {
		got, err := DecodeRow(EncodeRow(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestEncodeMalformedRow(t *testing.T) {
	t.Parallel()

	p := model.Point{EntityID: "bad", Longitude: math.NaN(), Latitude: math.NaN(), Diagnostic: model.DiagMalformedCoordinate}
	row := EncodeRow(model.Unresolved(p, ""))
	assert.Equal(t, []string{"bad", "", "", "", "false", "", "", model.DiagMalformedCoordinate}, row)

	got, err := DecodeRow(row)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Point.Longitude))
	assert.False(t, got.Resolved)
	assert.Equal(t, model.DiagMalformedCoordinate, got.Point.Diagnostic)
}

func TestDecodeRowErrors(t *testing.T) {
	t.Parallel()

	_, err := DecodeRow([]string{"a", "1"})
	assert.Error(t, err)
	_, err = DecodeRow([]string{"a", "x", "1", "", "false", "", "", ""})
	assert.Error(t, err)
	_, err = DecodeRow([]string{"a", "1", "1", "", "maybe", "", "", ""})
	assert.Error(t, err)
}

func TestWriteSegmentAndScan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	extra := []string{"source", "year"}

	p0, err := WriteSegment(dir, 0, extra, sampleResults(0, 5))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "biomes_part_000000.csv"), p0)
	_, err = WriteSegment(dir, 1, extra, sampleResults(5, 3))
	require.NoError(t, err)

	// leftovers from an interrupted write
	stale := filepath.Join(dir, SegmentName(2)+".tmp")
	require.NoError(t, os.WriteFile(stale, []byte("entity_id\npartial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	st, err := Scan(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, st.NextIndex)
	assert.Equal(t, 8, st.Offset)
	require.Len(t, st.Segments, 2)
	assert.Equal(t, 0, st.Segments[0].Offset)
	assert.Equal(t, 5, st.Segments[0].Rows)
	assert.Equal(t, 5, st.Segments[1].Offset)
	assert.Equal(t, model.Tally(append(sampleResults(0, 5), sampleResults(5, 3)...)), st.Stats)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale temp file removed")

	var got []model.Result
	require.NoError(t, ReadTable(p0, func(e []string, r model.Result) error {
		assert.Equal(t, extra, e)
		got = append(got, r)
		return nil
	}))
	assert.Equal(t, sampleResults(0, 5), got)
}

func TestScanEmptyAndMissing(t *testing.T) {
	t.Parallel()

	st, err := Scan(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, State{}, st)

	st, err = Scan(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, st.NextIndex)
	assert.Equal(t, 0, st.Offset)
}

func TestScanRejectsGap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := WriteSegment(dir, 0, nil, sampleResults(0, 1))
	require.NoError(t, err)
	_, err = WriteSegment(dir, 2, nil, sampleResults(1, 1))
	require.NoError(t, err)

	_, err = Scan(dir)
	assert.ErrorContains(t, err, "not contiguous")
}

func TestWriteSegmentError(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	_, err := WriteSegment(missing, 7, nil, sampleResults(0, 2))
	require.Error(t, err)

	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, 7, we.Segment)
	assert.Contains(t, err.Error(), "segment 7")
}

func TestMerge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	extra := []string{"source", "year"}

	all := sampleResults(0, 12)
	_, err := WriteSegment(dir, 0, extra, all[:5])
	require.NoError(t, err)
	_, err = WriteSegment(dir, 1, extra, all[5:10])
	require.NoError(t, err)
	_, err = WriteSegment(dir, 2, extra, all[10:])
	require.NoError(t, err)

	dest := filepath.Join(dir, "biomes.csv")
	res, err := Merge(dir, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Segments)
	assert.Equal(t, 12, res.Rows)
	assert.Equal(t, model.Tally(all), res.Stats)

	header, err := ReadHeader(dest)
	require.NoError(t, err)
	assert.Equal(t, Header(extra), header)

	var got []model.Result
	require.NoError(t, ReadTable(dest, func(_ []string, r model.Result) error {
		got = append(got, r)
		return nil
	}))
	assert.Equal(t, all, got)

	// merging again still sees only the segments
	res, err = Merge(dir, dest)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Rows)
}

func TestMergeRejectsMixedColumns(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := WriteSegment(dir, 0, []string{"a"}, nil)
	require.NoError(t, err)
	_, err = WriteSegment(dir, 1, []string{"b"}, nil)
	require.NoError(t, err)

	_, err = Merge(dir, filepath.Join(dir, "out.csv"))
	assert.Error(t, err)

	_, err = Merge(t.TempDir(), filepath.Join(dir, "out.csv"))
	assert.ErrorContains(t, err, "no segments")
}

func TestManifestRoundTripAndCompatibility(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Nil(t, m)

	rasterPath := filepath.Join(dir, "biomes.tif")
	require.NoError(t, os.WriteFile(rasterPath, []byte("raster"), 0o644))
	rid, err := Identify(rasterPath)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rid.Size)

	want := Manifest{
		RunID:     "run-1",
		Raster:    rid,
		Input:     FileIdentity{Path: "/data/occ.csv", Size: 100, ModTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		MinRadius: 0.01,
		MaxRadius: 1,
		Index:     "kdtree",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, SaveManifest(dir, want))

	got, err := LoadManifest(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, want.Compatible(*got))

	other := want
	other.RunID = "run-2"
	assert.NoError(t, other.Compatible(want))

	other = want
	other.MaxRadius = 2
	assert.True(t, errors.Is(other.Compatible(want), ErrManifestMismatch))

	other = want
	other.Raster.Size = 7
	assert.True(t, errors.Is(other.Compatible(want), ErrManifestMismatch))

	other = want
	other.ExtraColumns = []string{"year"}
	assert.True(t, errors.Is(other.Compatible(want), ErrManifestMismatch))

	other = want
	other.Index = "rtree"
	assert.True(t, errors.Is(other.Compatible(want), ErrManifestMismatch))
}
