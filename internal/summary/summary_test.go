package summary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/biome-cli/internal/input"
	"github.com/sells-group/biome-cli/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createDictionaryXLSX(t *testing.T, dir string) string {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, data := range [][]string{
		{"code", "original", "reclassified"},
		{"1", "Polar desert", "Polar"},
		{"7.0", "Boreal moist forest", "Boreal"},
		{"12", "Tropical rain forest", ""},
	} {
		row := sh.AddRow()
		for _, v := range data {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(dir, "reclassification.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestCodeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "7", CodeKey("7"))
	assert.Equal(t, "7", CodeKey(" 7.0 "))
	assert.Equal(t, "-3", CodeKey("-3"))
	assert.Equal(t, "2.5", CodeKey("2.50"))
	assert.Equal(t, "abc", CodeKey("abc"))
}

func TestLoadDictionaryXLSX(t *testing.T) {
	t.Parallel()

	d, err := LoadDictionary(context.Background(), createDictionaryXLSX(t, t.TempDir()), "Sheet1")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	l, level := d.Lookup("7")
	assert.Equal(t, LevelReclassified, level)
	assert.Equal(t, Label{Original: "Boreal moist forest", Reclassified: "Boreal"}, l)

	l, level = d.Lookup("12")
	assert.Equal(t, LevelReclassified, level, "a listed code is reclassified even without a label")
	assert.Empty(t, l.Reclassified)

	_, level = d.Lookup("99")
	assert.Equal(t, LevelIII, level)

	_, level = d.Lookup("")
	assert.Equal(t, LevelNoData, level)
}

func TestLoadDictionaryErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := LoadDictionary(context.Background(), writeFile(t, dir, "d.json", "{}"), "")
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = LoadDictionary(context.Background(), writeFile(t, dir, "d.csv", "code,original\n"), "")
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestReclassify(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFile(t, dir, "biomes.csv",
		"entity_id,longitude,latitude,category,is_approximate,reference_longitude,reference_latitude,diagnostic\n"+
			"Inga edulis,1,2,7,false,1,2,\n"+
			"Inga edulis,1,2,99,true,1.5,2,\n"+
			"Inga vera,,,,false,,,malformed_coordinate\n")
	dest := filepath.Join(dir, "reclassified.csv")

	d := NewDictionary(map[string]Label{"7": {Original: "Boreal moist forest", Reclassified: "Boreal"}})
	res, err := Reclassify(context.Background(), src, dest, "", d)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, map[string]int{LevelReclassified: 1, LevelIII: 1, LevelNoData: 1}, res.Levels)

	header, rows, err := input.ReadCSV(context.Background(), dest, ',')
	require.NoError(t, err)
	assert.Equal(t, ReclassifyColumns, header[len(header)-3:])
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Boreal moist forest", "Boreal", LevelReclassified}, rows[0][8:])
	assert.Equal(t, []string{"", "", LevelIII}, rows[1][8:])
	assert.Equal(t, []string{"", "", LevelNoData}, rows[2][8:])

	_, err = Reclassify(context.Background(), src, dest, "biome", d)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestCount(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFile(t, dir, "reclassified.csv",
		"entity_id,biome_reclassified\n"+
			"Inga edulis,Tropical\n"+
			"Inga edulis,Tropical\n"+
			"Inga edulis,Subtropical\n"+
			"Inga vera,Boreal\n"+
			"Inga vera, \n"+
			"Abies alba,Boreal\n")

	tally, err := Count(context.Background(), src, TallyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Dropped)
	assert.Equal(t, []string{"Boreal", "Subtropical", "Tropical"}, tally.Labels)
	require.Len(t, tally.Entities, 3)
	assert.Equal(t, "Abies alba", tally.Entities[0].EntityID)

	edulis := tally.Entities[1]
	assert.Equal(t, 3, edulis.Total)
	assert.Equal(t, 66.67, edulis.Percent("Tropical"))
	assert.Equal(t, 33.33, edulis.Percent("Subtropical"))
	assert.Zero(t, edulis.Percent("Boreal"))

	assert.Equal(t, []string{"entity_id",
		"COUNT_Boreal", "COUNT_Subtropical", "COUNT_Tropical",
		"PERCENT_Boreal", "PERCENT_Subtropical", "PERCENT_Tropical",
		"TOTAL"}, tally.Header())
	assert.Equal(t, []string{"Inga edulis", "0", "1", "2", "0", "33.33", "66.67", "3"}, tally.Row(edulis))

	dest := filepath.Join(dir, "tally.csv")
	require.NoError(t, tally.Write(dest))
	header, rows, err := input.ReadCSV(context.Background(), dest, ',')
	require.NoError(t, err)
	assert.Equal(t, tally.Header(), header)
	assert.Len(t, rows, 3)
}

func TestCountRemapAndExclude(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFile(t, dir, "reclassified.csv",
		"species,label\n"+
			"a,Tropical rain\n"+
			"a,Tropical dry\n"+
			"a,Temperate\n"+
			"a,Desert\n")
	remap, err := LoadRemap(context.Background(),
		writeFile(t, dir, "remap.csv", "original,reclassified_2\nTropical rain,Tropical\nTropical dry,Tropical\nTemperate,Temperate\n"), "")
	require.NoError(t, err)

	tally, err := Count(context.Background(), src, TallyOptions{
		EntityColumn: "species",
		LabelColumn:  "label",
		Remap:        remap,
		Exclude:      []string{"Temperate"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Other", "Tropical"}, tally.Labels)
	require.Len(t, tally.Entities, 1)
	assert.Equal(t, 3, tally.Entities[0].Total)
	assert.Equal(t, 2, tally.Entities[0].Counts["Tropical"])
	assert.Equal(t, 1, tally.Dropped)
}

func TestCountMissingColumns(t *testing.T) {
	t.Parallel()

	src := writeFile(t, t.TempDir(), "x.csv", "name,value\na,b\n")
	_, err := Count(context.Background(), src, TallyOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	assert.Contains(t, err.Error(), "entity_id")
	assert.Contains(t, err.Error(), "biome_reclassified")
}
