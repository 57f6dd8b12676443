package input

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX loads the header and rows of one worksheet. An empty sheet name
// selects the first sheet. Blank rows are skipped.
func ReadXLSX(ctx context.Context, path, sheetName string) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "input: open xlsx %s", path)
	}

	sheet, err := getSheet(f, sheetName)
	if err != nil {
		return nil, nil, err
	}

	var header []string
	var rows [][]string
	for _, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "input: xlsx cancelled")
		}
		if row == nil {
			continue
		}
		cells := rowToStrings(row)
		if blank(cells) {
			continue
		}
		if header == nil {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}
	if header == nil {
		return nil, nil, eris.Errorf("input: sheet %q of %s is empty", sheet.Name, path)
	}
	return header, rows, nil
}

func readXLSXPoints(ctx context.Context, path string, opts Options) (*Table, error) {
	header, rows, err := ReadXLSX(ctx, path, opts.Sheet)
	if err != nil {
		return nil, err
	}
	return buildTable(header, rows, opts.Columns)
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("input: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("input: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
