package input

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/model"
)

// CSVOptions configures StreamCSV.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // first row goes to HeaderCh instead of the row channel
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // 0 = none
	LazyQuotes bool
}

// StreamCSV reads CSV rows from r and sends them on the returned channel. The
// caller must drain the row channel. Both channels are closed when reading
// stops; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "input: csv cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "input: read csv row")
				return
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "input: csv cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "input: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV loads the header and rows of a CSV file.
func ReadCSV(ctx context.Context, path string, delimiter rune) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, f, CSVOptions{
		Delimiter:  delimiter,
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, nil, err
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
		return nil, nil, eris.Errorf("input: %s is empty", path)
	}
	return header, rows, nil
}

func readCSVPoints(ctx context.Context, path string, opts Options) (*Table, error) {
	header, rows, err := ReadCSV(ctx, path, opts.Delimiter)
	if err != nil {
		return nil, err
	}
	return buildTable(header, rows, opts.Columns)
}

func buildTable(header []string, rows [][]string, cols Columns) (*Table, error) {
	b, err := newBuilder(header, cols)
	if err != nil {
		return nil, err
	}
	b.table.Points = make([]model.Point, 0, len(rows))
	for _, row := range rows {
		b.add(row)
	}
	return b.table, nil
}
