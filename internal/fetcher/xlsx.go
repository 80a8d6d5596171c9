package fetcher

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geoenrich/internal/model"
)

// XLSXOptions configures the workbook reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	ChunkSize  int    // default 1000
}

// xlsxSource serves the rows of one sheet in chunks. The xlsx library loads
// the workbook in full, so only the chunk records are materialized lazily.
type xlsxSource struct {
	header []string
	rows   []*xlsx.Row
	size   int

	index  int
	offset int
}

// OpenXLSX opens a workbook and uses the first row of the selected sheet as
// the header.
func OpenXLSX(path string, opts XLSXOptions) (Source, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("xlsx: sheet %q has no header row", sheet.Name)
	}

	header := rowToStrings(sheet.Rows[0])
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []*xlsx.Row
	for _, row := range sheet.Rows[1:] {
		if !blankRow(row) {
			rows = append(rows, row)
		}
	}

	return &xlsxSource{header: header, rows: rows, size: opts.ChunkSize}, nil
}

func (s *xlsxSource) Header() []string { return append([]string(nil), s.header...) }
func (s *xlsxSource) Total() int       { return len(s.rows) }
func (s *xlsxSource) Close() error     { return nil }

func (s *xlsxSource) Next(ctx context.Context) (*model.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "xlsx: context cancelled")
	}
	if s.offset >= len(s.rows) {
		return nil, io.EOF
	}

	end := min(s.offset+s.size, len(s.rows))
	records := make([]model.Record, 0, end-s.offset)
	for _, row := range s.rows[s.offset:end] {
		records = append(records, model.NewRecord(s.header, rowToStrings(row)))
	}

	chunk := &model.Chunk{
		Index:   s.index,
		Offset:  s.offset,
		Header:  s.Header(),
		Records: records,
	}
	s.index++
	s.offset = end
	return chunk, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blankRow(row *xlsx.Row) bool {
	for _, cell := range row.Cells {
		if strings.TrimSpace(cell.String()) != "" {
			return false
		}
	}
	return true
}
