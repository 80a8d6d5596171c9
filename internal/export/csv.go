package export

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geoenrich/internal/model"
)

// CSVWriter writes records as UTF-8 delimited text with a header row.
type CSVWriter struct {
	header []string
	buf    *bufio.Writer
	w      *csv.Writer
	closer io.Closer
}

// NewCSV writes to w. The header row is written immediately.
func NewCSV(w io.Writer, header []string, delimiter rune) (*CSVWriter, error) {
	buf := bufio.NewWriter(w)
	cw := csv.NewWriter(buf)
	if delimiter != 0 {
		cw.Comma = delimiter
	}
	if err := cw.Write(header); err != nil {
		return nil, eris.Wrap(err, "export: write csv header")
	}
	return &CSVWriter{header: header, buf: buf, w: cw}, nil
}

// NewCSVFile creates path and writes to it.
func NewCSVFile(path string, header []string, delimiter rune) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: create csv")
	}
	w, err := NewCSV(f, header, delimiter)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteChunk implements Writer.
func (w *CSVWriter) WriteChunk(chunk *model.Chunk) error {
	for _, rec := range chunk.Records {
		if err := w.w.Write(rec.Values(w.header)); err != nil {
			return eris.Wrapf(err, "export: write csv chunk %d", chunk.Index)
		}
	}
	return nil
}

// Close flushes buffered rows and closes the file, if any.
func (w *CSVWriter) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	if err := w.buf.Flush(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	if w.closer != nil {
		return eris.Wrap(w.closer.Close(), "export: close csv")
	}
	return nil
}
