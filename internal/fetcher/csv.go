package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/geoenrich/internal/model"
)

// Encoding names a text encoding for delimited input.
type Encoding string

// Supported encodings.
const (
	EncodingAuto   Encoding = ""
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin-1"
)

// ParseEncoding maps a user-supplied name to an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return EncodingLatin1, nil
	default:
		return "", eris.Errorf("fetcher: unsupported encoding %q", name)
	}
}

// CSVOptions configures the chunked CSV reader.
type CSVOptions struct {
	Delimiter rune     // default ','
	ChunkSize int      // default 1000
	Encoding  Encoding // auto-detect when empty
}

func (o CSVOptions) withDefaults() CSVOptions {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// csvSource reads a delimited file in fixed-size chunks.
type csvSource struct {
	f        *os.File
	r        *csv.Reader
	header   []string
	total    int
	size     int
	encoding Encoding

	index  int
	offset int
}

// OpenCSV counts the data rows of path, settles its encoding, and returns a
// Source positioned after the header. With EncodingAuto the counting pass
// checks every field for valid UTF-8 and falls back to Latin-1 once.
func OpenCSV(path string, opts CSVOptions) (Source, error) {
	opts = opts.withDefaults()

	rows, validUTF8, err := countCSV(path, opts.Delimiter)
	if err != nil {
		return nil, err
	}

	enc := opts.Encoding
	if enc == EncodingAuto {
		enc = EncodingUTF8
		if !validUTF8 {
			zap.L().Warn("input is not valid utf-8, falling back to latin-1", zap.String("path", path))
			enc = EncodingLatin1
		}
	}
	if enc == EncodingUTF8 && !validUTF8 {
		return nil, eris.Errorf("fetcher: %s is not valid utf-8", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open csv")
	}

	var in io.Reader = f
	if enc == EncodingLatin1 {
		in = charmap.ISO8859_1.NewDecoder().Reader(f)
	}
	r := newCSVReader(in, opts.Delimiter)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		f.Close() //nolint:errcheck
		return nil, eris.Errorf("fetcher: %s has no header row", path)
	}
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "fetcher: read csv header")
	}

	return &csvSource{
		f:        f,
		r:        r,
		header:   cleanHeader(header),
		total:    rows,
		size:     opts.ChunkSize,
		encoding: enc,
	}, nil
}

func newCSVReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1 // allow variable fields
	cr.LazyQuotes = true
	return cr
}

// countCSV returns the number of data rows (header excluded) and whether
// every field decoded as UTF-8.
func countCSV(path string, delim rune) (rows int, validUTF8 bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, eris.Wrap(err, "fetcher: open csv")
	}
	defer f.Close() //nolint:errcheck

	r := newCSVReader(f, delim)
	r.ReuseRecord = true
	validUTF8 = true
	first := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, false, eris.Wrap(err, "fetcher: count csv rows")
		}
		if validUTF8 {
			for _, field := range record {
				if !utf8.ValidString(field) {
					validUTF8 = false
					break
				}
			}
		}
		if first {
			first = false
			continue
		}
		rows++
	}
	return rows, validUTF8, nil
}

// cleanHeader strips a UTF-8 byte-order mark and surrounding whitespace.
func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func (s *csvSource) Header() []string   { return append([]string(nil), s.header...) }
func (s *csvSource) Total() int         { return s.total }
func (s *csvSource) Encoding() Encoding { return s.encoding }

// Next returns the next chunk, or io.EOF when the file is exhausted.
func (s *csvSource) Next(ctx context.Context) (*model.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "fetcher: csv cancelled")
	}

	records := make([]model.Record, 0, s.size)
	for len(records) < s.size {
		row, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read csv row %d", s.offset+len(records))
		}
		records = append(records, model.NewRecord(s.header, row))
	}
	if len(records) == 0 {
		return nil, io.EOF
	}

	chunk := &model.Chunk{
		Index:   s.index,
		Offset:  s.offset,
		Header:  s.Header(),
		Records: records,
	}
	s.index++
	s.offset += len(records)
	return chunk, nil
}

func (s *csvSource) Close() error {
	return s.f.Close()
}
