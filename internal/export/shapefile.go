package export

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geoenrich/internal/model"
)

// dBase limits for character attributes.
const (
	maxFieldName = 10
	maxFieldSize = 254
)

// ShapefileWriter writes POINT shapes with every column as a character
// attribute. Records without coordinates are skipped.
type ShapefileWriter struct {
	w      *shp.Writer
	header []string

	features int
	skipped  int
}

// NewShapefile creates path (.shp plus its .shx and .dbf siblings).
func NewShapefile(path string, header []string) (*ShapefileWriter, error) {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return nil, eris.Wrapf(err, "export: create shapefile %s", path)
	}

	names := FieldNames(header)
	fields := make([]shp.Field, len(names))
	for i, name := range names {
		fields[i] = shp.StringField(name, maxFieldSize)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return nil, eris.Wrap(err, "export: set shapefile fields")
	}

	return &ShapefileWriter{w: w, header: header}, nil
}

// WriteChunk implements Writer.
func (s *ShapefileWriter) WriteChunk(chunk *model.Chunk) error {
	for i, rec := range chunk.Records {
		lat, lon, ok := rec.Coordinates()
		if !ok {
			s.skipped++
			continue
		}

		row := int(s.w.Write(&shp.Point{X: lon, Y: lat}))
		for j, col := range s.header {
			if err := s.w.WriteAttribute(row, j, truncateBytes(rec.Fields[col], maxFieldSize)); err != nil {
				return eris.Wrapf(err, "export: write attribute %s for row %d", col, chunk.Offset+i)
			}
		}
		s.features++
	}
	return nil
}

// Counts returns the number of shapes written and records skipped.
func (s *ShapefileWriter) Counts() (features, skipped int) {
	return s.features, s.skipped
}

// Close writes the shapefile headers.
func (s *ShapefileWriter) Close() error {
	s.w.Close()
	return nil
}

// FieldNames maps column names to unique dBase field names of at most 10
// bytes. Collisions after truncation get a numeric suffix.
func FieldNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, col := range header {
		base := truncateBytes(strings.ToUpper(strings.TrimSpace(col)), maxFieldName)
		if base == "" {
			base = "FIELD"
		}
		name := base
		for n := 1; seen[name]; n++ {
			suffix := strconv.Itoa(n)
			name = truncateBytes(base, maxFieldName-len(suffix)) + suffix
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
