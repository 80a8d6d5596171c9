package export

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geoenrich/internal/model"
)

// GeoJSONWriter streams a FeatureCollection of point features. Records
// without coordinates are skipped.
type GeoJSONWriter struct {
	header []string
	buf    *bufio.Writer
	closer io.Closer

	features int
	skipped  int
}

// NewGeoJSON writes to w.
func NewGeoJSON(w io.Writer, header []string) (*GeoJSONWriter, error) {
	buf := bufio.NewWriter(w)
	if _, err := buf.WriteString(`{"type":"FeatureCollection","features":[`); err != nil {
		return nil, eris.Wrap(err, "export: write geojson")
	}
	return &GeoJSONWriter{header: header, buf: buf}, nil
}

// NewGeoJSONFile creates path and writes to it.
func NewGeoJSONFile(path string, header []string) (*GeoJSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: create geojson")
	}
	w, err := NewGeoJSON(f, header)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteChunk implements Writer.
func (w *GeoJSONWriter) WriteChunk(chunk *model.Chunk) error {
	for i, rec := range chunk.Records {
		lat, lon, ok := rec.Coordinates()
		if !ok {
			w.skipped++
			continue
		}

		props := make(map[string]any, len(w.header))
		for _, col := range w.header {
			if col == model.ColLatitude || col == model.ColLongitude {
				continue
			}
			props[col] = rec.Fields[col]
		}

		feature := &geojson.Feature{
			ID:         strconv.Itoa(chunk.Offset + i),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Properties: props,
		}
		data, err := json.Marshal(feature)
		if err != nil {
			return eris.Wrapf(err, "export: encode feature for row %d", chunk.Offset+i)
		}

		if w.features > 0 {
			if err := w.buf.WriteByte(','); err != nil {
				return eris.Wrap(err, "export: write geojson")
			}
		}
		if _, err := w.buf.Write(data); err != nil {
			return eris.Wrap(err, "export: write geojson")
		}
		w.features++
	}
	return nil
}

// Counts returns the number of features written and records skipped.
func (w *GeoJSONWriter) Counts() (features, skipped int) {
	return w.features, w.skipped
}

// Close terminates the collection and closes the file, if any.
func (w *GeoJSONWriter) Close() error {
	if _, err := w.buf.WriteString("]}\n"); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	if err := w.buf.Flush(); err != nil {
		return eris.Wrap(err, "export: flush geojson")
	}
	if w.closer != nil {
		return eris.Wrap(w.closer.Close(), "export: close geojson")
	}
	return nil
}
