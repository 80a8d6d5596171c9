// Package export writes enriched chunks as CSV, GeoJSON or ESRI Shapefile.
package export

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geoenrich/internal/model"
)

// Format identifies an output encoding.
type Format string

// Supported formats.
const (
	FormatCSV       Format = "csv"
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shp"
)

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return FormatCSV, nil
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "shp", "shapefile":
		return FormatShapefile, nil
	default:
		return "", eris.Errorf("export: unknown format %q", name)
	}
}

// FormatFromPath infers the format from a file extension, defaulting to CSV.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return FormatGeoJSON
	case ".shp":
		return FormatShapefile
	default:
		return FormatCSV
	}
}

// Writer receives enriched chunks in input order.
type Writer interface {
	WriteChunk(chunk *model.Chunk) error
	Close() error
}

// Options configures a Writer.
type Options struct {
	Format    Format // inferred from the path when empty
	Delimiter rune   // CSV only, default ','
}

// Create opens a Writer for path. header is the full output header,
// including the enrichment columns.
func Create(path string, header []string, opts Options) (Writer, error) {
	format := opts.Format
	if format == "" {
		format = FormatFromPath(path)
	}

	switch format {
	case FormatCSV:
		return NewCSVFile(path, header, opts.Delimiter)
	case FormatGeoJSON:
		return NewGeoJSONFile(path, header)
	case FormatShapefile:
		return NewShapefile(path, header)
	default:
		return nil, eris.Errorf("export: unknown format %q", format)
	}
}
