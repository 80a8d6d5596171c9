// Package model defines the records, chunks, and run statistics shared by the
// enrichment pipeline, its readers, and its writers.
package model

import (
	"strconv"
	"strings"
)

// Canonical input columns.
const (
	ColCEP          = "CD_CEP"
	ColStreet       = "NM_LOGRADOURO"
	ColNumber       = "NR_LOGRADOURO"
	ColNeighborhood = "NM_BAIRRO"
	ColCity         = "NM_MUNICIPIO"
	ColState        = "NM_UF"
)

// Output columns appended to every enriched record.
const (
	ColCEPCorrected = "CD_CEP_CORRETO"
	ColLatitude     = "DS_LATITUDE"
	ColLongitude    = "DS_LONGITUDE"
)

// OutputColumns lists the enrichment columns in output order.
var OutputColumns = []string{ColCEPCorrected, ColLatitude, ColLongitude}

// Record is one input row. An empty value means the field is null.
type Record struct {
	Fields map[string]string
}

// NewRecord builds a record from a header and a positional row. Missing
// trailing cells become empty; extra cells are dropped.
func NewRecord(header, row []string) Record {
	fields := make(map[string]string, len(header)+len(OutputColumns))
	for i, col := range header {
		if i < len(row) {
			fields[col] = row[i]
		} else {
			fields[col] = ""
		}
	}
	return Record{Fields: fields}
}

// Get returns the trimmed value of a field, treating pandas-style null
// markers as empty.
func (r Record) Get(col string) string {
	v := strings.TrimSpace(r.Fields[col])
	switch strings.ToLower(v) {
	case "nan", "none", "null", "<na>":
		return ""
	}
	return v
}

// Set assigns a field value.
func (r Record) Set(col, value string) {
	r.Fields[col] = value
}

// HasCoordinates reports whether both latitude and longitude are present.
func (r Record) HasCoordinates() bool {
	return r.Get(ColLatitude) != "" && r.Get(ColLongitude) != ""
}

// SetCoordinates stores a coordinate pair in the output columns.
func (r Record) SetCoordinates(lat, lon float64) {
	r.Fields[ColLatitude] = strconv.FormatFloat(lat, 'f', -1, 64)
	r.Fields[ColLongitude] = strconv.FormatFloat(lon, 'f', -1, 64)
}

// Coordinates parses the output columns. ok is false when either is missing
// or not a number.
func (r Record) Coordinates() (lat, lon float64, ok bool) {
	var err error
	if lat, err = strconv.ParseFloat(r.Get(ColLatitude), 64); err != nil {
		return 0, 0, false
	}
	if lon, err = strconv.ParseFloat(r.Get(ColLongitude), 64); err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// Values returns the record's fields in header order.
func (r Record) Values(header []string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		out[i] = r.Fields[col]
	}
	return out
}

// Chunk is a bounded slice of consecutive records from one source.
type Chunk struct {
	Index   int      // zero-based chunk number
	Offset  int      // absolute index of Records[0] in the source
	Header  []string // header after column mapping and output columns
	Records []Record
}

// Len returns the number of records in the chunk.
func (c *Chunk) Len() int {
	return len(c.Records)
}

// WithOutputColumns returns header with any missing output column appended.
func WithOutputColumns(header []string) []string {
	out := make([]string, len(header), len(header)+len(OutputColumns))
	copy(out, header)
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	for _, col := range OutputColumns {
		if !present[col] {
			out = append(out, col)
		}
	}
	return out
}
