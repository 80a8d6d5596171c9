package enrich

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geoenrich/internal/model"
)

// ColumnMap maps a canonical column name to the alternate header an input
// file uses for it, e.g. {"CD_CEP": "cep"}.
type ColumnMap map[string]string

// columnMapFile is the YAML layout accepted by LoadColumnMap.
type columnMapFile struct {
	Columns ColumnMap `yaml:"columns"`
}

// LoadColumnMap reads a YAML file with a top-level "columns" mapping.
func LoadColumnMap(path string) (ColumnMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: read column map %s", path)
	}

	var f columnMapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "enrich: parse column map %s", path)
	}
	for canonical, alt := range f.Columns {
		if canonical == "" || alt == "" {
			return nil, eris.Errorf("enrich: column map %s has an empty name", path)
		}
	}
	return f.Columns, nil
}

// renames returns alternate -> canonical pairs that apply to header: the
// alternate is present in header and the canonical name is not. Only
// original header columns are sources, so renames never chain. Canonical
// names are visited in sorted order so results do not depend on map
// iteration.
func (m ColumnMap) renames(header []string) map[string]string {
	if len(m) == 0 {
		return nil
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}

	canonicals := make([]string, 0, len(m))
	for canonical := range m {
		canonicals = append(canonicals, canonical)
	}
	slices.Sort(canonicals)

	out := make(map[string]string)
	for _, canonical := range canonicals {
		alt := m[canonical]
		if present[canonical] || !present[alt] {
			continue
		}
		if _, taken := out[alt]; taken {
			continue
		}
		out[alt] = canonical
	}
	return out
}

// Header returns header with applicable alternates renamed.
func (m ColumnMap) Header(header []string) []string {
	renames := m.renames(header)
	out := make([]string, len(header))
	for i, col := range header {
		if canonical, ok := renames[col]; ok {
			out[i] = canonical
		} else {
			out[i] = col
		}
	}
	return out
}

// Apply renames alternate columns of a chunk to their canonical names, in
// the header and in every record.
func (m ColumnMap) Apply(chunk *model.Chunk) {
	renames := m.renames(chunk.Header)
	if len(renames) == 0 {
		return
	}

	chunk.Header = m.Header(chunk.Header)
	moved := make(map[string]string, len(renames))
	for _, rec := range chunk.Records {
		clear(moved)
		for alt, canonical := range renames {
			if v, ok := rec.Fields[alt]; ok {
				moved[canonical] = v
				delete(rec.Fields, alt)
			}
		}
		for canonical, v := range moved {
			rec.Fields[canonical] = v
		}
	}
}
