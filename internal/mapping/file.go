package mapping

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// mappingFile is the on-disk shape of a mapping set.
type mappingFile struct {
	Mappings []Mapping `yaml:"mappings"`
}

// LoadFromFile reads a YAML mapping file and returns its records.
func LoadFromFile(path string) ([]Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "mapping: read file")
	}

	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "mapping: unmarshal file")
	}

	for i, m := range f.Mappings {
		if m.Brand == "" || m.Owner == "" {
			return nil, eris.Errorf("mapping: entry %d missing brand or owner", i)
		}
	}

	return f.Mappings, nil
}

// SaveToFile writes mappings back out as YAML.
func SaveToFile(path string, mappings []Mapping) error {
	data, err := yaml.Marshal(mappingFile{Mappings: mappings})
	if err != nil {
		return eris.Wrap(err, "mapping: marshal file")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "mapping: write file")
	}
	return nil
}
