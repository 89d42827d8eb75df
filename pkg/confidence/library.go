package confidence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadLibrary reads a YAML (or JSON) document mapping defect classes to lists
// of repair snippets.
func LoadLibrary(path string) (*MemoryLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern library: %w", err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse pattern library: %w", err)
	}

	lib := NewMemoryLibrary()
	for class, patterns := range raw {
		lib.Add(class, patterns...)
	}

	return lib, nil
}
