package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads a policy file and overlays it on Default.
func LoadFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	return Parse(data, FormatFromPath(path))
}

// Parse decodes data in the given format, overlays it on Default and validates
// the result. Fields absent from data keep their default values.
func Parse(data []byte, format Format) (Policy, error) {
	raw, err := toJSON(data, format)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	p := Default()
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}

	return p, nil
}

func toJSON(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return nil, err
		}

		return json.Marshal(tree.ToMap())
	case FormatYAML:
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m == nil {
			return []byte("{}"), nil
		}

		return json.Marshal(m)
	default:
		return data, nil
	}
}
