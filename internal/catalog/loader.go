package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a template catalog
type File struct {
	Templates []MetricTemplate `yaml:"templates"`
}

// Parse decodes a YAML catalog document
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}
	if len(f.Templates) == 0 {
		return nil, fmt.Errorf("template catalog declares no templates")
	}
	return New(f.Templates...)
}

// LoadFile reads a YAML catalog from path
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Load returns the catalog at path, or the built-in catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
