package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a script file: a name, optional engine overrides and steps.
type Document struct {
	Name        string    `yaml:"name,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Config      yaml.Node `yaml:"config,omitempty"`
	Steps       []Step    `yaml:"steps"`
}

// HasConfig reports whether the document carries a config block.
func (d *Document) HasConfig() bool {
	return d.Config.Kind != 0
}

// DecodeConfig overlays the document's config block onto v.
func (d *Document) DecodeConfig(v any) error {
	if !d.HasConfig() {
		return nil
	}
	if err := d.Config.Decode(v); err != nil {
		return fmt.Errorf("invalid config block: %w", err)
	}
	return nil
}

// Program parses the document's steps.
func (d *Document) Program() (*Program, error) {
	prog, err := Parse(d.Steps)
	if err != nil {
		return nil, err
	}
	prog.Name = d.Name
	return prog, nil
}

// Decode reads a YAML or JSON script, either a bare list of steps or a
// document with a steps key.
func Decode(data []byte) (*Document, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("script is empty")
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("script is empty")
	}

	doc := &Document{}
	switch body := root.Content[0]; body.Kind {
	case yaml.SequenceNode:
		if err := body.Decode(&doc.Steps); err != nil {
			return nil, fmt.Errorf("failed to parse steps: %w", err)
		}
	case yaml.MappingNode:
		if err := body.Decode(doc); err != nil {
			return nil, fmt.Errorf("failed to parse script: %w", err)
		}
	default:
		return nil, fmt.Errorf("script must be a list of steps or a map with a steps key")
	}
	return doc, nil
}

// Load reads and decodes a script file. The document name defaults to the
// file's base name.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}
