package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"refagent/internal/domain"

	"gopkg.in/yaml.v3"
)

// Descriptor is one entry of the domains document. Descriptors are immutable
// once loaded.
type Descriptor struct {
	ID          string
	Enabled     bool
	DisplayName string
	Description string
	DependsOn   []string
	Module      string
	Tools       []string
}

// rawDescriptor uses pointers for required fields so absence can be told
// apart from a zero value.
type rawDescriptor struct {
	Enabled     *bool     `yaml:"enabled"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Module      *string   `yaml:"module"`
	DependsOn   []string  `yaml:"depends_on"`
	Tools       *[]string `yaml:"tools"`
}

// LoadDescriptors reads and parses the domains document at path.
func LoadDescriptors(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigurationError{Reason: "read domains file " + path, Err: err}
	}
	return ParseDescriptors(data)
}

// ParseDescriptors parses an in-memory domains document. Descriptors are
// returned in the order they are declared.
func ParseDescriptors(data []byte) ([]Descriptor, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &domain.ConfigurationError{Reason: "domains document is empty"}
		}
		return nil, &domain.ConfigurationError{Reason: "malformed domains document", Err: err}
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, &domain.ConfigurationError{Reason: "domains document must be a mapping"}
	}

	section := mappingValue(root, "domains")
	if section == nil {
		return nil, &domain.ConfigurationError{Reason: "missing 'domains' section"}
	}
	if section.Kind != yaml.MappingNode {
		return nil, &domain.ConfigurationError{
			Reason: fmt.Sprintf("'domains' must be a mapping (line %d)", section.Line),
		}
	}

	seen := make(map[string]bool, len(section.Content)/2)
	descriptors := make([]Descriptor, 0, len(section.Content)/2)
	for i := 0; i+1 < len(section.Content); i += 2 {
		keyNode, valNode := section.Content[i], section.Content[i+1]
		id := keyNode.Value
		if id == "" {
			return nil, &domain.ConfigurationError{
				Reason: fmt.Sprintf("domain with empty id (line %d)", keyNode.Line),
			}
		}
		if seen[id] {
			return nil, &domain.ConfigurationError{Domain: id, Reason: "declared more than once"}
		}
		seen[id] = true

		d, err := decodeDescriptor(id, valNode)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func decodeDescriptor(id string, node *yaml.Node) (Descriptor, error) {
	if node.Kind != yaml.MappingNode {
		return Descriptor{}, &domain.ConfigurationError{
			Domain: id,
			Reason: fmt.Sprintf("entry must be a mapping (line %d)", node.Line),
		}
	}

	var raw rawDescriptor
	if err := node.Decode(&raw); err != nil {
		return Descriptor{}, &domain.ConfigurationError{Domain: id, Reason: "invalid entry", Err: err}
	}

	switch {
	case raw.Enabled == nil:
		return Descriptor{}, &domain.ConfigurationError{Domain: id, Reason: "missing required field 'enabled'"}
	case raw.Module == nil || *raw.Module == "":
		return Descriptor{}, &domain.ConfigurationError{Domain: id, Reason: "missing required field 'module'"}
	case raw.Tools == nil:
		return Descriptor{}, &domain.ConfigurationError{Domain: id, Reason: "missing required field 'tools'"}
	}

	d := Descriptor{
		ID:          id,
		Enabled:     *raw.Enabled,
		DisplayName: raw.Name,
		Description: raw.Description,
		DependsOn:   append([]string(nil), raw.DependsOn...),
		Module:      *raw.Module,
		Tools:       append([]string(nil), (*raw.Tools)...),
	}
	if d.DisplayName == "" {
		d.DisplayName = id
	}
	return d, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// Allows reports whether tool is on the descriptor's allowlist.
func (d Descriptor) Allows(tool string) bool {
	for _, t := range d.Tools {
		if t == tool {
			return true
		}
	}
	return false
}
