package appdag

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"autopipe/internal/services"
)

// Format identifies the document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the encoding from the file extension. Anything other
// than .toml is read as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads and parses the document at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrMalformedSpec, "load", "read", path, err)
	}
	return Parse(data, FormatForPath(path))
}

// Parse decodes a document and validates its structure.
func Parse(data []byte, format Format) (*Spec, error) {
	var raw map[string]any
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, services.Wrap(services.ErrMalformedSpec, "load", "decode toml", "", err)
		}
	case FormatYAML, "":
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, services.Wrap(services.ErrMalformedSpec, "load", "decode yaml", "document is empty", nil)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, services.Wrap(services.ErrMalformedSpec, "load", "decode yaml", "", err)
		}
	default:
		return nil, services.Wrap(services.ErrMalformedSpec, "load", "decode", fmt.Sprintf("unsupported format %q", format), nil)
	}
	if raw == nil {
		return nil, services.Wrap(services.ErrMalformedSpec, "load", "decode", "document is not a mapping", nil)
	}

	if nested, ok := raw["System"]; ok {
		system, ok := nested.(map[string]any)
		if !ok {
			return nil, services.Wrap(services.ErrMalformedSpec, "load", "decode", "System must be a mapping", nil)
		}
		raw = system
	}

	spec, err := fromDocument(raw)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func fromDocument(raw map[string]any) (*Spec, error) {
	spec := &Spec{}

	componentsValue, ok := raw["components"]
	if !ok {
		return nil, missingKey("components")
	}
	components, err := stringList("components", componentsValue)
	if err != nil {
		return nil, err
	}
	spec.Components = components

	dependenciesValue, ok := raw["dependencies"]
	if !ok {
		return nil, missingKey("dependencies")
	}
	edges, err := edgeList(dependenciesValue)
	if err != nil {
		return nil, err
	}
	spec.Edges = edges

	inputValue, ok := raw["initial_input"]
	if !ok {
		inputValue, ok = raw["input_media"]
	}
	if !ok {
		return nil, missingKey("initial_input")
	}
	input, ok := inputValue.(string)
	if !ok {
		return nil, services.Wrap(services.ErrMalformedSpec, "load", "initial_input", "must be a string", nil)
	}
	spec.InitialInput = strings.TrimSpace(input)

	if name, ok := raw["name"].(string); ok {
		spec.Name = strings.TrimSpace(name)
	}
	if repository, ok := raw["repository"].(string); ok {
		spec.Repository = strings.TrimSpace(repository)
	}
	return spec, nil
}

func missingKey(key string) error {
	return services.Wrap(services.ErrMalformedSpec, "load", "decode", fmt.Sprintf("required key %q is missing", key), nil)
}

func stringList(field string, value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, services.Wrap(services.ErrMalformedSpec, "load", field, "must be a list", nil)
	}
	out := make([]string, 0, len(items))
	for idx, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, services.Wrap(services.ErrMalformedSpec, "load", field, fmt.Sprintf("entry %d is not a string", idx), nil)
		}
		out = append(out, strings.TrimSpace(name))
	}
	return out, nil
}

func edgeList(value any) ([]Edge, error) {
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, services.Wrap(services.ErrMalformedSpec, "load", "dependencies", "must be a list", nil)
	}
	edges := make([]Edge, 0, len(items))
	for idx, item := range items {
		tuple, ok := item.([]any)
		if !ok || len(tuple) < 2 || len(tuple) > 3 {
			return nil, services.Wrap(services.ErrMalformedSpec, "load", "dependencies",
				fmt.Sprintf("entry %d must be [upstream, downstream, annotation]", idx), nil)
		}
		upstream, okUp := tuple[0].(string)
		downstream, okDown := tuple[1].(string)
		if !okUp || !okDown {
			return nil, services.Wrap(services.ErrMalformedSpec, "load", "dependencies",
				fmt.Sprintf("entry %d endpoints must be strings", idx), nil)
		}
		edge := Edge{Upstream: strings.TrimSpace(upstream), Downstream: strings.TrimSpace(downstream)}
		if len(tuple) == 3 && tuple[2] != nil {
			edge.Annotation = fmt.Sprint(tuple[2])
		}
		edges = append(edges, edge)
	}
	return edges, nil
}
