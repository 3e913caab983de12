package appdag

import (
	"fmt"
	"regexp"
	"strings"

	"autopipe/internal/services"
)

// Edge declares that Upstream's output archive feeds Downstream.
type Edge struct {
	Upstream   string
	Downstream string
	// Annotation is carried through unchanged and never interpreted.
	Annotation string
}

func (e Edge) String() string {
	return e.Upstream + " -> " + e.Downstream
}

// Spec is a parsed application DAG.
type Spec struct {
	Name         string
	Repository   string
	Components   []string
	Edges        []Edge
	InitialInput string
}

var componentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateComponentName rejects names that are unsafe as mount sub-paths or
// image references.
func ValidateComponentName(name string) error {
	if name == "." || name == ".." || !componentNamePattern.MatchString(name) {
		return fmt.Errorf("invalid component name %q", name)
	}
	return nil
}

// HasComponent reports whether name is declared in the components list.
func (s *Spec) HasComponent(name string) bool {
	for _, component := range s.Components {
		if component == name {
			return true
		}
	}
	return false
}

// Validate checks component names and edge endpoints.
func (s *Spec) Validate() error {
	if len(s.Components) == 0 {
		return services.Wrap(services.ErrEmptySpec, "load", "components", "components list is empty", nil)
	}
	if strings.TrimSpace(s.InitialInput) == "" {
		return malformed("initial_input is empty", nil)
	}
	seen := make(map[string]struct{}, len(s.Components))
	for _, name := range s.Components {
		if err := ValidateComponentName(name); err != nil {
			return malformed("components", err)
		}
		if _, ok := seen[name]; ok {
			return malformed(fmt.Sprintf("component %q declared twice", name), nil)
		}
		seen[name] = struct{}{}
	}
	for idx, edge := range s.Edges {
		for _, endpoint := range []string{edge.Upstream, edge.Downstream} {
			if _, ok := seen[endpoint]; !ok {
				return malformed(fmt.Sprintf("dependency %d references unknown component %q", idx, endpoint), nil)
			}
		}
	}
	return nil
}

func malformed(message string, err error) error {
	return services.Wrap(services.ErrMalformedSpec, "load", "validate", message, err)
}
