package docker

import (
	"encoding/json"
	"fmt"

	"autopipe/internal/compiler"
	"autopipe/internal/orchestrator"
)

// ContentType identifies a serialized Plan.
const ContentType = "application/vnd.autopipe.docker-plan+json"

// Plan is the docker rendition of a compiled pipeline.
type Plan struct {
	Name            string     `json:"name"`
	VolumeParameter string     `json:"volume_parameter"`
	MountPath       string     `json:"mount_path"`
	Steps           []PlanStep `json:"steps"`
}

// PlanStep is one container invocation. Steps are stored in execution order.
type PlanStep struct {
	Name  string   `json:"name"`
	Image string   `json:"image"`
	Argv  []string `json:"argv"`
	After []string `json:"after,omitempty"`
}

// BuildPlan renders p as a docker Plan package.
func BuildPlan(p *compiler.Pipeline) (orchestrator.Package, error) {
	plan := Plan{
		Name:            p.Name,
		VolumeParameter: p.Mount.Parameter,
		MountPath:       p.Mount.Path,
	}
	for _, step := range p.Steps() {
		plan.Steps = append(plan.Steps, PlanStep{
			Name:  step.Name,
			Image: step.Descriptor.Image,
			Argv:  step.Argv(),
			After: append([]string(nil), step.After...),
		})
	}
	body, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return orchestrator.Package{}, fmt.Errorf("encode docker plan: %w", err)
	}
	return orchestrator.Package{Name: p.Name, ContentType: ContentType, Body: body}, nil
}

// DecodePlan parses and checks a Plan package.
func DecodePlan(pkg orchestrator.Package) (Plan, error) {
	if pkg.ContentType != ContentType {
		return Plan{}, fmt.Errorf("unsupported package type %q", pkg.ContentType)
	}
	var plan Plan
	if err := json.Unmarshal(pkg.Body, &plan); err != nil {
		return Plan{}, fmt.Errorf("decode docker plan: %w", err)
	}
	seen := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		for _, dep := range step.After {
			if !seen[dep] {
				return Plan{}, fmt.Errorf("step %s runs after %s, which is not scheduled before it", step.Name, dep)
			}
		}
		seen[step.Name] = true
	}
	return plan, nil
}
