package compiler

import (
	"fmt"
	"io"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	"autopipe/internal/services"
	"autopipe/internal/steps"
)

// Mount describes how every step sees the shared volume.
type Mount struct {
	// Parameter is the run parameter that carries the concrete volume name.
	Parameter string
	// Path is the mount root inside each container.
	Path string
}

// Step is a descriptor bound to concrete paths and ordering constraints.
type Step struct {
	Name       string
	Descriptor steps.Descriptor
	InputPath  string
	OutputPath string
	After      []string
	Ingest     bool
}

// Argv returns the container command line for the step.
func (s *Step) Argv() []string {
	return s.Descriptor.Argv(s.InputPath, s.OutputPath)
}

// Pipeline is the compiled, backend independent plan.
type Pipeline struct {
	Name        string
	Description string
	Mount       Mount
	Ingest      string

	steps       map[string]*Step
	order       []string
	successors  map[string][]string
	unscheduled []string
	graph       graph.Graph[string, string]
}

func newPipeline(name, description string, mount Mount, ingest string) *Pipeline {
	return &Pipeline{
		Name:        name,
		Description: description,
		Mount:       mount,
		Ingest:      ingest,
		steps:       make(map[string]*Step),
		successors:  make(map[string][]string),
	}
}

func (p *Pipeline) addStep(step *Step) error {
	if _, exists := p.steps[step.Name]; exists {
		return services.Wrap(services.ErrDuplicateComponent, "compile", "add step", step.Name, nil)
	}
	p.steps[step.Name] = step
	return nil
}

// Step returns the named step.
func (p *Pipeline) Step(name string) (*Step, bool) {
	step, ok := p.steps[name]
	return step, ok
}

// Len reports the number of steps including ingest.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Order returns step names in a deterministic topological order.
func (p *Pipeline) Order() []string {
	return append([]string(nil), p.order...)
}

// Steps returns the steps in topological order.
func (p *Pipeline) Steps() []*Step {
	out := make([]*Step, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.steps[name])
	}
	return out
}

// Successors returns the steps that run after name.
func (p *Pipeline) Successors(name string) []string {
	return append([]string(nil), p.successors[name]...)
}

// Terminal returns steps nothing else depends on, in topological order.
func (p *Pipeline) Terminal() []string {
	var out []string
	for _, name := range p.order {
		if len(p.successors[name]) == 0 {
			out = append(out, name)
		}
	}
	return out
}

// Unscheduled lists declared components that appear on no edge.
func (p *Pipeline) Unscheduled() []string {
	return append([]string(nil), p.unscheduled...)
}

// WriteDOT renders the step graph in Graphviz DOT format.
func (p *Pipeline) WriteDOT(w io.Writer) error {
	if err := draw.DOT(p.graph, w, draw.GraphAttribute("rankdir", "LR")); err != nil {
		return fmt.Errorf("render dot: %w", err)
	}
	return nil
}

func (p *Pipeline) link() {
	for _, name := range p.order {
		for _, pred := range p.steps[name].After {
			p.successors[pred] = append(p.successors[pred], name)
		}
	}
	for name := range p.successors {
		sort.Strings(p.successors[name])
	}
}
