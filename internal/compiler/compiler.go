package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"autopipe/internal/appdag"
	"autopipe/internal/config"
	"autopipe/internal/logging"
	"autopipe/internal/services"
	"autopipe/internal/steps"
)

// Options control naming and path conventions.
type Options struct {
	Name            string
	Description     string
	MountRoot       string
	IngestComponent string
	VolumeParameter string
}

// OptionsFromConfig reads the pipeline section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Name:            cfg.Pipeline.Name,
		Description:     cfg.Pipeline.Description,
		MountRoot:       cfg.Pipeline.MountRoot,
		IngestComponent: cfg.Pipeline.IngestComponent,
		VolumeParameter: cfg.Pipeline.VolumeParameter,
	}
}

// Compiler builds pipelines from DAG specs.
type Compiler struct {
	opts    Options
	factory steps.Factory
	logger  *slog.Logger
}

// New constructs a compiler from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Compiler {
	return NewWithOptions(OptionsFromConfig(cfg), steps.NewFactory(cfg), logger)
}

// NewWithOptions constructs a compiler with explicit conventions.
func NewWithOptions(opts Options, factory steps.Factory, logger *slog.Logger) *Compiler {
	if opts.MountRoot == "" {
		opts.MountRoot = "/mnt/data"
	}
	if opts.IngestComponent == "" {
		opts.IngestComponent = "save-media"
	}
	if opts.VolumeParameter == "" {
		opts.VolumeParameter = "pvc_name"
	}
	return &Compiler{
		opts:    opts,
		factory: factory,
		logger:  logging.NewComponentLogger(logger, "compiler"),
	}
}

// inbound records the upstreams of one component in declaration order.
type inbound struct {
	upstreams []string
}

// Compile validates spec and produces its pipeline. Structural problems are
// reported before any step is created.
func (c *Compiler) Compile(spec *appdag.Spec) (*Pipeline, error) {
	if spec == nil {
		return nil, services.Wrap(services.ErrMalformedSpec, "compile", "", "spec is nil", nil)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.HasComponent(c.opts.IngestComponent) {
		return nil, services.Wrap(services.ErrMalformedSpec, "compile", "validate",
			fmt.Sprintf("component name %q is reserved for the ingest step", c.opts.IngestComponent), nil)
	}

	g, edges, err := c.buildGraph(spec.Edges)
	if err != nil {
		return nil, err
	}

	name := spec.Name
	if name == "" {
		name = c.opts.Name
	}
	pipeline := newPipeline(name, c.opts.Description, Mount{Parameter: c.opts.VolumeParameter, Path: c.opts.MountRoot}, c.opts.IngestComponent)
	pipeline.graph = g

	catalog := steps.NewCatalog(c.factory)
	// The ingest image carries the media file in its working directory, so it
	// receives only the file name.
	mediaName := path.Base(spec.InitialInput)
	if err := pipeline.addStep(&Step{
		Name:       c.opts.IngestComponent,
		Descriptor: catalog.Get(c.opts.IngestComponent),
		InputPath:  mediaName,
		OutputPath: strings.TrimRight(c.opts.MountRoot, "/") + "/",
		Ingest:     true,
	}); err != nil {
		return nil, err
	}

	inbounds := make(map[string]*inbound)
	for _, edge := range edges {
		in := inbounds[edge.Downstream]
		if in == nil {
			in = &inbound{}
			inbounds[edge.Downstream] = in
		}
		in.upstreams = append(in.upstreams, edge.Upstream)
	}

	rootInput := c.mountPath(mediaName)
	materialize := func(component string) error {
		if _, ok := pipeline.Step(component); ok {
			return nil
		}
		step := &Step{
			Name:       component,
			Descriptor: catalog.Get(component),
			OutputPath: c.mountPath(component),
		}
		if in := inbounds[component]; in != nil {
			step.InputPath = c.mountPath(in.upstreams[0] + ".tar.gz")
			step.After = sortedCopy(in.upstreams)
		} else {
			step.InputPath = rootInput
			step.After = []string{c.opts.IngestComponent}
		}
		return pipeline.addStep(step)
	}
	for _, edge := range edges {
		if err := materialize(edge.Upstream); err != nil {
			return nil, err
		}
		if err := materialize(edge.Downstream); err != nil {
			return nil, err
		}
	}

	if err := c.linkIngest(pipeline); err != nil {
		return nil, err
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, services.Wrap(services.ErrCycleDetected, "compile", "order", "", err)
	}
	if len(order) != pipeline.Len() {
		return nil, services.Wrap(services.ErrCycleDetected, "compile", "order",
			fmt.Sprintf("ordered %d of %d steps", len(order), pipeline.Len()), nil)
	}
	pipeline.order = order
	pipeline.link()

	for _, component := range spec.Components {
		if _, ok := pipeline.Step(component); !ok {
			pipeline.unscheduled = append(pipeline.unscheduled, component)
		}
	}

	c.logger.Debug("pipeline compiled",
		logging.Int("steps", pipeline.Len()),
		logging.Strings("order", order),
		logging.Strings("terminal", pipeline.Terminal()),
	)
	return pipeline, nil
}

// buildGraph adds every edge endpoint and rejects cycles. Repeated edges are
// dropped and the remaining edges keep declaration order.
func (c *Compiler) buildGraph(edges []appdag.Edge) (graph.Graph[string, string], []appdag.Edge, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	unique := make([]appdag.Edge, 0, len(edges))
	for _, edge := range edges {
		for _, vertex := range []string{edge.Upstream, edge.Downstream} {
			err := g.AddVertex(vertex, graph.VertexAttribute("shape", "box"))
			if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, nil, services.Wrap(services.ErrMalformedSpec, "compile", "add vertex", vertex, err)
			}
		}
		if edge.Upstream == edge.Downstream {
			return nil, nil, services.Wrap(services.ErrCycleDetected, "compile", "add edge",
				fmt.Sprintf("%s depends on itself", edge.Upstream), nil)
		}
		var opts []func(*graph.EdgeProperties)
		if label := strings.TrimSpace(edge.Annotation); label != "" {
			opts = append(opts, graph.EdgeAttribute("label", label))
		}
		err := g.AddEdge(edge.Upstream, edge.Downstream, opts...)
		switch {
		case err == nil:
			unique = append(unique, edge)
		case errors.Is(err, graph.ErrEdgeAlreadyExists):
			c.logger.Debug("duplicate dependency ignored", logging.String("edge", edge.String()))
		case errors.Is(err, graph.ErrEdgeCreatesCycle):
			return nil, nil, services.Wrap(services.ErrCycleDetected, "compile", "add edge", edge.String(), err)
		default:
			return nil, nil, services.Wrap(services.ErrMalformedSpec, "compile", "add edge", edge.String(), err)
		}
	}
	return g, unique, nil
}

// linkIngest adds the ingest vertex and its edges to every root step.
func (c *Compiler) linkIngest(p *Pipeline) error {
	if err := p.graph.AddVertex(p.Ingest, graph.VertexAttribute("shape", "folder")); err != nil {
		return services.Wrap(services.ErrDuplicateComponent, "compile", "add vertex", p.Ingest, err)
	}
	for name, step := range p.steps {
		if step.Ingest || len(step.After) != 1 || step.After[0] != p.Ingest {
			continue
		}
		if err := p.graph.AddEdge(p.Ingest, name); err != nil {
			return services.Wrap(services.ErrCycleDetected, "compile", "link ingest", name, err)
		}
	}
	return nil
}

func (c *Compiler) mountPath(leaf string) string {
	return path.Join(c.opts.MountRoot, leaf)
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
