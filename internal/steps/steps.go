// Package steps derives container step descriptors from component names.
package steps

import (
	"strings"
	"sync"

	"autopipe/internal/config"
)

// Declared step parameters.
const (
	ParamInputPath  = "input_path"
	ParamOutputPath = "output_path"
)

// Descriptor is the reusable template for one component's container step.
type Descriptor struct {
	Name       string
	Image      string
	Command    []string
	Args       []string
	Parameters []string
}

// BindArgs substitutes each {param} placeholder in Args using resolve.
func (d Descriptor) BindArgs(resolve func(param string) string) []string {
	out := make([]string, len(d.Args))
	for i, arg := range d.Args {
		for _, param := range d.Parameters {
			arg = strings.ReplaceAll(arg, placeholder(param), resolve(param))
		}
		out[i] = arg
	}
	return out
}

// Argv returns the full command line for concrete paths.
func (d Descriptor) Argv(inputPath, outputPath string) []string {
	values := map[string]string{ParamInputPath: inputPath, ParamOutputPath: outputPath}
	argv := append([]string(nil), d.Command...)
	return append(argv, d.BindArgs(func(param string) string { return values[param] })...)
}

func placeholder(param string) string {
	return "{" + param + "}"
}

// Factory builds descriptors from the image naming convention. It never checks
// that an image exists.
type Factory struct {
	RegistryPrefix string
	Tag            string
	Command        []string
}

// NewFactory builds a factory from the images section of cfg.
func NewFactory(cfg *config.Config) Factory {
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	return Factory{
		RegistryPrefix: cfg.Images.RegistryPrefix,
		Tag:            cfg.Images.Tag,
		Command:        append([]string(nil), cfg.Images.Command...),
	}
}

// Describe returns the descriptor for name. Equal names yield equal descriptors.
func (f Factory) Describe(name string) Descriptor {
	return Descriptor{
		Name:       name,
		Image:      f.ImageFor(name),
		Command:    append([]string(nil), f.Command...),
		Args:       []string{"-i", placeholder(ParamInputPath), "-o", placeholder(ParamOutputPath)},
		Parameters: []string{ParamInputPath, ParamOutputPath},
	}
}

// ImageFor returns {prefix}/{name}:{tag}, or {name}:{tag} without a prefix.
func (f Factory) ImageFor(name string) string {
	tag := f.Tag
	if tag == "" {
		tag = "latest"
	}
	image := name + ":" + tag
	if prefix := strings.Trim(f.RegistryPrefix, "/"); prefix != "" {
		image = prefix + "/" + image
	}
	return image
}

// Catalog caches descriptors by component name for one pipeline build.
type Catalog struct {
	factory Factory

	mu    sync.Mutex
	items map[string]Descriptor
}

// NewCatalog returns an empty catalog backed by factory.
func NewCatalog(factory Factory) *Catalog {
	return &Catalog{factory: factory, items: make(map[string]Descriptor)}
}

// Get returns the cached descriptor for name, creating it on first use.
func (c *Catalog) Get(name string) Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.items[name]; ok {
		return d
	}
	d := c.factory.Describe(name)
	c.items[name] = d
	return d
}

// Len reports how many distinct descriptors were created.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
