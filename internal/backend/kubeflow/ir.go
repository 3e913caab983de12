package kubeflow

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"autopipe/internal/compiler"
	"autopipe/internal/orchestrator"
	"autopipe/internal/steps"
)

const (
	schemaVersion  = "2.1.0"
	sdkVersion     = "autopipe"
	parameterType  = "STRING"
	channelPrefix  = "pipelinechannel--"
	packageContent = "application/x-yaml"
)

type parameterSpec struct {
	ParameterType string `yaml:"parameterType"`
}

type inputDefinitions struct {
	Parameters map[string]parameterSpec `yaml:"parameters"`
}

type componentSpec struct {
	ExecutorLabel    string           `yaml:"executorLabel"`
	InputDefinitions inputDefinitions `yaml:"inputDefinitions"`
}

type containerSpec struct {
	Args    []string `yaml:"args"`
	Command []string `yaml:"command"`
	Image   string   `yaml:"image"`
}

type executorSpec struct {
	Container containerSpec `yaml:"container"`
}

type deploymentSpec struct {
	Executors map[string]executorSpec `yaml:"executors"`
}

type pipelineInfo struct {
	Description string `yaml:"description,omitempty"`
	Name        string `yaml:"name"`
}

type constantValue struct {
	Constant string `yaml:"constant"`
}

type taskInput struct {
	ComponentInputParameter string         `yaml:"componentInputParameter,omitempty"`
	RuntimeValue            *constantValue `yaml:"runtimeValue,omitempty"`
}

type taskInputs struct {
	Parameters map[string]taskInput `yaml:"parameters"`
}

type cachingOptions struct {
	EnableCache bool `yaml:"enableCache"`
}

type taskInfo struct {
	Name string `yaml:"name"`
}

type componentRef struct {
	Name string `yaml:"name"`
}

type taskSpec struct {
	CachingOptions cachingOptions `yaml:"cachingOptions"`
	ComponentRef   componentRef   `yaml:"componentRef"`
	DependentTasks []string       `yaml:"dependentTasks,omitempty"`
	Inputs         taskInputs     `yaml:"inputs"`
	TaskInfo       taskInfo       `yaml:"taskInfo"`
}

type dagSpec struct {
	Tasks map[string]taskSpec `yaml:"tasks"`
}

type rootSpec struct {
	Dag              dagSpec          `yaml:"dag"`
	InputDefinitions inputDefinitions `yaml:"inputDefinitions"`
}

type pipelineSpec struct {
	Components     map[string]componentSpec `yaml:"components"`
	DeploymentSpec deploymentSpec           `yaml:"deploymentSpec"`
	PipelineInfo   pipelineInfo             `yaml:"pipelineInfo"`
	Root           rootSpec                 `yaml:"root"`
	SchemaVersion  string                   `yaml:"schemaVersion"`
	SDKVersion     string                   `yaml:"sdkVersion"`
}

type pvcMount struct {
	ComponentInputParameter string `yaml:"componentInputParameter"`
	MountPath               string `yaml:"mountPath"`
}

type kubernetesExecutor struct {
	PvcMount []pvcMount `yaml:"pvcMount"`
}

type platformSpec struct {
	Platforms struct {
		Kubernetes struct {
			DeploymentSpec struct {
				Executors map[string]kubernetesExecutor `yaml:"executors"`
			} `yaml:"deploymentSpec"`
		} `yaml:"kubernetes"`
	} `yaml:"platforms"`
}

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// taskName lowers name into the DNS-label form KFP uses for tasks.
func taskName(name string) string {
	lowered := unsafeNameChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(lowered, "-")
}

// BuildIR renders p as a two-document KFP IR package.
func BuildIR(p *compiler.Pipeline, enableCache bool) (orchestrator.Package, error) {
	channel := channelPrefix + p.Mount.Parameter

	spec := pipelineSpec{
		Components:     make(map[string]componentSpec),
		DeploymentSpec: deploymentSpec{Executors: make(map[string]executorSpec)},
		PipelineInfo:   pipelineInfo{Name: taskName(p.Name), Description: p.Description},
		Root: rootSpec{
			Dag: dagSpec{Tasks: make(map[string]taskSpec)},
			InputDefinitions: inputDefinitions{Parameters: map[string]parameterSpec{
				p.Mount.Parameter: {ParameterType: parameterType},
			}},
		},
		SchemaVersion: schemaVersion,
		SDKVersion:    sdkVersion,
	}
	var platform platformSpec
	platform.Platforms.Kubernetes.DeploymentSpec.Executors = make(map[string]kubernetesExecutor)

	names := make(map[string]string, p.Len())
	for _, step := range p.Steps() {
		task := taskName(step.Name)
		if task == "" {
			return orchestrator.Package{}, fmt.Errorf("component %q has no valid task name", step.Name)
		}
		if other, ok := names[task]; ok {
			return orchestrator.Package{}, fmt.Errorf("components %q and %q map to the same task name %q", other, step.Name, task)
		}
		names[task] = step.Name
	}

	for _, step := range p.Steps() {
		task := taskName(step.Name)
		component := "comp-" + task
		executor := "exec-" + task

		spec.Components[component] = componentSpec{
			ExecutorLabel: executor,
			InputDefinitions: inputDefinitions{Parameters: map[string]parameterSpec{
				steps.ParamInputPath:  {ParameterType: parameterType},
				steps.ParamOutputPath: {ParameterType: parameterType},
				channel:               {ParameterType: parameterType},
			}},
		}
		spec.DeploymentSpec.Executors[executor] = executorSpec{Container: containerSpec{
			Image:   step.Descriptor.Image,
			Command: step.Descriptor.Command,
			Args: step.Descriptor.BindArgs(func(param string) string {
				return "{{$.inputs.parameters['" + param + "']}}"
			}),
		}}

		dependents := make([]string, 0, len(step.After))
		for _, pred := range step.After {
			dependents = append(dependents, taskName(pred))
		}
		spec.Root.Dag.Tasks[task] = taskSpec{
			CachingOptions: cachingOptions{EnableCache: enableCache},
			ComponentRef:   componentRef{Name: component},
			DependentTasks: dependents,
			Inputs: taskInputs{Parameters: map[string]taskInput{
				steps.ParamInputPath:  {RuntimeValue: &constantValue{Constant: step.InputPath}},
				steps.ParamOutputPath: {RuntimeValue: &constantValue{Constant: step.OutputPath}},
				channel:               {ComponentInputParameter: p.Mount.Parameter},
			}},
			TaskInfo: taskInfo{Name: task},
		}
		platform.Platforms.Kubernetes.DeploymentSpec.Executors[executor] = kubernetesExecutor{
			PvcMount: []pvcMount{{ComponentInputParameter: channel, MountPath: p.Mount.Path}},
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(spec); err != nil {
		return orchestrator.Package{}, fmt.Errorf("encode pipeline spec: %w", err)
	}
	if err := encoder.Encode(platform); err != nil {
		return orchestrator.Package{}, fmt.Errorf("encode platform spec: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return orchestrator.Package{}, fmt.Errorf("encode package: %w", err)
	}

	return orchestrator.Package{
		Name:        p.Name,
		ContentType: packageContent,
		Body:        buf.Bytes(),
	}, nil
}
