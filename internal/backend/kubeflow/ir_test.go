package kubeflow_test

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"autopipe/internal/appdag"
	"autopipe/internal/backend/kubeflow"
	"autopipe/internal/compiler"
	"autopipe/internal/steps"
)

func compilePipeline(t *testing.T, components []string, deps ...appdag.Edge) *compiler.Pipeline {
	t.Helper()
	spec := &appdag.Spec{Components: components, Edges: deps, InitialInput: "media/video.mp4"}
	c := compiler.NewWithOptions(compiler.Options{Name: "Kubeflow Autopipe"}, steps.Factory{RegistryPrefix: "myuser", Command: []string{"python", "main.py"}}, nil)
	p, err := c.Compile(spec)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	return p
}

func decodeDocuments(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	decoder := yaml.NewDecoder(bytes.NewReader(body))
	var docs []map[string]any
	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("decode IR: %v", err)
		}
		docs = append(docs, doc)
	}
	return docs
}

func lookup(t *testing.T, doc map[string]any, keys ...string) any {
	t.Helper()
	var current any = doc
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			t.Fatalf("path %v: %q is not a mapping", keys, key)
		}
		current, ok = m[key]
		if !ok {
			t.Fatalf("path %v: missing %q", keys, key)
		}
	}
	return current
}

func TestBuildIRStructure(t *testing.T) {
	p := compilePipeline(t, []string{"A", "B"}, appdag.Edge{Upstream: "A", Downstream: "B"})

	pkg, err := kubeflow.BuildIR(p, false)
	if err != nil {
		t.Fatalf("BuildIR returned error: %v", err)
	}
	docs := decodeDocuments(t, pkg.Body)
	if len(docs) != 2 {
		t.Fatalf("expected pipeline and platform documents, got %d", len(docs))
	}
	spec, platform := docs[0], docs[1]

	if got := lookup(t, spec, "schemaVersion"); got != "2.1.0" {
		t.Fatalf("unexpected schema version %v", got)
	}
	if got := lookup(t, spec, "pipelineInfo", "name"); got != "kubeflow-autopipe" {
		t.Fatalf("unexpected pipeline name %v", got)
	}
	lookup(t, spec, "root", "inputDefinitions", "parameters", "pvc_name")

	image := lookup(t, spec, "deploymentSpec", "executors", "exec-b", "container", "image")
	if image != "myuser/B:latest" {
		t.Fatalf("unexpected image %v", image)
	}
	args := lookup(t, spec, "deploymentSpec", "executors", "exec-b", "container", "args")
	wantArgs := []any{"-i", "{{$.inputs.parameters['input_path']}}", "-o", "{{$.inputs.parameters['output_path']}}"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("unexpected args %v", args)
	}

	input := lookup(t, spec, "root", "dag", "tasks", "b", "inputs", "parameters", "input_path", "runtimeValue", "constant")
	if input != "/mnt/data/A.tar.gz" {
		t.Fatalf("unexpected B input %v", input)
	}
	deps := lookup(t, spec, "root", "dag", "tasks", "b", "dependentTasks")
	if !reflect.DeepEqual(deps, []any{"a"}) {
		t.Fatalf("unexpected dependent tasks %v", deps)
	}
	if cache := lookup(t, spec, "root", "dag", "tasks", "a", "cachingOptions", "enableCache"); cache != false {
		t.Fatalf("expected caching disabled, got %v", cache)
	}
	if ingestInput := lookup(t, spec, "root", "dag", "tasks", "save-media", "inputs", "parameters", "input_path", "runtimeValue", "constant"); ingestInput != "video.mp4" {
		t.Fatalf("unexpected ingest input %v", ingestInput)
	}
	channel := lookup(t, spec, "root", "dag", "tasks", "a", "inputs", "parameters", "pipelinechannel--pvc_name", "componentInputParameter")
	if channel != "pvc_name" {
		t.Fatalf("expected volume channel bound to root parameter, got %v", channel)
	}

	mounts := lookup(t, platform, "platforms", "kubernetes", "deploymentSpec", "executors", "exec-save-media", "pvcMount")
	list, ok := mounts.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected pvcMount %v", mounts)
	}
	mount := list[0].(map[string]any)
	if mount["mountPath"] != "/mnt/data" || mount["componentInputParameter"] != "pipelinechannel--pvc_name" {
		t.Fatalf("unexpected mount %v", mount)
	}
}

func TestBuildIRRejectsTaskNameCollisions(t *testing.T) {
	p := compilePipeline(t, []string{"Stage", "stage"}, appdag.Edge{Upstream: "Stage", Downstream: "stage"})
	if _, err := kubeflow.BuildIR(p, false); err == nil {
		t.Fatal("expected collision error")
	}
}
