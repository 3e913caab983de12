package docker_test

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"autopipe/internal/appdag"
	"autopipe/internal/backend/docker"
	"autopipe/internal/compiler"
	"autopipe/internal/orchestrator"
	"autopipe/internal/services"
	"autopipe/internal/steps"
	"autopipe/internal/testsupport"
)

func compilePipeline(t *testing.T, components []string, pairs ...string) *compiler.Pipeline {
	t.Helper()
	var deps []appdag.Edge
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ">", 2)
		deps = append(deps, appdag.Edge{Upstream: parts[0], Downstream: parts[1], Annotation: "_"})
	}
	c := compiler.NewWithOptions(compiler.Options{
		Name:            "local",
		MountRoot:       "/mnt/data",
		IngestComponent: "save-media",
		VolumeParameter: "pvc_name",
	}, steps.Factory{RegistryPrefix: "myuser", Command: []string{"python", "main.py"}}, nil)
	p, err := c.Compile(&appdag.Spec{Components: components, Edges: deps, InitialInput: "video.mp4"})
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	return p
}

func submit(t *testing.T, r *docker.Runner, p *compiler.Pipeline) string {
	t.Helper()
	pkg, err := r.Package(p)
	if err != nil {
		t.Fatalf("Package returned error: %v", err)
	}
	runID, err := r.Submit(context.Background(), pkg, map[string]string{"pvc_name": "vol-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if err := r.Wait(ctx, runID); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	return runID
}

func TestRunnerExecutesStepsInDependencyOrder(t *testing.T) {
	exec := &testsupport.StubExecutor{}
	r := docker.NewRunnerWithOptions(docker.RunnerOptions{Parallelism: 1}, exec, nil)
	runID := submit(t, r, compilePipeline(t, []string{"A", "B", "C"}, "A>B", "B>C"))

	status, err := r.Status(context.Background(), runID)
	if err != nil || status.State != orchestrator.StateSucceeded {
		t.Fatalf("expected success, got (%+v, %v)", status, err)
	}
	prefix := func(step string) string {
		return "docker run --rm --name autopipe-" + runID[:8] + "-" + step + " --label io.autopipe.managed=true -v vol-1:/mnt/data "
	}
	want := []string{
		prefix("save-media") + "myuser/save-media:latest python main.py -i video.mp4 -o /mnt/data/",
		prefix("A") + "myuser/A:latest python main.py -i /mnt/data/video.mp4 -o /mnt/data/A",
		prefix("B") + "myuser/B:latest python main.py -i /mnt/data/A.tar.gz -o /mnt/data/B",
		prefix("C") + "myuser/C:latest python main.py -i /mnt/data/B.tar.gz -o /mnt/data/C",
	}
	if got := exec.Commands(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected commands:\n%s", strings.Join(got, "\n"))
	}
	location, _ := r.ResultLocation(context.Background(), runID)
	if location != "docker volume vol-1" {
		t.Fatalf("unexpected location %q", location)
	}
}

// imageFailingExecutor fails every docker run of image.
type imageFailingExecutor struct {
	testsupport.StubExecutor
	image string
}

func (e *imageFailingExecutor) Run(ctx context.Context, binary string, args []string, stdin []byte) (services.Output, error) {
	out, err := e.StubExecutor.Run(ctx, binary, args, stdin)
	if slices.Contains(args, e.image) {
		return services.Output{Stderr: "boom"}, &services.CommandError{Binary: binary, Args: args, Stderr: "boom", Err: errors.New("exit status 1")}
	}
	return out, err
}

func TestRunnerSkipsSuccessorsOfFailedStep(t *testing.T) {
	exec := &imageFailingExecutor{image: "myuser/B:latest"}
	r := docker.NewRunnerWithOptions(docker.RunnerOptions{Parallelism: 2}, exec, nil)
	runID := submit(t, r, compilePipeline(t, []string{"A", "B", "C", "D"}, "A>B", "B>C", "A>D"))

	status, _ := r.Status(context.Background(), runID)
	if status.State != orchestrator.StateFailed {
		t.Fatalf("expected failure, got %+v", status)
	}
	if !strings.Contains(status.Detail, "step B failed") || !strings.Contains(status.Detail, "skipped: C") {
		t.Fatalf("unexpected detail %q", status.Detail)
	}
	stepStates, err := r.Steps(runID)
	if err != nil {
		t.Fatalf("Steps returned error: %v", err)
	}
	want := map[string]docker.StepState{
		"save-media": docker.StepSucceeded,
		"A":          docker.StepSucceeded,
		"B":          docker.StepFailed,
		"C":          docker.StepSkipped,
		"D":          docker.StepSucceeded,
	}
	if !reflect.DeepEqual(stepStates, want) {
		t.Fatalf("unexpected step states %v", stepStates)
	}
	for _, command := range exec.Commands() {
		if strings.Contains(command, "myuser/C:") {
			t.Fatalf("skipped step was executed: %s", command)
		}
	}
}

// daemonExecutor models the docker daemon: a step container keeps running
// after its client context ends and only exits once `docker rm -f` names it.
type daemonExecutor struct {
	mu      sync.Mutex
	started chan string
	running map[string]chan struct{}
	removed []string
}

func newDaemonExecutor() *daemonExecutor {
	return &daemonExecutor{started: make(chan string, 4), running: make(map[string]chan struct{})}
}

func (d *daemonExecutor) Run(_ context.Context, _ string, args []string, _ []byte) (services.Output, error) {
	switch args[0] {
	case "run":
		name := args[slices.Index(args, "--name")+1]
		exited := make(chan struct{})
		d.mu.Lock()
		d.running[name] = exited
		d.mu.Unlock()
		d.started <- name
		<-exited
		return services.Output{}, errors.New("exit status 137")
	case "rm":
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, name := range args[2:] {
			d.removed = append(d.removed, name)
			if exited, ok := d.running[name]; ok {
				close(exited)
				delete(d.running, name)
			}
		}
	}
	return services.Output{}, nil
}

func TestRunnerCancelStopsRun(t *testing.T) {
	exec := newDaemonExecutor()
	r := docker.NewRunnerWithOptions(docker.RunnerOptions{Parallelism: 1}, exec, nil)
	p := compilePipeline(t, []string{"A"})
	pkg, _ := r.Package(p)
	runID, err := r.Submit(context.Background(), pkg, map[string]string{"pvc_name": "vol-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	ingest := "autopipe-" + runID[:8] + "-save-media"
	if name := <-exec.started; name != ingest {
		t.Fatalf("unexpected first container %q", name)
	}
	if err := r.Cancel(context.Background(), runID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	exec.mu.Lock()
	removed := append([]string(nil), exec.removed...)
	exec.mu.Unlock()
	if !reflect.DeepEqual(removed, []string{ingest}) {
		t.Fatalf("expected docker rm -f of %s, got %v", ingest, removed)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx, runID); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	status, _ := r.Status(context.Background(), runID)
	if status.State != orchestrator.StateFailed || status.Detail != "run was canceled" {
		t.Fatalf("unexpected status %+v", status)
	}
	stepStates, _ := r.Steps(runID)
	if stepStates["A"] != docker.StepSkipped {
		t.Fatalf("expected A skipped, got %s", stepStates["A"])
	}
	if err := r.Cancel(context.Background(), runID); err == nil {
		t.Fatal("expected error canceling a finished run")
	}
}

func TestSubmitRejectsBadPackages(t *testing.T) {
	r := docker.NewRunnerWithOptions(docker.RunnerOptions{}, &testsupport.StubExecutor{}, nil)
	if _, err := r.Submit(context.Background(), orchestrator.Package{ContentType: "application/x-yaml"}, nil); err == nil {
		t.Fatal("expected error for foreign package type")
	}
	pkg, _ := r.Package(compilePipeline(t, []string{"A"}))
	if _, err := r.Submit(context.Background(), pkg, map[string]string{}); err == nil {
		t.Fatal("expected error when the volume parameter is missing")
	}
	outOfOrder := orchestrator.Package{
		ContentType: docker.ContentType,
		Body:        []byte(`{"steps":[{"name":"B","after":["A"]},{"name":"A"}]}`),
	}
	if _, err := docker.DecodePlan(outOfOrder); err == nil {
		t.Fatal("expected error for out of order plan")
	}
	if _, err := r.Status(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}
