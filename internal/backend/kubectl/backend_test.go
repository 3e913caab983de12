package kubectl_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"autopipe/internal/backend/kubectl"
	"autopipe/internal/services"
	"autopipe/internal/storage"
	"autopipe/internal/testsupport"
)

func newBackend(exec *testsupport.StubExecutor) *kubectl.Backend {
	return kubectl.NewWithOptions(kubectl.Options{
		Context:      "kind-dev",
		Namespace:    "team-1",
		StorageClass: "local-path",
	}, exec, nil)
}

func TestCreateAppliesPVCManifest(t *testing.T) {
	exec := &testsupport.StubExecutor{}
	if err := newBackend(exec).Create(context.Background(), "mypipe-pvc-1", "5Gi"); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if got := exec.Commands()[0]; got != "kubectl --context kind-dev apply -f -" {
		t.Fatalf("unexpected command %q", got)
	}

	var manifest struct {
		Kind     string `yaml:"kind"`
		Metadata struct {
			Name      string `yaml:"name"`
			Namespace string `yaml:"namespace"`
		} `yaml:"metadata"`
		Spec struct {
			AccessModes []string `yaml:"accessModes"`
			Resources   struct {
				Requests map[string]string `yaml:"requests"`
			} `yaml:"resources"`
			StorageClassName string `yaml:"storageClassName"`
		} `yaml:"spec"`
	}
	if err := yaml.Unmarshal(exec.Stdins[0], &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.Kind != "PersistentVolumeClaim" || manifest.Metadata.Name != "mypipe-pvc-1" || manifest.Metadata.Namespace != "team-1" {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	if manifest.Spec.AccessModes[0] != "ReadWriteOnce" || manifest.Spec.Resources.Requests["storage"] != "5Gi" || manifest.Spec.StorageClassName != "local-path" {
		t.Fatalf("unexpected spec %+v", manifest.Spec)
	}
}

func TestReadyPhases(t *testing.T) {
	cases := map[string]bool{"Bound": true, "Pending": true, "": false}
	for phase, want := range cases {
		exec := &testsupport.StubExecutor{Responses: map[string]testsupport.StubResponse{
			"kubectl --context kind-dev get pvc": {Stdout: phase + "\n"},
		}}
		got, err := newBackend(exec).Ready(context.Background(), "mypipe-pvc-1")
		if err != nil || got != want {
			t.Fatalf("phase %q: got (%v, %v), want %v", phase, got, err, want)
		}
	}
}

func TestFetchCommands(t *testing.T) {
	exec := &testsupport.StubExecutor{Responses: map[string]testsupport.StubResponse{
		"kubectl --context kind-dev get pod": {Stdout: "Running"},
	}}
	backend := newBackend(exec)

	ap, err := backend.AttachForCopy(context.Background(), "mypipe-pvc-1")
	if err != nil {
		t.Fatalf("AttachForCopy returned error: %v", err)
	}
	if !strings.HasPrefix(ap.Name, "pvc-access-") || ap.MountPath != "/mnt/data" {
		t.Fatalf("unexpected access point %+v", ap)
	}
	if !strings.Contains(string(exec.Stdins[0]), "claimName: mypipe-pvc-1") || !strings.Contains(string(exec.Stdins[0]), "busybox") {
		t.Fatalf("unexpected pod manifest:\n%s", exec.Stdins[0])
	}
	ready, err := backend.AccessReady(context.Background(), ap)
	if err != nil || !ready {
		t.Fatalf("expected access pod ready, got (%v, %v)", ready, err)
	}
	if err := backend.Copy(context.Background(), ap, "/tmp/out"); err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	if err := backend.Detach(context.Background(), ap); err != nil {
		t.Fatalf("Detach returned error: %v", err)
	}

	commands := exec.Commands()
	wantCopy := "kubectl --context kind-dev cp team-1/" + ap.Name + ":/mnt/data /tmp/out"
	if commands[2] != wantCopy {
		t.Fatalf("unexpected copy command %q", commands[2])
	}
	if !strings.HasPrefix(commands[3], "kubectl --context kind-dev delete pod "+ap.Name) {
		t.Fatalf("unexpected detach command %q", commands[3])
	}
}

func TestCopyFailureIsTransient(t *testing.T) {
	exec := &testsupport.StubExecutor{Responses: map[string]testsupport.StubResponse{
		"kubectl --context kind-dev cp": {Stderr: "error: unable to upgrade connection", Err: errors.New("exit status 1")},
	}}
	err := newBackend(exec).Copy(context.Background(), storage.AccessPoint{Name: "pvc-access-1", MountPath: "/mnt/data"}, "/tmp/out")
	if !errors.Is(err, services.ErrVolumeAccess) {
		t.Fatalf("expected volume access error, got %v", err)
	}
}

func TestDeleteForcesAndDetectsNotFound(t *testing.T) {
	exec := &testsupport.StubExecutor{}
	backend := newBackend(exec)
	if err := backend.Delete(context.Background(), "mypipe-pvc-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	want := "kubectl --context kind-dev delete pvc mypipe-pvc-1 -n team-1 --grace-period=0 --force --wait=false"
	if got := exec.Commands()[0]; got != want {
		t.Fatalf("unexpected delete command %q", got)
	}

	missing := &testsupport.StubExecutor{Responses: map[string]testsupport.StubResponse{
		"kubectl --context kind-dev delete pvc": {
			Stderr: `Error from server (NotFound): persistentvolumeclaims "mypipe-pvc-1" not found`,
			Err:    errors.New("exit status 1"),
		},
	}}
	err := newBackend(missing).Delete(context.Background(), "mypipe-pvc-1")
	if !errors.Is(err, services.ErrVolumeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
