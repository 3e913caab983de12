package kubeflow_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"autopipe/internal/appdag"
	"autopipe/internal/backend/kubeflow"
	"autopipe/internal/orchestrator"
)

type fakeKFP struct {
	mu          sync.Mutex
	uploads     int
	experiments []string
	runBody     map[string]any
	runState    string
	runError    string
	cancelled   []string
	authHeader  string
	cookie      string
}

func (f *fakeKFP) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/apis/v2beta1/pipelines/upload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authHeader = r.Header.Get("Authorization")
		if c, err := r.Cookie("authservice_session"); err == nil {
			f.cookie = c.Value
		}
		file, _, err := r.FormFile("uploadfile")
		if err != nil {
			t.Errorf("missing uploadfile: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if !strings.Contains(string(data), "pvcMount") {
			t.Errorf("uploaded package missing platform spec")
		}
		if !strings.HasPrefix(r.URL.Query().Get("name"), "demo-") {
			t.Errorf("unexpected upload name %q", r.URL.Query().Get("name"))
		}
		f.uploads++
		_, _ = w.Write([]byte(`{"pipeline_id":"pipe-1","display_name":"demo"}`))
	})
	mux.HandleFunc("/apis/v2beta1/pipelines/pipe-1/versions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pipeline_versions":[{"pipeline_version_id":"ver-1","pipeline_id":"pipe-1"}]}`))
	})
	mux.HandleFunc("/apis/v2beta1/experiments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"experiments":[]}`))
		case http.MethodPost:
			var exp map[string]string
			_ = json.NewDecoder(r.Body).Decode(&exp)
			f.experiments = append(f.experiments, exp["display_name"])
			_, _ = w.Write([]byte(`{"experiment_id":"exp-1","display_name":"` + exp["display_name"] + `"}`))
		}
	})
	mux.HandleFunc("/apis/v2beta1/runs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&f.runBody)
		_, _ = w.Write([]byte(`{"run_id":"run-42"}`))
	})
	mux.HandleFunc("/apis/v2beta1/runs/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := strings.TrimPrefix(r.URL.Path, "/apis/v2beta1/runs/")
		if strings.HasSuffix(id, ":cancel") {
			f.cancelled = append(f.cancelled, strings.TrimSuffix(id, ":cancel"))
			_, _ = w.Write([]byte(`{}`))
			return
		}
		if id != "run-42" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{"run_id": id, "state": f.runState}
		if f.runError != "" {
			resp["error"] = map[string]any{"message": f.runError}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/apis/v2beta1/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"multi_user":false}`))
	})
	return mux
}

func newBackend(t *testing.T, fake *fakeKFP) *kubeflow.Backend {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	client := kubeflow.NewClientWithDoer(server.URL+"/", "secret-token", "session-abc", "team-1", server.Client())
	return kubeflow.NewWithClient(client, kubeflow.Options{}, nil)
}

func TestSubmitUploadsAndCreatesRun(t *testing.T) {
	fake := &fakeKFP{runState: "RUNNING"}
	backend := newBackend(t, fake)
	p := compilePipeline(t, []string{"A", "B"}, appdag.Edge{Upstream: "A", Downstream: "B"})
	p.Name = "demo"

	pkg, err := backend.Package(p)
	if err != nil {
		t.Fatalf("Package returned error: %v", err)
	}
	runID, err := backend.Submit(context.Background(), pkg, map[string]string{"pvc_name": "mypipe-pvc-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if runID != "run-42" {
		t.Fatalf("unexpected run id %q", runID)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.uploads != 1 {
		t.Fatalf("expected one upload, got %d", fake.uploads)
	}
	if fake.authHeader != "Bearer secret-token" || fake.cookie != "session-abc" {
		t.Fatalf("expected auth forwarded, got %q / %q", fake.authHeader, fake.cookie)
	}
	if len(fake.experiments) != 1 || fake.experiments[0] != "auto_kubepipe" {
		t.Fatalf("expected experiment created, got %v", fake.experiments)
	}
	if fake.runBody["display_name"] != "Pipeline run for mypipe-pvc-1" {
		t.Fatalf("unexpected run name %v", fake.runBody["display_name"])
	}
	runtime := fake.runBody["runtime_config"].(map[string]any)["parameters"].(map[string]any)
	if runtime["pvc_name"] != "mypipe-pvc-1" {
		t.Fatalf("expected pvc_name parameter, got %v", runtime)
	}
	ref := fake.runBody["pipeline_version_reference"].(map[string]any)
	if ref["pipeline_id"] != "pipe-1" || ref["pipeline_version_id"] != "ver-1" {
		t.Fatalf("unexpected version reference %v", ref)
	}
	if fake.runBody["experiment_id"] != "exp-1" {
		t.Fatalf("unexpected experiment id %v", fake.runBody["experiment_id"])
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		state  string
		errMsg string
		want   orchestrator.State
		detail string
	}{
		{"PENDING", "", orchestrator.StatePending, ""},
		{"RUNNING", "", orchestrator.StateRunning, ""},
		{"SUCCEEDED", "", orchestrator.StateSucceeded, ""},
		{"SKIPPED", "", orchestrator.StateSucceeded, ""},
		{"FAILED", "pod B: exit code 137", orchestrator.StateFailed, "pod B: exit code 137"},
		{"CANCELED", "", orchestrator.StateFailed, "run was canceled"},
	}
	for _, tc := range cases {
		t.Run(tc.state, func(t *testing.T) {
			fake := &fakeKFP{runState: tc.state, runError: tc.errMsg}
			status, err := newBackend(t, fake).Status(context.Background(), "run-42")
			if err != nil {
				t.Fatalf("Status returned error: %v", err)
			}
			if status.State != tc.want || status.Detail != tc.detail {
				t.Fatalf("got %+v, want state %s detail %q", status, tc.want, tc.detail)
			}
		})
	}
}

func TestStatusNotFound(t *testing.T) {
	_, err := newBackend(t, &fakeKFP{}).Status(context.Background(), "missing")
	if !kubeflow.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCancelAndHealthz(t *testing.T) {
	fake := &fakeKFP{}
	backend := newBackend(t, fake)
	if err := backend.Cancel(context.Background(), "run-42"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if err := backend.Client().Healthz(context.Background()); err != nil {
		t.Fatalf("Healthz returned error: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.cancelled) != 1 || fake.cancelled[0] != "run-42" {
		t.Fatalf("unexpected cancellations %v", fake.cancelled)
	}
}

func TestResultLocation(t *testing.T) {
	backend := newBackend(t, &fakeKFP{})
	location, err := backend.ResultLocation(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("ResultLocation returned error: %v", err)
	}
	if !strings.HasSuffix(location, "/#/runs/details/run-42") {
		t.Fatalf("unexpected location %q", location)
	}
}
