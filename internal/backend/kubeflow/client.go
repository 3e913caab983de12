package kubeflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autopipe/internal/config"
)

const apiPrefix = "/apis/v2beta1"

// HTTPDoer is the subset of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response from the KFP API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("kubeflow %s %s returned %d: %s", e.Method, e.Path, e.Status, body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the KFP v2beta1 REST API.
type Client struct {
	baseURL   string
	token     string
	cookie    string
	namespace string
	http      HTTPDoer
}

// NewClient builds a client from the kubeflow section of cfg.
func NewClient(cfg *config.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Kubeflow.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	httpClient := &http.Client{Transport: transport, Timeout: cfg.KubeflowRequestTimeout()}
	return NewClientWithDoer(cfg.Kubeflow.APIURL, cfg.Kubeflow.AuthToken, cfg.Kubeflow.SessionCookie, cfg.Kubeflow.Namespace, httpClient)
}

// NewClientWithDoer builds a client around an arbitrary HTTP implementation.
func NewClientWithDoer(baseURL, token, cookie, namespace string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:     strings.TrimSpace(token),
		cookie:    strings.TrimSpace(cookie),
		namespace: strings.TrimSpace(namespace),
		http:      doer,
	}
}

// BaseURL returns the API root the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Pipeline is an uploaded pipeline.
type Pipeline struct {
	ID          string `json:"pipeline_id"`
	DisplayName string `json:"display_name"`
}

// PipelineVersion is one version of an uploaded pipeline.
type PipelineVersion struct {
	ID          string `json:"pipeline_version_id"`
	PipelineID  string `json:"pipeline_id"`
	DisplayName string `json:"display_name"`
}

// Experiment groups runs in the KFP UI.
type Experiment struct {
	ID          string `json:"experiment_id"`
	DisplayName string `json:"display_name"`
	Namespace   string `json:"namespace,omitempty"`
}

// RunError carries the backend failure message.
type RunError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Run is the subset of a KFP run the backend reads.
type Run struct {
	ID          string    `json:"run_id"`
	DisplayName string    `json:"display_name"`
	State       string    `json:"state"`
	Error       *RunError `json:"error,omitempty"`
}

// RunRequest creates a run from an uploaded pipeline version.
type RunRequest struct {
	DisplayName    string
	ExperimentID   string
	PipelineID     string
	VersionID      string
	Parameters     map[string]string
	ServiceAccount string
}

// UploadPipeline uploads an IR package as a new pipeline.
func (c *Client) UploadPipeline(ctx context.Context, name, description string, body []byte) (Pipeline, error) {
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("uploadfile", "pipeline.yaml")
	if err != nil {
		return Pipeline{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(body); err != nil {
		return Pipeline{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Pipeline{}, fmt.Errorf("build upload form: %w", err)
	}

	query := url.Values{}
	query.Set("name", name)
	if description != "" {
		query.Set("description", description)
	}
	if c.namespace != "" {
		query.Set("namespace", c.namespace)
	}

	var pipeline Pipeline
	err = c.do(ctx, http.MethodPost, "/pipelines/upload", query, writer.FormDataContentType(), &form, &pipeline)
	if err != nil {
		return Pipeline{}, err
	}
	if pipeline.ID == "" {
		return Pipeline{}, errors.New("kubeflow upload response missing pipeline_id")
	}
	return pipeline, nil
}

// LatestVersion returns the newest version of pipelineID.
func (c *Client) LatestVersion(ctx context.Context, pipelineID string) (PipelineVersion, error) {
	query := url.Values{}
	query.Set("page_size", "1")
	query.Set("sort_by", "created_at desc")

	var page struct {
		Versions []PipelineVersion `json:"pipeline_versions"`
	}
	if err := c.do(ctx, http.MethodGet, "/pipelines/"+url.PathEscape(pipelineID)+"/versions", query, "", nil, &page); err != nil {
		return PipelineVersion{}, err
	}
	if len(page.Versions) == 0 {
		return PipelineVersion{}, fmt.Errorf("pipeline %s has no versions", pipelineID)
	}
	return page.Versions[0], nil
}

// EnsureExperiment returns the experiment named name, creating it when absent.
func (c *Client) EnsureExperiment(ctx context.Context, name string) (Experiment, error) {
	filter, err := json.Marshal(map[string]any{
		"predicates": []map[string]string{{
			"key":          "display_name",
			"operation":    "EQUALS",
			"string_value": name,
		}},
	})
	if err != nil {
		return Experiment{}, fmt.Errorf("encode experiment filter: %w", err)
	}
	query := url.Values{}
	query.Set("filter", string(filter))
	if c.namespace != "" {
		query.Set("namespace", c.namespace)
	}

	var page struct {
		Experiments []Experiment `json:"experiments"`
	}
	if err := c.do(ctx, http.MethodGet, "/experiments", query, "", nil, &page); err != nil {
		return Experiment{}, err
	}
	for _, exp := range page.Experiments {
		if exp.DisplayName == name {
			return exp, nil
		}
	}

	payload, err := json.Marshal(Experiment{DisplayName: name, Namespace: c.namespace})
	if err != nil {
		return Experiment{}, fmt.Errorf("encode experiment: %w", err)
	}
	var created Experiment
	if err := c.do(ctx, http.MethodPost, "/experiments", nil, "application/json", bytes.NewReader(payload), &created); err != nil {
		return Experiment{}, err
	}
	return created, nil
}

// CreateRun starts a run and returns its ID.
func (c *Client) CreateRun(ctx context.Context, req RunRequest) (string, error) {
	payload := map[string]any{
		"display_name": req.DisplayName,
		"pipeline_version_reference": map[string]string{
			"pipeline_id":         req.PipelineID,
			"pipeline_version_id": req.VersionID,
		},
		"runtime_config": map[string]any{
			"parameters": req.Parameters,
		},
	}
	if req.ExperimentID != "" {
		payload["experiment_id"] = req.ExperimentID
	}
	if req.ServiceAccount != "" {
		payload["service_account"] = req.ServiceAccount
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}
	var run Run
	if err := c.do(ctx, http.MethodPost, "/runs", nil, "application/json", bytes.NewReader(body), &run); err != nil {
		return "", err
	}
	if run.ID == "" {
		return "", errors.New("kubeflow run response missing run_id")
	}
	return run.ID, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, "", nil, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// CancelRun requests termination of a run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+":cancel", nil, "", nil, nil)
}

// Healthz checks that the API server answers.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	endpoint := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build kubeflow request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "authservice_session", Value: c.cookie})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kubeflow %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read kubeflow response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode kubeflow %s response: %w", path, err)
	}
	return nil
}
