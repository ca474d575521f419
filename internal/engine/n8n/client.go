package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/divert-core/internal/infrastructure/config"
)

// Default timeouts for engine calls.
const (
	defaultCallTimeout  = 60 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

const (
	apiKeyHeader = "X-N8N-API-KEY"
	apiSuffix    = "/api/v1"
)

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Workflow is a workflow document as the engine stores it. The client only
// interprets id, name and active; everything else passes through.
type Workflow map[string]any

// ID returns the workflow id, normalised to a string.
func (w Workflow) ID() string {
	return idString(w["id"])
}

// Name returns the workflow name.
func (w Workflow) Name() string {
	s, _ := w["name"].(string) //nolint:errcheck // absent name is ""
	return s
}

// Active reports the engine-side activation flag.
func (w Workflow) Active() bool {
	b, _ := w["active"].(bool) //nolint:errcheck // absent flag is false
	return b
}

// ExecuteResult is the engine's answer to an execute call.
type ExecuteResult struct {
	Success     bool
	ExecutionID string
	Data        any
}

// Client talks to one workflow engine.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL        string
	webhookBaseURL string
	apiKey         string
	user           string
	password       string

	httpClient   *http.Client
	callTimeout  time.Duration
	probeTimeout time.Duration

	logger Logger
}

// New creates a client from the n8n configuration section.
//
// Parameters:
//   - cfg: n8n configuration from config.yaml
//   - httpClient: transport to use; nil gets a fresh http.Client
//
// Returns:
//   - *Client: ready to use; no connection is made until the first call
func New(cfg config.N8NConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		webhookBaseURL: strings.TrimRight(cfg.WebhookBaseURL, "/"),
		apiKey:         cfg.APIKey,
		user:           cfg.BasicAuthUser,
		password:       cfg.BasicAuthPassword,
		httpClient:     httpClient,
		callTimeout:    defaultCallTimeout,
		probeTimeout:   defaultProbeTimeout,
		logger:         noopLogger{},
	}
	if cfg.Timeout > 0 {
		c.callTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	if cfg.ProbeTimeout > 0 {
		c.probeTimeout = time.Duration(cfg.ProbeTimeout) * time.Second
	}
	if c.webhookBaseURL == "" {
		c.webhookBaseURL = strings.TrimSuffix(c.baseURL, apiSuffix)
	}
	return c
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebhookURL returns the public URL of a webhook path on the engine,
// e.g. http://localhost:5678/webhook/<path>.
func (c *Client) WebhookURL(path string) string {
	return c.webhookBaseURL + "/webhook/" + strings.TrimLeft(path, "/")
}

// Probe checks that the engine answers an authenticated list call.
// It uses the shorter probe timeout.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	resp, err := c.do(ctx, "probe", http.MethodGet, "/workflows?limit=1", nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return statusError("probe", resp)
	}
	return nil
}

// ListWorkflows returns every workflow installed on the engine.
// Pagination cursors are followed until exhausted.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var (
		all    []Workflow
		cursor string
	)
	for {
		path := "/workflows"
		if cursor != "" {
			path += "?cursor=" + url.QueryEscape(cursor)
		}

		var page struct {
			Data       []Workflow `json:"data"`
			NextCursor *string    `json:"nextCursor"`
		}
		if err := c.call(ctx, "list workflows", http.MethodGet, path, nil, &page, http.StatusOK); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		if page.NextCursor == nil || *page.NextCursor == "" {
			return all, nil
		}
		cursor = *page.NextCursor
	}
}

// GetWorkflow fetches one workflow by engine id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var wf Workflow
	if err := c.call(ctx, "get workflow", http.MethodGet, "/workflows/"+url.PathEscape(id), nil, &wf, http.StatusOK); err != nil {
		return nil, err
	}
	return wf, nil
}

// CreateWorkflow installs a workflow document and returns the id the
// engine assigned. Some engine versions answer 200 instead of 201; both
// are accepted.
func (c *Client) CreateWorkflow(ctx context.Context, doc map[string]any) (string, error) {
	var created Workflow
	if err := c.call(ctx, "create workflow", http.MethodPost, "/workflows", doc, &created, http.StatusCreated, http.StatusOK); err != nil {
		return "", err
	}

	id := created.ID()
	if id == "" {
		return "", fmt.Errorf("%w: create workflow: response has no id", ErrInvalidResponse)
	}
	c.logger.Info("workflow created on engine", "external_id", id, "name", created.Name())
	return id, nil
}

// Execute runs a workflow with inputs merged into the request body.
//
// A 200 response whose body carries "success": false is returned as a
// result with Success=false, not as an error. A body without the flag is
// treated as success.
func (c *Client) Execute(ctx context.Context, id string, inputs map[string]any) (*ExecuteResult, error) {
	body := make(map[string]any, len(inputs)+3)
	for k, v := range inputs {
		body[k] = v
	}
	body["workflowData"] = map[string]any{"id": id}
	body["startNodes"] = []any{}
	body["destinationNode"] = nil

	var raw struct {
		Success     *bool           `json:"success"`
		ExecutionID json.RawMessage `json:"executionId"`
		Data        any             `json:"data"`
	}
	path := "/workflows/" + url.PathEscape(id) + "/execute"
	if err := c.call(ctx, "execute workflow", http.MethodPost, path, body, &raw, http.StatusOK); err != nil {
		return nil, err
	}

	res := &ExecuteResult{
		Success:     raw.Success == nil || *raw.Success,
		ExecutionID: rawIDString(raw.ExecutionID),
		Data:        raw.Data,
	}
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	return res, nil
}

// Activate turns on a workflow's triggers.
func (c *Client) Activate(ctx context.Context, id string) error {
	return c.toggle(ctx, id, "activate")
}

// Deactivate turns off a workflow's triggers.
func (c *Client) Deactivate(ctx context.Context, id string) error {
	return c.toggle(ctx, id, "deactivate")
}

func (c *Client) toggle(ctx context.Context, id, action string) error {
	path := "/workflows/" + url.PathEscape(id) + "/" + action
	return c.call(ctx, action+" workflow", http.MethodPost, path, nil, nil, http.StatusOK, http.StatusNoContent)
}

// DeleteWorkflow removes a workflow from the engine.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.call(ctx, "delete workflow", http.MethodDelete, "/workflows/"+url.PathEscape(id), nil, nil, http.StatusOK, http.StatusNoContent)
}

// call performs a request with the per-call timeout, checks the status
// against want and decodes the body into out when out is non-nil.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any, want ...int) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.do(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	defer drain(resp)

	if !statusIn(resp.StatusCode, want) {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("n8n: %s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("n8n: %s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if c.user != "" && c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("engine call failed", "op", op, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, op, err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // partial body is fine
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func statusIn(code int, want []int) bool {
	for _, w := range want {
		if code == w {
			return true
		}
	}
	return false
}

// drain consumes and closes the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best effort
	resp.Body.Close()                     //nolint:errcheck,gosec // best effort
}

// idString normalises an engine id that may arrive as a string or a number.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func rawIDString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
