// Package engine is the HTTP client for the remote workflow automation
// engine. The engine is an opaque service: this client only moves workflow
// definitions and execution records across the wire.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ashvetsov/flowpilot/internal/domain"
)

// API defines the engine operations consumed by the rest of the service.
// The deployment orchestrator and the agent pipeline both program against
// this interface; tests substitute fakes.
type API interface {
	CreateWorkflow(ctx context.Context, candidate *domain.WorkflowCandidate) (*domain.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, wf *domain.Workflow) error
	ActivateWorkflow(ctx context.Context, id string) error
	DeactivateWorkflow(ctx context.Context, id string) error
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]domain.Execution, error)
	ExecuteWorkflow(ctx context.Context, id string, payload map[string]any) (map[string]any, error)
	BaseURL() string
}

// Client implements API over HTTP with a fixed API-key header.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates an engine client. No local timeout is applied; calls rely
// on the caller's context and the transport default.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

// BaseURL returns the engine's base URL, used for webhook URL construction.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateWorkflow registers a new workflow definition with the engine.
func (c *Client) CreateWorkflow(ctx context.Context, candidate *domain.WorkflowCandidate) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/workflows", candidate, &wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return &wf, nil
}

// GetWorkflow fetches the engine's current representation of a workflow.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/workflows/"+id, nil, &wf); err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return &wf, nil
}

// UpdateWorkflow replaces a workflow definition on the engine.
func (c *Client) UpdateWorkflow(ctx context.Context, id string, wf *domain.Workflow) error {
	if err := c.doJSON(ctx, http.MethodPut, "/api/v1/workflows/"+id, wf, nil); err != nil {
		return fmt.Errorf("update workflow %s: %w", id, err)
	}
	return nil
}

// ActivateWorkflow asks the engine to activate a workflow. Callers must
// confirm activation with a read-back; the call's success alone is not
// trusted.
func (c *Client) ActivateWorkflow(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/workflows/"+id+"/activate", nil, nil); err != nil {
		return fmt.Errorf("activate workflow %s: %w", id, err)
	}
	return nil
}

// DeactivateWorkflow asks the engine to deactivate a workflow.
func (c *Client) DeactivateWorkflow(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/workflows/"+id+"/deactivate", nil, nil); err != nil {
		return fmt.Errorf("deactivate workflow %s: %w", id, err)
	}
	return nil
}

// ListExecutions returns up to limit recent executions of a workflow.
func (c *Client) ListExecutions(ctx context.Context, workflowID string, limit int) ([]domain.Execution, error) {
	query := url.Values{}
	query.Set("workflowId", workflowID)
	query.Set("limit", strconv.Itoa(limit))
	path := "/api/v1/executions?" + query.Encode()
	var out struct {
		Data []domain.Execution `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list executions for %s: %w", workflowID, err)
	}
	return out.Data, nil
}

// ExecuteWorkflow triggers one test run with the given payload.
func (c *Client) ExecuteWorkflow(ctx context.Context, id string, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/workflows/"+id+"/run", payload, &out); err != nil {
		return nil, fmt.Errorf("execute workflow %s: %w", id, err)
	}
	return out, nil
}

// doJSON performs one round-trip with the API-key header, encoding in as the
// request body when non-nil and decoding the response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close engine response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode engine response: %w", err)
		}
	}
	return nil
}
