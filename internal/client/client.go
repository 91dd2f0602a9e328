// Package client is the HTTP client for the daemon's operator API. The CLI
// uses it to query and steer workflows without touching the store directly.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docflow/internal/api"
)

// ErrNotFound is returned when the daemon reports a missing resource.
var ErrNotFound = errors.New("not found")

// Client talks to a running docflow daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the given API address. The address may be a bare
// host:port or a full URL.
func New(address, token string) *Client {
	trimmed := strings.TrimSpace(address)
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	return &Client{
		baseURL: strings.TrimRight(trimmed, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w (is it running?)", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, apiErrorMessage(resp.Body))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErrorMessage(resp.Body))
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiErrorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

// Health fetches the daemon health payload.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ingest registers a document workflow.
func (c *Client) Ingest(ctx context.Context, req api.IngestRequest) (api.IngestResponse, error) {
	var out api.IngestResponse
	err := c.do(ctx, http.MethodPost, "/api/ingest", req, &out)
	return out, err
}

// ListWorkflows returns workflows, optionally filtered by status names.
func (c *Client) ListWorkflows(ctx context.Context, statuses ...string) ([]api.WorkflowView, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	path := "/api/workflows"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out api.WorkflowListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// DescribeWorkflow fetches one workflow with its history.
func (c *Client) DescribeWorkflow(ctx context.Context, id string) (api.WorkflowView, error) {
	var out api.WorkflowResponse
	err := c.do(ctx, http.MethodGet, "/api/workflows/"+url.PathEscape(id), nil, &out)
	return out.Workflow, err
}

// TenantStatus fetches the tenant-facing projection of a workflow.
func (c *Client) TenantStatus(ctx context.Context, id string) (api.TenantStatusView, error) {
	var out api.TenantStatusView
	err := c.do(ctx, http.MethodGet, "/api/workflows/"+url.PathEscape(id)+"/status", nil, &out)
	return out, err
}

// ResetWorkflow moves a failed workflow back to pending.
func (c *Client) ResetWorkflow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/workflows/"+url.PathEscape(id)+"/reset", nil, nil)
}

// ListDeadLetters returns dead-letter entries.
func (c *Client) ListDeadLetters(ctx context.Context, includeRetried bool) ([]api.DeadLetterView, error) {
	path := "/api/deadletters"
	if includeRetried {
		path += "?includeRetried=true"
	}
	var out api.DeadLetterListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// LogPage fetches a page of daemon log lines. A negative offset tails the
// last limit lines; waitSeconds > 0 asks the daemon to hold the request
// until new lines appear past offset.
func (c *Client) LogPage(ctx context.Context, offset int64, limit, waitSeconds int) (api.LogPageResponse, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if waitSeconds > 0 {
		query.Set("wait", strconv.Itoa(waitSeconds))
	}
	var out api.LogPageResponse
	err := c.do(ctx, http.MethodGet, "/api/logs?"+query.Encode(), nil, &out)
	return out, err
}

// RetryDeadLetter re-dispatches a dead-lettered stage.
func (c *Client) RetryDeadLetter(ctx context.Context, id int64) (api.RetryResult, error) {
	var out api.RetryResult
	path := fmt.Sprintf("/api/deadletters/%d/retry", id)
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}
