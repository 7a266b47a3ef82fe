// Package client provides a Go client for the control plane REST and
// WebSocket surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// DefaultServerURL is used when no server is configured.
const DefaultServerURL = "http://localhost:3000"

// Client is an HTTP client for the control plane API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new control plane client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Is lets errors.Is match the domain sentinel named by the error code.
func (e *APIError) Is(target error) bool {
	return e.Code != "" && e.Code == domain.ErrorCode(target)
}

// Health is the body of GET /health.
type Health struct {
	Health      string `json:"health"`
	CacheLoaded bool   `json:"cacheLoaded"`
	CachedRuns  int    `json:"cachedRuns"`
	Connections int    `json:"connections"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Runs lists recent runs, newest first.
func (c *Client) Runs(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Runs []domain.Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// RunsByID returns the runs that exist among ids.
func (c *Client) RunsByID(ctx context.Context, ids []string) ([]domain.Run, error) {
	var resp struct {
		Runs []domain.Run `json:"runs"`
	}
	path := "/v1/runs?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Run returns a run, or nil if it does not exist.
func (c *Client) Run(ctx context.Context, runID string) (*domain.Run, error) {
	var resp struct {
		Run *domain.Run `json:"run"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Run, nil
}

// RunEvents returns the recorded events of a run.
func (c *Client) RunEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	var resp struct {
		RunEvents []domain.Event `json:"runEvents"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp.RunEvents, nil
}

// RegisterRun registers a new run.
func (c *Client) RegisterRun(ctx context.Context, req domain.RegisterRunRequest) (*domain.Run, error) {
	var resp struct {
		RegisterRun *domain.Run `json:"registerRun"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return resp.RegisterRun, nil
}

// ReportEvents sends a batch of events and returns how many were accepted.
func (c *Client) ReportEvents(ctx context.Context, events []domain.Event) (int, error) {
	var resp struct {
		ReportEvents int `json:"reportEvents"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/events", domain.ReportEventsRequest{Events: events}, &resp); err != nil {
		return 0, err
	}
	return resp.ReportEvents, nil
}

// CompleteRun marks a run as finished.
func (c *Client) CompleteRun(ctx context.Context, runID string, success bool, completedAt time.Time) (bool, error) {
	body := domain.CompleteRunRequest{RunID: runID, Success: success, CompletedAt: completedAt}
	return c.mutate(ctx, runID, "complete", "completeRun", body)
}

// CancelRun cancels a run.
func (c *Client) CancelRun(ctx context.Context, runID string) (bool, error) {
	return c.mutate(ctx, runID, "cancel", "cancelRun", nil)
}

// StopRun asks a run's agent to stop.
func (c *Client) StopRun(ctx context.Context, runID string) (bool, error) {
	return c.mutate(ctx, runID, "stop", "stopRun", nil)
}

// PauseRun pauses a running run.
func (c *Client) PauseRun(ctx context.Context, runID string) (bool, error) {
	return c.mutate(ctx, runID, "pause", "pauseRun", nil)
}

// ResumeRun resumes a paused run.
func (c *Client) ResumeRun(ctx context.Context, runID string) (bool, error) {
	return c.mutate(ctx, runID, "resume", "resumeRun", nil)
}

func (c *Client) mutate(ctx context.Context, runID, action, key string, body interface{}) (bool, error) {
	var resp map[string]bool
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/"+action, body, &resp); err != nil {
		return false, err
	}
	return resp[key], nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call control plane: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Code = errResp.Code
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// wsURL derives the push endpoint from the REST base URL.
func (c *Client) wsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/ws"
}
