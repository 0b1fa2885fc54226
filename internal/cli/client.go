package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vpool/internal/model"
)

// APIError error response from the vpool API
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client minimal vpool API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ListWorkers GET /api/v1/workers
func (c *Client) ListWorkers(ctx context.Context) (*model.ListWorkersResponse, []byte, error) {
	var resp model.ListWorkersResponse
	raw, err := c.do(ctx, http.MethodGet, "/api/v1/workers", nil, &resp)
	return &resp, raw, err
}

// StopAllWorkers POST /api/v1/workers/stop-all
func (c *Client) StopAllWorkers(ctx context.Context) (*model.StopAllResponse, []byte, error) {
	var resp model.StopAllResponse
	raw, err := c.do(ctx, http.MethodPost, "/api/v1/workers/stop-all", nil, &resp)
	return &resp, raw, err
}

// Invite POST /api/v1/invitations
func (c *Client) Invite(ctx context.Context, req *model.CreateInvitationRequest) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/invitations", req, nil)
}

// Kick POST /api/v1/kick
func (c *Client) Kick(ctx context.Context, req *model.KickWorkerRequest) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/kick", req, nil)
}

// do sends the request and decodes a 2xx body into out, returning the raw body as well
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return raw, apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return raw, nil
}
