package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/change"
	apihttp "github.com/fyrsmithlabs/canopy/internal/http"
)

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// HTTPClient calls the canopy admin API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the API at baseURL (for example
// "http://127.0.0.1:9124"). token, when set, is sent as a bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health calls GET /health.
func (c *HTTPClient) Health(ctx context.Context) (apihttp.HealthResponse, error) {
	var resp apihttp.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Status calls GET /api/v1/status.
func (c *HTTPClient) Status(ctx context.Context) (apihttp.StatusResponse, error) {
	var resp apihttp.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &resp)
	return resp, err
}

// Tree calls GET /api/v1/tree.
func (c *HTTPClient) Tree(ctx context.Context) (apihttp.TreeResponse, error) {
	var resp apihttp.TreeResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/tree", nil, &resp)
	return resp, err
}

// Apply submits a change and returns the resulting tree hash.
func (c *HTTPClient) Apply(ctx context.Context, ch change.Change) (string, error) {
	var resp apihttp.HashResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/changes", change.ToDocument(ch), &resp); err != nil {
		return "", err
	}
	return resp.Hash, nil
}

// Trigger presses the Button node id and returns the resulting tree hash.
func (c *HTTPClient) Trigger(ctx context.Context, id uuid.UUID) (string, error) {
	var resp apihttp.HashResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/nodes/"+id.String()+"/trigger", nil, &resp); err != nil {
		return "", err
	}
	return resp.Hash, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, request, result any) error {
	var body io.Reader
	if request != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(request); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er apihttp.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Message != "" {
			apiErr.Message = er.Message
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
