// Package client provides a Go SDK for talking to one meshrelief region
// node over HTTP, wrapping the CRUD and status endpoints the way a CLI or
// an operator script would call them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"meshrelief/internal/document"
)

// Client talks to a single region node. It does not implement any
// replication logic itself — that is the server's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL (e.g. "http://localhost:5010"). timeout
// of 0 defaults to 10 seconds.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// CreatePostRequest is the body POST /api/posts expects.
type CreatePostRequest struct {
	UserID   string          `json:"user_id"`
	PostType string          `json:"post_type"`
	Message  string          `json:"message"`
	Location *document.Point `json:"location"`
	Region   string          `json:"region"`
	Capacity *int            `json:"capacity,omitempty"`
}

// CreatePost posts a new post and returns the stored document.
func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (*document.Post, error) {
	var post document.Post
	if err := c.doJSON(ctx, http.MethodPost, "/api/posts", req, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// GetPost fetches one post by ID.
func (c *Client) GetPost(ctx context.Context, id string) (DocumentResult, error) {
	var doc DocumentResult
	if err := c.doJSON(ctx, http.MethodGet, "/api/posts/"+id, nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DocumentResult is a loosely-typed document returned from the wire — the
// SDK doesn't assume the server's internal schema beyond JSON.
type DocumentResult map[string]any

// ListPosts queries GET /api/posts with the supplied filters.
func (c *Client) ListPosts(ctx context.Context, params url.Values) (DocumentResult, error) {
	path := "/api/posts"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var result DocumentResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeletePost removes a post by ID.
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/posts/"+id, nil, nil)
}

// MarkSafe posts {user_id} to /api/mark-safe.
func (c *Client) MarkSafe(ctx context.Context, userID string) (*document.Post, error) {
	var post document.Post
	body := map[string]string{"user_id": userID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/mark-safe", body, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// Status fetches the /status telemetry endpoint.
func (c *Client) Status(ctx context.Context) (DocumentResult, error) {
	var result DocumentResult
	if err := c.doJSON(ctx, http.MethodGet, "/status", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// JoinCluster registers the peer at baseURL (in region) with the target node.
func (c *Client) JoinCluster(ctx context.Context, region, baseURL string) error {
	body := map[string]string{"region": region, "base_url": baseURL}
	return c.doJSON(ctx, http.MethodPost, "/cluster/join", body, nil)
}

// LeaveCluster removes a peer by base URL.
func (c *Client) LeaveCluster(ctx context.Context, baseURL string) error {
	body := map[string]string{"base_url": baseURL}
	return c.doJSON(ctx, http.MethodPost, "/cluster/leave", body, nil)
}

// doJSON marshals body (if non-nil), sends the request, and decodes the
// response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// ErrNotFound is returned when the addressed document does not exist.
var ErrNotFound = fmt.Errorf("not found")

// APIError carries the HTTP status and error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
