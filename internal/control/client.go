package control

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

	"notegraph/internal/system"
	"notegraph/internal/types"
)

// Client talks to a running service's control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for addr ("host:port" or a full URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Health returns nil when the service answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Status fetches the service status.
func (c *Client) Status(ctx context.Context) (*system.Status, error) {
	var st system.Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Force queues forced analysis of path, or of every document when empty.
func (c *Client) Force(ctx context.Context, path string) (int, error) {
	var resp ForceResponse
	if err := c.do(ctx, http.MethodPost, "/force", ForceRequest{Path: path}, &resp); err != nil {
		return 0, err
	}
	return resp.Queued, nil
}

// Apply asks the service to apply pending connections.
func (c *Client) Apply(ctx context.Context, minScore, minConfidence float64) (*system.ApplyReport, error) {
	var rep system.ApplyReport
	req := ApplyRequest{MinScore: minScore, MinConfidence: minConfidence}
	if err := c.do(ctx, http.MethodPost, "/apply", req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Pending lists unapplied connections meeting the thresholds.
func (c *Client) Pending(ctx context.Context, minScore, minConfidence float64) ([]*types.Connection, error) {
	q := url.Values{}
	q.Set("min_score", strconv.FormatFloat(minScore, 'g', -1, 64))
	q.Set("min_confidence", strconv.FormatFloat(minConfidence, 'g', -1, 64))

	var resp PendingResponse
	if err := c.do(ctx, http.MethodGet, "/connections/pending?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
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
		return fmt.Errorf("service unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
