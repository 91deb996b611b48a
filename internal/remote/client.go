package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"visitsync/internal/config"
)

const userAgent = "Visitsync-Go/0.1.0"

// Client replays stored mutations against the upstream clinical visit API and
// answers connectivity probes. Any 2xx is success, 4xx is a non-retryable
// application error, and 5xx, timeouts, and transport failures are retryable.
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
}

// New creates a replay client from configuration.
func New(cfg *config.Config, deviceID string) *Client {
	timeout := time.Duration(cfg.API.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.API.BaseURL, "/"),
		token:    cfg.API.Token,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the upstream API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Result is a server-produced answer to a delivered write.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Deliver sends a write and returns whatever the server answered, success or
// not. A non-nil error means the request never reached the server.
func (c *Client) Deliver(ctx context.Context, method, url string, body []byte) (*Result, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+url, bodyReader)
	if err != nil {
		return nil, &ReplayError{Message: fmt.Sprintf("create request: %v", err)}
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// Replay executes a stored mutation. A nil return means the server accepted
// the write; failures are classified via *ReplayError or, for transport
// errors, left as wrapped network errors (always retryable).
func (c *Client) Replay(ctx context.Context, method, url string, body []byte) error {
	res, err := c.Deliver(ctx, method, url, body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	return newReplayError(res)
}

// CheckHealth probes the API health endpoint. Used by the network monitor;
// any response from the server, including an error status, proves
// reachability, so only transport failures are returned.
func (c *Client) CheckHealth(ctx context.Context, healthPath string, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
	if c.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newReplayError(res *Result) *ReplayError {
	replayErr := &ReplayError{
		StatusCode: res.StatusCode,
		Message:    fmt.Sprintf("%d %s", res.StatusCode, http.StatusText(res.StatusCode)),
	}

	data := res.Body
	if len(data) > 16*1024 {
		data = data[:16*1024]
	}
	if len(data) == 0 {
		return replayErr
	}

	var body apiError
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Message != "" && body.Code != "":
			replayErr.Message = body.Code + ": " + body.Message
		case body.Message != "":
			replayErr.Message = body.Message
		case body.Error != "":
			replayErr.Message = body.Error
		}
		return replayErr
	}

	if text := strings.TrimSpace(string(data)); text != "" {
		replayErr.Message = truncate(text, 200)
	}
	return replayErr
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
