// Package api is the REST client for the document-analysis service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oremus-labs/kanuni/internal/logutil"
	"github.com/oremus-labs/kanuni/internal/metrics"
)

// maxResponseSize bounds JSON response reads.
const maxResponseSize int64 = 32 << 20

// TokenSource supplies bearer tokens. *auth.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client wraps API calls.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	UserAgent  string
}

// New returns a client for baseURL (for example https://host/api/v1).
func New(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Tokens:     tokens,
		UserAgent:  "kanuni-cli",
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, authenticated bool) (*http.Request, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	if authenticated {
		if c.Tokens == nil {
			return nil, fmt.Errorf("%s %s requires authentication", method, path)
		}
		token, err := c.Tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, target interface{}) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		metrics.ObserveAPIRequest(req.Method, 0)
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	metrics.ObserveAPIRequest(req.Method, resp.StatusCode)
	logutil.Debug("api request", map[string]interface{}{
		"method": req.Method,
		"path":   req.URL.Path,
		"status": resp.StatusCode,
	})
	if resp.StatusCode >= 300 {
		return newAPIError(req.Method, req.URL.Path, resp)
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading %s %s response: %w", req.Method, req.URL.Path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload, target interface{}, authenticated bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body, authenticated)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, target)
}

// GetJSON performs an authenticated GET.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	return c.send(ctx, http.MethodGet, path, nil, target, true)
}

// PostJSON performs an authenticated POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, payload, target interface{}) error {
	return c.send(ctx, http.MethodPost, path, payload, target, true)
}

// DeleteJSON performs an authenticated DELETE; payload may be nil.
func (c *Client) DeleteJSON(ctx context.Context, path string, payload, target interface{}) error {
	return c.send(ctx, http.MethodDelete, path, payload, target, true)
}

func (c *Client) postAnonymous(ctx context.Context, path string, payload, target interface{}) error {
	return c.send(ctx, http.MethodPost, path, payload, target, false)
}
