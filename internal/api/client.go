// Package api is the request/response client for the backend: bulk fetch,
// mutation actions, and the keepalive probe. The push feed itself lives in
// the push package; this client only supplies its URL.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studyhall/liveview/internal/model"
	"github.com/studyhall/liveview/internal/session"
)

const identityHeader = "X-Identity-Key"

// Client talks to a single backend on behalf of a single identity.
type Client struct {
	baseURL  string
	identity session.Identity
	httpc    *http.Client
}

// New creates a Client. timeout bounds every request/response call.
func New(baseURL string, identity session.Identity, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		httpc:    &http.Client{Timeout: timeout},
	}
}

// EventsURL returns the URL of the push feed for this client's identity. The
// identity travels as a query parameter because the event stream cannot carry
// request headers in every transport.
func (c *Client) EventsURL() string {
	return c.baseURL + "/v1/events?identity=" + url.QueryEscape(c.identity.Key)
}

// ListEntries performs the bulk fetch used for initial population and resync.
func (c *Client) ListEntries(ctx context.Context) ([]model.Entry, error) {
	var out struct {
		Data []model.Entry `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/history", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListContexts fetches all parent contexts for the cache.
func (c *Client) ListContexts(ctx context.Context) ([]model.ParentContext, error) {
	var out struct {
		Data []model.ParentContext `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/contexts", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateEntry asks the server to create a conversation. The server's answer
// also arrives as an entry.created frame; the returned Entry is only for the
// caller's error handling, never merged directly.
func (c *Client) CreateEntry(ctx context.Context, title, parentID, correlationHint string) (model.Entry, error) {
	req := map[string]string{"title": title}
	if parentID != "" {
		req["parentId"] = parentID
	}
	if correlationHint != "" {
		req["correlationHint"] = correlationHint
	}
	var out model.Entry
	if err := c.do(ctx, http.MethodPost, "/v1/history", req, &out); err != nil {
		return model.Entry{}, err
	}
	return out, nil
}

// DeleteEntry removes a conversation by its server id.
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/history/"+url.PathEscape(id), nil, nil)
}

// CreateContext creates a parent context.
func (c *Client) CreateContext(ctx context.Context, name, icon string) (model.ParentContext, error) {
	var out model.ParentContext
	err := c.do(ctx, http.MethodPost, "/v1/contexts", map[string]string{"name": name, "icon": icon}, &out)
	if err != nil {
		return model.ParentContext{}, err
	}
	return out, nil
}

// RenameContext renames a parent context.
func (c *Client) RenameContext(ctx context.Context, id, name string) error {
	return c.do(ctx, http.MethodPatch, "/v1/contexts/"+url.PathEscape(id), map[string]string{"name": name}, nil)
}

// DeleteContext removes a parent context.
func (c *Client) DeleteContext(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/contexts/"+url.PathEscape(id), nil, nil)
}

// Ping is the lightweight keepalive probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/ping", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(identityHeader, c.identity.Key)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s response: %w", method, path, err)
	}
	return nil
}
