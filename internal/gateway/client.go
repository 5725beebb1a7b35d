package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/config"
)

// client wraps the HTTP clients used for server requests. Regular API calls
// share a bounded-timeout client; streaming requests use one without an
// overall timeout so long-lived responses are not cut off.
type client struct {
	api    *http.Client
	stream *http.Client
	auth   config.AuthConfig
}

func newClient(auth config.AuthConfig, timeout time.Duration) *client {
	return &client{
		api:    &http.Client{Timeout: timeout},
		stream: &http.Client{},
		auth:   auth,
	}
}

// applyAuth attaches the configured credentials to a request.
func (c *client) applyAuth(req *http.Request) {
	switch c.auth.Scheme {
	case config.AuthCloudflareAccess:
		req.Header.Set("CF-Access-Client-Id", c.auth.ClientID)
		req.Header.Set("CF-Access-Client-Secret", c.auth.ClientSecret)
	case config.AuthAPIKey:
		req.Header.Set("Authorization", "Bearer "+c.auth.APIKey)
	case config.AuthCustomHeader:
		if c.auth.HeaderName != "" {
			req.Header.Set(c.auth.HeaderName, c.auth.HeaderValue)
		}
	}
}

// do issues a request and returns the raw response body. Transport failures,
// non-2xx statuses and body read errors are all classified application
// errors.
func (c *client) do(ctx context.Context, method, baseURL, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.FromJSON(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, apperr.Network("failed to build request", err.Error(), 0)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyAuth(req)

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, apperr.FromTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.FromTransport(err)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.FromHTTPStatus(resp.StatusCode, "request failed", string(data))
	}
	return data, nil
}

// getInto performs a GET and decodes the JSON response into out.
func (c *client) getInto(ctx context.Context, baseURL, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, baseURL, path, nil)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.FromJSON(err)
	}
	return nil
}

// openStream issues a GET with a streaming Accept header and returns the
// response body for the caller to consume. The caller owns closing it.
func (c *client) openStream(ctx context.Context, baseURL, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return nil, apperr.Network("failed to build request", err.Error(), 0)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, apperr.FromTransport(err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apperr.FromHTTPStatus(resp.StatusCode, "stream request failed", string(body))
	}
	return resp.Body, nil
}

// base returns the connected server URL, failing when disconnected.
func (g *Gateway) base() (string, error) {
	baseURL := g.BaseURL()
	if baseURL == "" {
		return "", apperr.NotConnected("not connected to a server")
	}
	return baseURL, nil
}

// Get fetches path from the connected server and decodes the JSON response.
func Get[T any](ctx context.Context, g *Gateway, path string) (T, error) {
	var out T
	baseURL, err := g.base()
	if err != nil {
		return out, err
	}
	if err := g.client.getInto(ctx, baseURL, path, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Post sends body to path on the connected server and decodes the JSON
// response.
func Post[T any](ctx context.Context, g *Gateway, path string, body any) (T, error) {
	var out T
	baseURL, err := g.base()
	if err != nil {
		return out, err
	}
	data, err := g.client.do(ctx, http.MethodPost, baseURL, path, body)
	if err != nil {
		return out, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return out, apperr.FromJSON(err)
		}
	}
	return out, nil
}

// Delete issues a DELETE against path on the connected server.
func Delete(ctx context.Context, g *Gateway, path string) error {
	baseURL, err := g.base()
	if err != nil {
		return err
	}
	_, err = g.client.do(ctx, http.MethodDelete, baseURL, path, nil)
	return err
}

// OpenStream opens a server-sent event stream against the connected server.
func (g *Gateway) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	baseURL, err := g.base()
	if err != nil {
		return nil, err
	}
	return g.client.openStream(ctx, baseURL, path)
}
