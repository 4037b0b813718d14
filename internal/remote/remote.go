// Package remote wraps the authenticated HTTP transport used to talk to the
// script document store.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Doer sends an HTTP request. *http.Client satisfies it; credential
// injection is the Doer's concern.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPStatusError reports a non-2xx response
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Response is the part of an HTTP response the sync engine consumes
type Response struct {
	StatusCode   int
	ETag         string
	LastModified time.Time
	Body         []byte
}

// Client issues HEAD/GET/PUT requests against the document store
type Client struct {
	doer Doer
}

// NewClient creates a client on top of doer
func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

// Head fetches headers for url. A 404 is returned as a response, not an
// error, so callers can tell "absent" from "failed".
func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build HEAD request: %w", err)
	}
	return c.do(req, http.StatusNotFound)
}

// Get downloads url. ifModifiedSince is sent when non-zero; a 304 is
// returned as a response.
func (c *Client) Get(ctx context.Context, url string, ifModifiedSince time.Time) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build GET request: %w", err)
	}
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
	}
	return c.do(req, http.StatusNotModified)
}

// Put uploads body to url as application/json
func (c *Client) Put(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build PUT request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do sends req and returns an *HTTPStatusError for non-2xx codes other than
// the tolerated ones.
func (c *Client) do(req *http.Request, tolerated ...int) (*Response, error) {
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s response: %w", req.Method, req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ok := false
		for _, code := range tolerated {
			if resp.StatusCode == code {
				ok = true
				break
			}
		}
		if !ok {
			return nil, &HTTPStatusError{
				Method:     req.Method,
				URL:        req.URL.String(),
				StatusCode: resp.StatusCode,
				Body:       snippet(body),
			}
		}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		ETag:       resp.Header.Get("ETag"),
		Body:       body,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			out.LastModified = t
		}
	}
	return out, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// tokenTransport attaches a bearer token read from a file
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// NewHTTPClient returns an *http.Client that sends the token stored in
// tokenFile as a bearer credential. An empty tokenFile yields an
// unauthenticated client.
func NewHTTPClient(tokenFile string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if tokenFile == "" {
		return client, nil
	}

	token, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	client.Transport = &tokenTransport{
		token: strings.TrimSpace(string(token)),
		base:  http.DefaultTransport,
	}
	return client, nil
}
