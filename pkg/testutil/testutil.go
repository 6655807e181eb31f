// Package testutil provides an HTTP client, admin client, and assertion
// helpers for testing the upstream double and the API twin.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// TwinClient is an HTTP client for a twin under test.
type TwinClient struct {
	BaseURL    string
	HTTPClient *http.Client
	// Header is sent with every request.
	Header http.Header
	t      *testing.T
}

// NewTwinClient creates a client pointed at a test server.
func NewTwinClient(t *testing.T, server *httptest.Server) *TwinClient {
	return &TwinClient{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Header:     make(http.Header),
		t:          t,
	}
}

// NewTwinClientURL creates a client pointed at a specific URL.
func NewTwinClientURL(t *testing.T, baseURL string) *TwinClient {
	return &TwinClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Header:     make(http.Header),
		t:          t,
	}
}

// WithHeader returns c after setting a header sent on every request.
func (c *TwinClient) WithHeader(name, value string) *TwinClient {
	c.Header.Set(name, value)
	return c
}

// Response wraps an HTTP response with helper methods.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("failed to unmarshal response: %v\nbody: %s", err, string(r.Body))
	}
}

// JSONMap returns the response body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// AssertStatus asserts the response has the expected status code.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	if r.StatusCode != expected {
		r.t.Errorf("expected status %d, got %d\nbody: %s", expected, r.StatusCode, string(r.Body))
	}
	return r
}

// AssertBodyContains asserts the response body contains the given substring.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !strings.Contains(string(r.Body), substr) {
		r.t.Errorf("expected body to contain %q, got: %s", substr, string(r.Body))
	}
	return r
}

// AssertResult asserts the body's "result" field.
func (r *Response) AssertResult(expected string) *Response {
	r.t.Helper()
	if got, _ := r.JSONMap()["result"].(string); got != expected {
		r.t.Errorf("expected result %q, got %q\nbody: %s", expected, got, string(r.Body))
	}
	return r
}

// Get performs a GET request.
func (c *TwinClient) Get(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, "", nil)
}

// Post performs a POST request with a JSON body. A nil body sends none.
func (c *TwinClient) Post(path string, body any) *Response {
	c.t.Helper()
	if body == nil {
		return c.do(http.MethodPost, path, "", nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("failed to marshal body: %v", err)
	}
	return c.do(http.MethodPost, path, "application/json", data)
}

// PostForm performs a POST request with a form-encoded body. Keys absent
// from values are not sent at all.
func (c *TwinClient) PostForm(path string, values url.Values) *Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, "application/x-www-form-urlencoded", []byte(values.Encode()))
}

// PostRaw performs a POST request with body sent verbatim.
func (c *TwinClient) PostRaw(path, contentType, body string) *Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, contentType, []byte(body))
}

func (c *TwinClient) do(method, path, contentType string, body []byte) *Response {
	c.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	for k, v := range c.Header {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("failed to read response: %v", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
		t:          c.t,
	}
}

// AdminClient provides convenience methods for the /admin/* control plane.
type AdminClient struct {
	*TwinClient
}

// NewAdminClient creates an admin client from a twin client.
func NewAdminClient(tc *TwinClient) *AdminClient {
	return &AdminClient{tc}
}

// Reset calls POST /admin/reset.
func (ac *AdminClient) Reset() *Response {
	ac.t.Helper()
	return ac.Post("/admin/reset", nil)
}

// GetState calls GET /admin/state.
func (ac *AdminClient) GetState() *Response {
	ac.t.Helper()
	return ac.Get("/admin/state")
}

// LoadState calls POST /admin/state with the given state data.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

// ProgramStub calls POST /admin/stubs on the upstream double.
func (ac *AdminClient) ProgramStub(endpoint, token, outcome string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/stubs", map[string]string{
		"endpoint": endpoint,
		"token":    token,
		"outcome":  outcome,
	})
}

// GetRequests calls GET /admin/requests.
func (ac *AdminClient) GetRequests() *Response {
	ac.t.Helper()
	return ac.Get("/admin/requests")
}

// Health calls GET /admin/health.
func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}
