package dispatch

import (
	"net/http"
	"sort"
	"strings"

	"github.com/wondertwin-ai/authtwin/internal/token"
)

// APIKeyHeader carries the API key on every request to the endpoint.
const APIKeyHeader = "X-Api-Key"

// Credentials is the header set a scenario sends with each dispatch. One
// instance lives for a whole scenario and is mutated in place when the API
// key changes. It is not safe for concurrent use; scenarios never share one.
type Credentials struct {
	header http.Header
}

// NewCredentials returns the default header set for apiKey.
func NewCredentials(apiKey string) *Credentials {
	h := make(http.Header)
	h.Set(APIKeyHeader, apiKey)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Accept", "application/json")
	return &Credentials{header: h}
}

// APIKey returns the active API key.
func (c *Credentials) APIKey() string { return c.header.Get(APIKeyHeader) }

// SetAPIKey replaces the active API key.
func (c *Credentials) SetAPIKey(key string) { c.header.Set(APIKeyHeader, key) }

// Set replaces the value of header name.
func (c *Credentials) Set(name, value string) { c.header.Set(name, value) }

// Get returns the value of header name, or "".
func (c *Credentials) Get(name string) string { return c.header.Get(name) }

// Apply copies the header set onto req.
func (c *Credentials) Apply(req *http.Request) {
	for name, values := range c.header {
		req.Header[name] = append([]string(nil), values...)
	}
}

// String renders the headers in name order with the API key masked.
func (c *Credentials) String() string {
	names := make([]string, 0, len(c.header))
	for name := range c.header {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		value := c.header.Get(name)
		if name == http.CanonicalHeaderKey(APIKeyHeader) {
			value = token.Mask(value)
		}
		b.WriteString(name + "=" + value)
	}
	b.WriteByte('}')
	return b.String()
}
