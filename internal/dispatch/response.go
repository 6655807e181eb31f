package dispatch

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Result values the API under test reports in its body.
const (
	ResultOK    = "OK"
	ResultError = "ERROR"
)

// Response is a fully read HTTP response from the endpoint.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

type envelope struct {
	Result  *string `json:"result"`
	Message *string `json:"message"`
}

func (r *Response) envelope() envelope {
	var env envelope
	if r == nil {
		return env
	}
	// Non-JSON bodies simply have no result or message.
	_ = json.Unmarshal(r.Body, &env)
	return env
}

// Result returns the body's result field, or "" when there is none.
func (r *Response) Result() string {
	if env := r.envelope(); env.Result != nil {
		return *env.Result
	}
	return ""
}

// Message returns the body's message field. ok is false when the field is
// absent or the body is not a JSON object.
func (r *Response) Message() (msg string, ok bool) {
	if env := r.envelope(); env.Message != nil {
		return *env.Message, true
	}
	return "", false
}

// IsInvalidAPIKey reports whether r is the API's rejection of the key: HTTP
// 401, or a message containing "missing or invalid api key" in any case.
func IsInvalidAPIKey(r *Response) bool {
	if r == nil {
		return false
	}
	if r.StatusCode == http.StatusUnauthorized {
		return true
	}
	msg, ok := r.Message()
	return ok && strings.Contains(strings.ToLower(msg), "missing or invalid api key")
}
