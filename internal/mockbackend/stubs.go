// Package mockbackend is the programmable double of the upstream services the
// API under test depends on: POST /auth and POST /doAction answer from a
// table of stub rules keyed by (endpoint, token).
package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wondertwin-ai/authtwin/internal/metrics"
	"github.com/wondertwin-ai/authtwin/pkg/store"
)

// Outcome selects the canned response of a stub.
type Outcome string

const (
	Success Outcome = "success"
	Error   Outcome = "error"
)

// ParseOutcome accepts "success" or "error" in any case.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Success):
		return Success, nil
	case string(Error):
		return Error, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// Endpoint is an upstream path served by the double.
type Endpoint string

const (
	Auth     Endpoint = "/auth"
	DoAction Endpoint = "/doAction"
)

// ParseEndpoint accepts "/auth", "auth", "/doAction" or "doAction".
func ParseEndpoint(s string) (Endpoint, error) {
	switch "/" + strings.TrimPrefix(s, "/") {
	case string(Auth):
		return Auth, nil
	case string(DoAction):
		return DoAction, nil
	}
	return "", fmt.Errorf("unknown endpoint %q", s)
}

// Stub binds (Endpoint, Token) to a canned status and body.
type Stub struct {
	Endpoint Endpoint `json:"endpoint"`
	Token    string   `json:"token"`
	Outcome  Outcome  `json:"outcome"`
	Status   int      `json:"status"`
	Body     string   `json:"body"`
}

// NewStub builds the canned response for outcome on endpoint.
func NewStub(endpoint Endpoint, token string, outcome Outcome) (Stub, error) {
	s := Stub{Endpoint: endpoint, Token: token, Outcome: outcome}
	switch {
	case endpoint == Auth && outcome == Success:
		s.Status, s.Body = http.StatusOK, `{"status":"OK"}`
	case endpoint == Auth && outcome == Error:
		s.Status, s.Body = http.StatusInternalServerError, `{"error":"Internal Server Error"}`
	case endpoint == DoAction && outcome == Success:
		s.Status, s.Body = http.StatusOK, `{"status":"OK","action":"completed"}`
	case endpoint == DoAction && outcome == Error:
		s.Status, s.Body = http.StatusForbidden, `{"error":"Forbidden"}`
	default:
		return Stub{}, fmt.Errorf("no canned response for %s %s", endpoint, outcome)
	}
	return s, nil
}

// Stubs is the shared rule table. It is safe for concurrent use; programming
// the same (endpoint, token) again replaces the earlier rule.
type Stubs struct {
	rules *store.Store[Stub]
}

// NewStubs creates an empty table.
func NewStubs() *Stubs {
	return &Stubs{rules: store.New[Stub]()}
}

func stubKey(endpoint Endpoint, token string) string {
	return string(endpoint) + " " + token
}

// Program installs s and reports whether it replaced an existing rule.
func (t *Stubs) Program(s Stub) bool {
	metrics.StubProgramsTotal.WithLabelValues(string(s.Endpoint), string(s.Outcome)).Inc()
	return t.rules.Set(stubKey(s.Endpoint, s.Token), s)
}

// Match returns the rule for (endpoint, token).
func (t *Stubs) Match(endpoint Endpoint, token string) (Stub, bool) {
	return t.rules.Get(stubKey(endpoint, token))
}

// List returns the rules in programming order.
func (t *Stubs) List() []Stub { return t.rules.List() }

// Reset drops every rule.
func (t *Stubs) Reset() { t.rules.Reset() }

// Snapshot implements admin.StateStore.
func (t *Stubs) Snapshot() any { return t.rules.Snapshot() }

// LoadState implements admin.StateStore. The body is a snapshot as returned
// by GET /admin/state.
func (t *Stubs) LoadState(data []byte) error {
	var snap map[string]Stub
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	for key, s := range snap {
		if key != stubKey(s.Endpoint, s.Token) {
			return fmt.Errorf("stub key %q does not match endpoint %q and token %q", key, s.Endpoint, s.Token)
		}
	}
	t.rules.LoadSnapshot(snap)
	return nil
}
