package mockbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wondertwin-ai/authtwin/internal/token"
)

// Controller programs the upstream double on behalf of a scenario.
type Controller interface {
	ProgramAuth(ctx context.Context, token string, outcome Outcome) error
	ProgramAction(ctx context.Context, token string, outcome Outcome) error
	// Reset clears every rule. Callers hold exclusive access while resetting.
	Reset(ctx context.Context) error
}

// Local programs a rule table in the same process.
type Local struct {
	stubs  *Stubs
	logger *slog.Logger
}

// NewLocal returns a controller over stubs.
func NewLocal(stubs *Stubs, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{stubs: stubs, logger: logger}
}

func (l *Local) ProgramAuth(ctx context.Context, tok string, outcome Outcome) error {
	return l.program(Auth, tok, outcome)
}

func (l *Local) ProgramAction(ctx context.Context, tok string, outcome Outcome) error {
	return l.program(DoAction, tok, outcome)
}

func (l *Local) program(endpoint Endpoint, tok string, outcome Outcome) error {
	stub, err := NewStub(endpoint, tok, outcome)
	if err != nil {
		return err
	}
	l.stubs.Program(stub)
	l.logger.Debug("stub programmed", "endpoint", endpoint, "token", token.Mask(tok), "outcome", outcome)
	return nil
}

func (l *Local) Reset(ctx context.Context) error {
	l.stubs.Reset()
	l.logger.Debug("stubs reset")
	return nil
}

// Remote programs a double running in another process through its admin
// endpoints.
type Remote struct {
	http    *http.Client
	baseURL string
}

// NewRemote creates a Remote for the double at baseURL with a 5-second
// timeout.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		http:    &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *Remote) ProgramAuth(ctx context.Context, tok string, outcome Outcome) error {
	return c.program(ctx, Auth, tok, outcome)
}

func (c *Remote) ProgramAction(ctx context.Context, tok string, outcome Outcome) error {
	return c.program(ctx, DoAction, tok, outcome)
}

func (c *Remote) program(ctx context.Context, endpoint Endpoint, tok string, outcome Outcome) error {
	data, err := json.Marshal(programRequest{Endpoint: string(endpoint), Token: tok, Outcome: string(outcome)})
	if err != nil {
		return err
	}
	if _, err := c.post(ctx, "/admin/stubs", data); err != nil {
		return fmt.Errorf("programming %s stub: %w", endpoint, err)
	}
	return nil
}

// Reset calls POST /admin/reset.
func (c *Remote) Reset(ctx context.Context) error {
	if _, err := c.post(ctx, "/admin/reset", nil); err != nil {
		return fmt.Errorf("resetting mock: %w", err)
	}
	return nil
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *Remote) Health(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/health", nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return true, strings.TrimSpace(string(body))
	}
	return false, fmt.Sprintf("status %d: %s", resp.StatusCode, body)
}

func (c *Remote) post(ctx context.Context, path string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

// Disabled is the controller used against a live backend: programming is a
// no-op and the real upstream decides outcomes.
type Disabled struct{}

func (Disabled) ProgramAuth(context.Context, string, Outcome) error   { return nil }
func (Disabled) ProgramAction(context.Context, string, Outcome) error { return nil }
func (Disabled) Reset(context.Context) error                          { return nil }

var (
	_ Controller = (*Local)(nil)
	_ Controller = (*Remote)(nil)
	_ Controller = Disabled{}
)
