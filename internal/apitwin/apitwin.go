// Package apitwin is an in-memory twin of the API under test: a single
// form-encoded endpoint that logs tokens in against the upstream /auth
// service, performs actions through /doAction, and logs them out.
package apitwin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wondertwin-ai/authtwin/internal/token"
	"github.com/wondertwin-ai/authtwin/pkg/admin"
	"github.com/wondertwin-ai/authtwin/pkg/store"
	"github.com/wondertwin-ai/authtwin/pkg/twincore"
)

// Messages returned in the "message" field.
const (
	MsgInvalidAPIKey  = "Missing or invalid API Key"
	MsgTokenNull      = "token: must not be null"
	MsgTokenShape     = "token: must be 32 characters [0-9A-F]"
	MsgTokenNotFound  = "token not found"
	MsgInternalError  = "Internal Server Error"
	allowedActionList = "LOGIN, LOGOUT, ACTION"
)

// Config configures the twin.
type Config struct {
	Twin         twincore.Config
	APIKey       string
	EndpointPath string
	// UpstreamURL is the base URL of the /auth and /doAction services.
	UpstreamURL     string
	UpstreamTimeout time.Duration
}

// Session is a logged-in token.
type Session struct {
	Token      string    `json:"token"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// Sessions is the twin's session table.
type Sessions struct {
	s *store.Store[Session]
}

func NewSessions() *Sessions { return &Sessions{s: store.New[Session]()} }

func (s *Sessions) Snapshot() any { return s.s.Snapshot() }

func (s *Sessions) Reset() { s.s.Reset() }

func (s *Sessions) LoadState(data []byte) error {
	var snap map[string]Session
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.s.LoadSnapshot(snap)
	return nil
}

// Active reports whether tok has a session.
func (s *Sessions) Active(tok string) bool {
	_, ok := s.s.Get(tok)
	return ok
}

// Twin serves the endpoint and its admin plane.
type Twin struct {
	cfg      Config
	twin     *twincore.Twin
	sessions *Sessions
	upstream *http.Client
}

type response struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// New builds the twin.
func New(cfg Config, logger *slog.Logger) *Twin {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/endpoint"
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 5 * time.Second
	}
	cfg.UpstreamURL = strings.TrimRight(cfg.UpstreamURL, "/")

	t := &Twin{
		cfg:      cfg,
		twin:     twincore.New(&cfg.Twin, logger),
		sessions: NewSessions(),
		upstream: &http.Client{Timeout: cfg.UpstreamTimeout},
	}
	t.twin.Router.Post(cfg.EndpointPath, t.handleEndpoint)
	admin.NewHandler(t.sessions, t.twin.Middleware()).Routes(t.twin.Router)
	return t
}

// Sessions returns the session table.
func (t *Twin) Sessions() *Sessions { return t.sessions }

func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) { t.twin.ServeHTTP(w, r) }

// Serve listens on the configured port until ctx is done.
func (t *Twin) Serve(ctx context.Context) error { return t.twin.Serve(ctx) }

// ServeListener serves on ln until ctx is done.
func (t *Twin) ServeListener(ctx context.Context, ln net.Listener) error {
	return t.twin.ServeListener(ctx, ln)
}

func (t *Twin) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Api-Key") != t.cfg.APIKey {
		twincore.JSON(w, http.StatusUnauthorized, response{Result: "ERROR", Message: MsgInvalidAPIKey})
		return
	}
	if err := r.ParseForm(); err != nil {
		t.fail(w, "invalid form: "+err.Error())
		return
	}

	action, tok, problems := validate(r)
	if len(problems) > 0 {
		t.fail(w, strings.Join(problems, "; "))
		return
	}

	log := t.twin.Logger.With("action", action, "token", token.Mask(tok))
	switch action {
	case "LOGIN":
		if err := t.callUpstream(r.Context(), "/auth", tok); err != nil {
			log.Info("login rejected", "err", err)
			t.fail(w, MsgInternalError)
			return
		}
		t.sessions.s.Set(tok, Session{Token: tok, LoggedInAt: time.Now().UTC()})
	case "ACTION":
		if !t.sessions.Active(tok) {
			t.fail(w, MsgTokenNotFound)
			return
		}
		if err := t.callUpstream(r.Context(), "/doAction", tok); err != nil {
			log.Info("action rejected", "err", err)
			t.fail(w, MsgInternalError)
			return
		}
	case "LOGOUT":
		if !t.sessions.s.Delete(tok) {
			t.fail(w, MsgTokenNotFound)
			return
		}
	}
	log.Debug("request ok")
	twincore.JSON(w, http.StatusOK, response{Result: "OK"})
}

func (t *Twin) fail(w http.ResponseWriter, msg string) {
	twincore.JSON(w, http.StatusOK, response{Result: "ERROR", Message: msg})
}

func validate(r *http.Request) (action, tok string, problems []string) {
	actions, hasAction := r.PostForm["action"]
	switch {
	case !hasAction:
		problems = append(problems, fmt.Sprintf("action: invalid action 'null'. Allowed: %s", allowedActionList))
	default:
		action = actions[0]
		if action != "LOGIN" && action != "ACTION" && action != "LOGOUT" {
			problems = append(problems, fmt.Sprintf("action: invalid action '%s'. Allowed: %s", action, allowedActionList))
		}
	}

	tokens, hasToken := r.PostForm["token"]
	switch {
	case !hasToken:
		problems = append(problems, MsgTokenNull)
	case !token.IsValid(tokens[0]):
		problems = append(problems, MsgTokenShape)
	default:
		tok = tokens[0]
	}
	return action, tok, problems
}

// callUpstream posts "token=<tok>" to path and fails unless it answers 200.
func (t *Twin) callUpstream(ctx context.Context, path, tok string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.UpstreamURL+path, strings.NewReader("token="+tok))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.upstream.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream %s returned %d", path, resp.StatusCode)
	}
	return nil
}
