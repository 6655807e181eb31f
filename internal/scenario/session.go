package scenario

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/wondertwin-ai/authtwin/internal/dispatch"
	"github.com/wondertwin-ai/authtwin/internal/metrics"
	"github.com/wondertwin-ai/authtwin/internal/mockbackend"
	"github.com/wondertwin-ai/authtwin/internal/report"
	"github.com/wondertwin-ai/authtwin/internal/token"
)

// ErrNoToken is returned by steps that need a current token when none is set.
var ErrNoToken = errors.New("no current token")

// User selects one of the two actors in multi-user scenarios.
type User int

const (
	FirstUser User = iota + 1
	SecondUser
)

func (u User) String() string {
	if u == SecondUser {
		return "second"
	}
	return "first"
}

type actor struct {
	token string
	last  *dispatch.Response
}

// Session is the state of one scenario. Steps of a scenario run in order on
// one goroutine, so a Session is not safe for concurrent use.
type Session struct {
	ID   string
	Name string

	runner *Runner
	creds  *dispatch.Credentials
	report report.Scoped
	logger *slog.Logger
	start  time.Time
	ended  bool

	autoFix   bool
	autoFixed bool

	current string
	last    *dispatch.Response
	record  dispatch.Record
	users   map[User]*actor
}

// Credentials returns the scenario's header set.
func (s *Session) Credentials() *dispatch.Credentials { return s.creds }

// Report returns the attachment sink scoped to this scenario.
func (s *Session) Report() report.Scoped { return s.report }

// AutoFixEnabled reports whether the fallback key retry is active.
func (s *Session) AutoFixEnabled() bool { return s.autoFix }

// AutoFixed reports whether the fallback key replaced the active key since
// the key was last set explicitly.
func (s *Session) AutoFixed() bool { return s.autoFixed }

// CurrentToken returns the token of the primary actor, or "" if none.
func (s *Session) CurrentToken() string { return s.current }

// SetCurrentToken replaces the primary actor's token.
func (s *Session) SetCurrentToken(tok string) { s.current = tok }

// LastResponse returns the response the assertions look at.
func (s *Session) LastResponse() *dispatch.Response { return s.last }

// LastDispatch returns the (action, token) pair of the most recent dispatch.
func (s *Session) LastDispatch() dispatch.Record { return s.record }

// SetAPIKey replaces the API key. A key containing one of the negative
// markers disables the fallback retry so a rejection stays observable; any
// other key enables it.
func (s *Session) SetAPIKey(value string) {
	s.creds.SetAPIKey(value)
	s.autoFixed = false
	s.autoFix = !s.isNegativeKey(value)

	s.report.Textf("API key set", "API Key: %s\napiKeyAutoFixEnabled=%t", token.Mask(value), s.autoFix)
	s.logger.Info("api key set", "key", token.Mask(value), "auto_fix", s.autoFix)
}

func (s *Session) isNegativeKey(value string) bool {
	lower := strings.ToLower(value)
	for _, m := range s.runner.deps.NegativeKeyMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// Dispatch sends (action, token) and makes the response the last response.
// Nil parameters are omitted from the request.
func (s *Session) Dispatch(ctx context.Context, action, tok *string) (*dispatch.Response, error) {
	resp, err := s.send(ctx, action, tok)
	if err != nil {
		return nil, err
	}
	s.last = resp
	return resp, nil
}

// DispatchAs sends action with the token of user u and records the response
// as that user's, leaving the last response untouched.
func (s *Session) DispatchAs(ctx context.Context, u User, action string) (*dispatch.Response, error) {
	a := s.actor(u)
	if a.token == "" {
		return nil, ErrNoToken
	}
	resp, err := s.send(ctx, &action, &a.token)
	if err != nil {
		return nil, err
	}
	a.last = resp
	return resp, nil
}

func (s *Session) send(ctx context.Context, action, tok *string) (*dispatch.Response, error) {
	s.record = dispatch.Record{Action: action, Token: tok}

	out, err := s.runner.deps.Dispatcher.Dispatch(ctx, dispatch.Call{
		Credentials: s.creds,
		AutoFix:     s.autoFix,
		Report:      s.report,
		Action:      action,
		Token:       tok,
	})
	if err != nil {
		return nil, err
	}
	if out.KeySwitched {
		s.autoFixed = true
	}
	return out.Response, nil
}

// Focus makes user u the primary actor: its token becomes current and its
// response the last response.
func (s *Session) Focus(u User) {
	a := s.actor(u)
	s.current = a.token
	s.last = a.last
}

// UserToken returns the token of user u, or "" if none.
func (s *Session) UserToken(u User) string { return s.actor(u).token }

// SetUserToken assigns a token to user u.
func (s *Session) SetUserToken(u User, tok string) { s.actor(u).token = tok }

// UserResponse returns the last response seen by user u.
func (s *Session) UserResponse(u User) *dispatch.Response { return s.actor(u).last }

func (s *Session) actor(u User) *actor {
	if s.users == nil {
		s.users = make(map[User]*actor, 2)
	}
	a, ok := s.users[u]
	if !ok {
		a = &actor{}
		s.users[u] = a
	}
	return a
}

// ProgramAuth programs the upstream /auth rule for tok. When an error rule
// arrives after a LOGIN for tok already succeeded, the LOGIN is replayed so
// the last response reflects the new rule.
func (s *Session) ProgramAuth(ctx context.Context, tok string, outcome mockbackend.Outcome) error {
	if err := s.runner.deps.Mock.ProgramAuth(ctx, tok, outcome); err != nil {
		return err
	}
	s.report.Textf("Mock setup", "auth %s for token: %s", outcome, token.Mask(tok))
	s.logger.Debug("auth stub programmed", "token", token.Mask(tok), "outcome", outcome)

	if outcome == mockbackend.Error {
		return s.compensate(ctx, tok)
	}
	return nil
}

// ProgramAction programs the upstream /doAction rule for tok.
func (s *Session) ProgramAction(ctx context.Context, tok string, outcome mockbackend.Outcome) error {
	if err := s.runner.deps.Mock.ProgramAction(ctx, tok, outcome); err != nil {
		return err
	}
	s.report.Textf("Mock setup", "action %s for token: %s", outcome, token.Mask(tok))
	s.logger.Debug("action stub programmed", "token", token.Mask(tok), "outcome", outcome)
	return nil
}

type replayState int

const (
	clean replayState = iota
	staleSuccess
)

func (s *Session) replayState(tok string) replayState {
	if s.record.IsLoginFor(tok) && s.last != nil && strings.EqualFold(s.last.Result(), dispatch.ResultOK) {
		return staleSuccess
	}
	return clean
}

// compensate replays a LOGIN that completed against the rule just replaced.
func (s *Session) compensate(ctx context.Context, tok string) error {
	if s.replayState(tok) == clean {
		return nil
	}
	metrics.LoginReplaysTotal.Inc()
	s.report.Textf("Replay LOGIN", "auth error programmed after a successful LOGIN; replaying LOGIN for token: %s", token.Mask(tok))
	s.logger.Info("replaying login", "token", token.Mask(tok))

	action := dispatch.ActionLogin
	_, err := s.Dispatch(ctx, &action, &tok)
	return err
}

// End finishes the scenario and records its result. runErr is the error the
// scenario failed with, if any. End is idempotent.
func (s *Session) End(runErr error) report.ScenarioResult {
	res := report.ScenarioResult{
		ID:       s.ID,
		Name:     s.Name,
		Passed:   runErr == nil,
		Start:    s.start,
		Duration: time.Since(s.start),
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	if s.ended {
		return res
	}
	s.ended = true
	s.runner.release()

	if w, ok := s.runner.deps.Sink.(report.ResultWriter); ok {
		if err := w.WriteResult(res); err != nil {
			s.logger.Error("writing scenario result", "err", err)
		}
	}
	s.logger.Info("scenario finished", "passed", res.Passed, "duration", res.Duration)
	return res
}
