package scenario

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wondertwin-ai/authtwin/internal/dispatch"
	"github.com/wondertwin-ai/authtwin/internal/mockbackend"
	"github.com/wondertwin-ai/authtwin/internal/token"
	"github.com/wondertwin-ai/authtwin/internal/verify"
)

// The operations below are the named steps scenarios are written in. They
// program the upstream double before dispatching, so they work the same
// against the in-process double, a remote one, or none at all.

// CheckAvailability probes the service: GET / must answer with any HTTP
// status, and a LOGIN with a fresh token must not answer 5xx. The probe does
// not touch the scenario's last response.
func (s *Session) CheckAvailability(ctx context.Context) error {
	d := s.runner.deps.Dispatcher

	ping, err := d.Get(ctx, s.creds, "/")
	if err != nil {
		s.report.Textf("Availability error", "%v", err)
		return fmt.Errorf("service did not answer GET /: %w", err)
	}
	if ping.StatusCode < 100 || ping.StatusCode > 599 {
		return fmt.Errorf("service answered GET / with status %d", ping.StatusCode)
	}

	tok := token.Valid()
	if err := s.runner.deps.Mock.ProgramAuth(ctx, tok, mockbackend.Success); err != nil {
		return err
	}
	action := dispatch.ActionLogin
	out, err := d.Dispatch(ctx, dispatch.Call{
		Credentials: s.creds,
		AutoFix:     s.autoFix,
		Report:      s.report,
		Action:      &action,
		Token:       &tok,
	})
	if err != nil {
		s.report.Textf("Availability error", "%v", err)
		return err
	}
	if out.KeySwitched {
		s.autoFixed = true
	}
	status := out.Response.StatusCode
	s.report.Textf("Availability check",
		"BaseURL: %s\nGET / -> %d\nPOST (LOGIN) -> %d\nHeaders: %s\nAPI key auto-fixed: %t\nAPI key auto-fix enabled: %t",
		d.URL(), ping.StatusCode, status, s.creds, s.autoFixed, s.autoFix)
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("service answers %d on LOGIN", status)
	}
	return nil
}

func (s *Session) requireToken() (string, error) {
	if s.current == "" {
		return "", ErrNoToken
	}
	return s.current, nil
}

func (s *Session) dispatchCurrent(ctx context.Context, action string) error {
	tok, err := s.requireToken()
	if err != nil {
		return err
	}
	_, err = s.Dispatch(ctx, &action, &tok)
	return err
}

// Authenticate logs in with a fresh valid token and requires OK.
func (s *Session) Authenticate(ctx context.Context) error {
	if err := s.LoginWithFreshToken(ctx); err != nil {
		return err
	}
	if err := verify.ExpectResult(s.last, dispatch.ResultOK); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	s.report.Textf("Authentication", "Token: %s", token.Mask(s.current))
	return nil
}

// LoginWithFreshToken programs auth success for a new token and sends LOGIN.
func (s *Session) LoginWithFreshToken(ctx context.Context) error {
	return s.SendWithFreshToken(ctx, dispatch.ActionLogin)
}

// SendWithFreshToken sends action with a new valid token, programming the
// upstream rule the action needs to succeed.
func (s *Session) SendWithFreshToken(ctx context.Context, action string) error {
	s.current = token.Valid()
	switch action {
	case dispatch.ActionLogin:
		if err := s.ProgramAuth(ctx, s.current, mockbackend.Success); err != nil {
			return err
		}
	case dispatch.ActionDo:
		if err := s.ProgramAction(ctx, s.current, mockbackend.Success); err != nil {
			return err
		}
	}
	return s.dispatchCurrent(ctx, action)
}

// SendWithCurrentToken sends action with the current token as is.
func (s *Session) SendWithCurrentToken(ctx context.Context, action string) error {
	return s.dispatchCurrent(ctx, action)
}

// ActionWithCurrentToken programs action success for the current token and
// sends ACTION.
func (s *Session) ActionWithCurrentToken(ctx context.Context) error {
	tok, err := s.requireToken()
	if err != nil {
		return err
	}
	if err := s.ProgramAction(ctx, tok, mockbackend.Success); err != nil {
		return err
	}
	return s.dispatchCurrent(ctx, dispatch.ActionDo)
}

// Logout sends LOGOUT with the current token and requires OK.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.dispatchCurrent(ctx, dispatch.ActionLogout); err != nil {
		return err
	}
	if err := verify.ExpectResult(s.last, dispatch.ResultOK); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// SendWithShortToken sends action with a token shorter than 32 characters.
func (s *Session) SendWithShortToken(ctx context.Context, action string) error {
	s.current = token.InvalidShort()
	return s.dispatchCurrent(ctx, action)
}

// SendWithLowercaseToken sends action with a lowercased token.
func (s *Session) SendWithLowercaseToken(ctx context.Context, action string) error {
	s.current = token.InvalidLowercase()
	return s.dispatchCurrent(ctx, action)
}

// SendWithoutToken sends action with the token parameter omitted.
func (s *Session) SendWithoutToken(ctx context.Context, action string) error {
	s.current = ""
	_, err := s.Dispatch(ctx, &action, nil)
	return err
}

// SendTokenOnly sends a fresh token with the action parameter omitted.
func (s *Session) SendTokenOnly(ctx context.Context) error {
	tok := token.Valid()
	s.current = tok
	_, err := s.Dispatch(ctx, nil, &tok)
	return err
}

// SendActionOnly sends LOGIN with the token parameter omitted.
func (s *Session) SendActionOnly(ctx context.Context) error {
	action := dispatch.ActionLogin
	_, err := s.Dispatch(ctx, &action, nil)
	return err
}

// SendNothing sends a request with neither parameter.
func (s *Session) SendNothing(ctx context.Context) error {
	_, err := s.Dispatch(ctx, nil, nil)
	return err
}

// SendWithUnauthenticatedToken sends action with a fresh token that never
// went through LOGIN and has no upstream rules.
func (s *Session) SendWithUnauthenticatedToken(ctx context.Context, action string) error {
	s.current = token.Valid()
	return s.dispatchCurrent(ctx, action)
}

// ExternalServiceHealthy programs both upstream rules as successful for the
// current token, creating one if needed.
func (s *Session) ExternalServiceHealthy(ctx context.Context) error {
	if s.current == "" {
		s.current = token.Valid()
	}
	if err := s.ProgramAuth(ctx, s.current, mockbackend.Success); err != nil {
		return err
	}
	if err := s.ProgramAction(ctx, s.current, mockbackend.Success); err != nil {
		return err
	}
	s.report.Textf("External service available", "Token for mocks: %s", token.Mask(s.current))
	return nil
}

// AuthServiceReturns programs /auth for the current token. Without a current
// token there is nothing to program.
func (s *Session) AuthServiceReturns(ctx context.Context, outcome mockbackend.Outcome) error {
	if s.current == "" {
		return nil
	}
	return s.ProgramAuth(ctx, s.current, outcome)
}

// ActionServiceReturns programs /doAction for the current token.
func (s *Session) ActionServiceReturns(ctx context.Context, outcome mockbackend.Outcome) error {
	if s.current == "" {
		return nil
	}
	return s.ProgramAction(ctx, s.current, outcome)
}

// TwoUsers creates two actors with distinct tokens and programs every
// upstream rule as successful for both.
func (s *Session) TwoUsers(ctx context.Context) error {
	first, second := token.Valid(), token.Valid()
	for second == first {
		second = token.Valid()
	}
	s.SetUserToken(FirstUser, first)
	s.SetUserToken(SecondUser, second)

	for _, tok := range []string{first, second} {
		if err := s.ProgramAuth(ctx, tok, mockbackend.Success); err != nil {
			return err
		}
		if err := s.ProgramAction(ctx, tok, mockbackend.Success); err != nil {
			return err
		}
	}
	s.report.Textf("Two users", "first=%s\nsecond=%s", token.Mask(first), token.Mask(second))
	return nil
}

// UserLogin sends LOGIN for user u and requires OK. The first user becomes
// the primary actor.
func (s *Session) UserLogin(ctx context.Context, u User) error {
	resp, err := s.DispatchAs(ctx, u, dispatch.ActionLogin)
	if err != nil {
		return err
	}
	if err := verify.ExpectResult(resp, dispatch.ResultOK); err != nil {
		return fmt.Errorf("%s user LOGIN: %w", u, err)
	}
	if u == FirstUser {
		s.Focus(u)
	}
	return nil
}

// UserAction sends ACTION for user u, requires a result field, and makes u
// the primary actor.
func (s *Session) UserAction(ctx context.Context, u User) error {
	resp, err := s.DispatchAs(ctx, u, dispatch.ActionDo)
	if err != nil {
		return err
	}
	s.Focus(u)
	if resp.Result() == "" {
		return &verify.MismatchError{What: u.String() + " user ACTION result", Expected: "<present>", Actual: "<absent>"}
	}
	return nil
}

// UserLogout sends LOGOUT for user u and makes u the primary actor.
func (s *Session) UserLogout(ctx context.Context, u User) error {
	if _, err := s.DispatchAs(ctx, u, dispatch.ActionLogout); err != nil {
		return err
	}
	s.Focus(u)
	return nil
}

// ExpectResult checks the last response's result.
func (s *Session) ExpectResult(expected string) error {
	err := verify.ExpectResult(s.last, expected)
	status := 0
	if s.last != nil {
		status = s.last.StatusCode
	}
	s.report.Textf("Result check", "Expected: %s\nActual: %s\nHTTP: %d", expected, s.last.Result(), status)
	return err
}

// ExpectBothResults checks the last responses of both users.
func (s *Session) ExpectBothResults(expected string) error {
	for _, u := range []User{FirstUser, SecondUser} {
		if err := verify.ExpectResult(s.UserResponse(u), expected); err != nil {
			return fmt.Errorf("%s user: %w", u, err)
		}
	}
	return nil
}

// ExpectTokenPersisted sends ACTION with the current token after LOGIN and
// requires a definite OK or ERROR result.
func (s *Session) ExpectTokenPersisted(ctx context.Context) error {
	if err := s.ActionWithCurrentToken(ctx); err != nil {
		return err
	}
	result := s.last.Result()
	s.report.Textf("Token persisted check", "Token: %s\nACTION result: %s", token.Mask(s.current), result)
	if result != dispatch.ResultOK && result != dispatch.ResultError {
		return &verify.MismatchError{What: "ACTION result after LOGIN", Expected: "OK or ERROR", Actual: result}
	}
	return nil
}

// ExpectMessagePresent requires a non-empty error message.
func (s *Session) ExpectMessagePresent() error {
	if err := verify.ExpectMessagePresent(s.last); err != nil {
		return err
	}
	msg, _ := s.last.Message()
	s.report.Text("Error message", msg)
	return nil
}

// ExpectErrorCategory requires the error message to fall into c.
func (s *Session) ExpectErrorCategory(c verify.Category) error {
	return verify.ExpectErrorCategory(s.last, c)
}
