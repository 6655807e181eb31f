// Package steps binds the English step texts of the feature files to
// scenario operations. Each godog scenario gets its own scenario.Session,
// carried in the step context.
package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/wondertwin-ai/authtwin/internal/mockbackend"
	"github.com/wondertwin-ai/authtwin/internal/scenario"
	"github.com/wondertwin-ai/authtwin/internal/verify"
)

type sessionKey struct{}

var errNoSession = errors.New("step ran outside a scenario session")

func session(ctx context.Context) (*scenario.Session, error) {
	s, ok := ctx.Value(sessionKey{}).(*scenario.Session)
	if !ok {
		return nil, errNoSession
	}
	return s, nil
}

// NewSuite builds a godog suite running features against runner.
func NewSuite(name string, runner *scenario.Runner, opts *godog.Options) godog.TestSuite {
	return godog.TestSuite{
		Name: name,
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			Register(sc, runner)
		},
		Options: opts,
	}
}

// Register installs the scenario hooks and every step definition.
func Register(sc *godog.ScenarioContext, runner *scenario.Runner) {
	sc.Before(func(ctx context.Context, gs *godog.Scenario) (context.Context, error) {
		s, err := runner.Begin(ctx, gs.Name)
		if err != nil {
			return ctx, err
		}
		return context.WithValue(ctx, sessionKey{}, s), nil
	})
	sc.After(func(ctx context.Context, gs *godog.Scenario, err error) (context.Context, error) {
		if s, ok := ctx.Value(sessionKey{}).(*scenario.Session); ok {
			s.End(err)
		}
		return ctx, nil
	})

	registerSetup(sc)
	registerRequests(sc)
	registerExternalService(sc)
	registerMultiUser(sc)
	registerAssertions(sc)
}

// do adapts a session operation to a godog step.
func do(fn func(context.Context, *scenario.Session) error) func(context.Context) error {
	return func(ctx context.Context) error {
		s, err := session(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	}
}

// withArg adapts a session operation taking one string argument.
func withArg(fn func(context.Context, *scenario.Session, string) error) func(context.Context, string) error {
	return func(ctx context.Context, arg string) error {
		s, err := session(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, s, arg)
	}
}

func registerSetup(sc *godog.ScenarioContext) {
	sc.Step(`^the application server is available$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.CheckAvailability(ctx)
	}))
	sc.Step(`^the X-Api-Key header is set to "([^"]*)"$`, withArg(func(_ context.Context, s *scenario.Session, key string) error {
		s.SetAPIKey(key)
		return nil
	}))
	sc.Step(`^the user is authenticated with a token$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.Authenticate(ctx)
	}))
	sc.Step(`^the user (?:session has been ended|has ended the session)$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.Logout(ctx)
	}))
}

func registerRequests(sc *godog.ScenarioContext) {
	sc.Step(`^the user performs LOGIN with a valid token$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.LoginWithFreshToken(ctx)
	}))
	sc.Step(`^the user sends a request with action "([^"]*)" and a (?:valid|32-character) token$`, withArg(func(ctx context.Context, s *scenario.Session, action string) error {
		return s.SendWithFreshToken(ctx, action)
	}))
	sc.Step(`^the user sends a request with action "([^"]*)" and the (?:authenticated|current) token$`, withArg(func(ctx context.Context, s *scenario.Session, action string) error {
		return s.SendWithCurrentToken(ctx, action)
	}))
	sc.Step(`^the user sends the request with action "([^"]*)" again with the same token$`, withArg(func(ctx context.Context, s *scenario.Session, action string) error {
		return s.SendWithCurrentToken(ctx, action)
	}))
	sc.Step(`^the user performs (?:another )?ACTION with the same token$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.ActionWithCurrentToken(ctx)
	}))
	sc.Step(`^the user performs LOGOUT with the same token$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.SendWithCurrentToken(ctx, "LOGOUT")
	}))
	sc.Step(`^the user attempts ACTION after LOGOUT$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.SendWithCurrentToken(ctx, "ACTION")
	}))
	sc.Step(`^the user sends a request with action "([^"]*)" and a token shorter than 32 characters$`, withArg(func(ctx context.Context, s *scenario.Session, action string) error {
		return s.SendWithShortToken(ctx, action)
	}))
	sc.Step(`^the user sends a request with action "([^"]*)" and a token with lowercase characters$`, withArg(func(ctx context.Context, s *scenario.Session, action string) error {
		return s.SendWithLowercaseToken(ctx, action)
	}))
	sc.Step(`^the user sends a request with action "([^"]*)" without a token$`, withArg(func(ctx context.Context, s *scenario.Session, action string) error {
		return s.SendWithoutToken(ctx, action)
	}))
	sc.Step(`^the user sends a request with action "([^"]*)" with a token that never passed LOGIN$`, withArg(func(ctx context.Context, s *scenario.Session, action string) error {
		return s.SendWithUnauthenticatedToken(ctx, action)
	}))
	sc.Step(`^the user sends a request with only a token and no action$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.SendTokenOnly(ctx)
	}))
	sc.Step(`^the user sends a request with only an action and no token$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.SendActionOnly(ctx)
	}))
	sc.Step(`^the user sends a request without parameters$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.SendNothing(ctx)
	}))
}

func parseOutcome(text string) mockbackend.Outcome {
	if text == "success" {
		return mockbackend.Success
	}
	return mockbackend.Error
}

func registerExternalService(sc *godog.ScenarioContext) {
	sc.Step(`^the external service is available and working$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.ExternalServiceHealthy(ctx)
	}))
	sc.Step(`^the authentication service returns (success|an error)$`, withArg(func(ctx context.Context, s *scenario.Session, outcome string) error {
		return s.AuthServiceReturns(ctx, parseOutcome(outcome))
	}))
	sc.Step(`^the action service returns (success|an error)$`, withArg(func(ctx context.Context, s *scenario.Session, outcome string) error {
		return s.ActionServiceReturns(ctx, parseOutcome(outcome))
	}))
}

func parseUser(text string) scenario.User {
	if text == "second" {
		return scenario.SecondUser
	}
	return scenario.FirstUser
}

func registerMultiUser(sc *godog.ScenarioContext) {
	sc.Step(`^two different users with different tokens$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.TwoUsers(ctx)
	}))
	sc.Step(`^the (first|second) user (?:performs|attempts) (LOGIN|ACTION|LOGOUT)$`, func(ctx context.Context, who, action string) error {
		s, err := session(ctx)
		if err != nil {
			return err
		}
		u := parseUser(who)
		switch action {
		case "LOGIN":
			return s.UserLogin(ctx, u)
		case "ACTION":
			return s.UserAction(ctx, u)
		default:
			return s.UserLogout(ctx, u)
		}
	})
	sc.Step(`^both requests return result "([^"]*)"$`, withArg(func(_ context.Context, s *scenario.Session, expected string) error {
		return s.ExpectBothResults(expected)
	}))
}

func registerAssertions(sc *godog.ScenarioContext) {
	sc.Step(`^the system returns result "([^"]*)"$`, withArg(func(_ context.Context, s *scenario.Session, expected string) error {
		return s.ExpectResult(expected)
	}))
	sc.Step(`^the token is stored in the system(?: for future actions)?$`, do(func(ctx context.Context, s *scenario.Session) error {
		return s.ExpectTokenPersisted(ctx)
	}))
	sc.Step(`^the error message describes the problem$`, do(func(_ context.Context, s *scenario.Session) error {
		return s.ExpectMessagePresent()
	}))

	categories := map[string]verify.Category{
		`^the error message indicates an unknown action$`:           verify.UnknownAction,
		`^the error message indicates a missing action$`:            verify.MissingAction,
		`^the error message indicates a missing token$`:             verify.MissingToken,
		`^the error message indicates missing required parameters$`: verify.MissingRequiredParameters,
	}
	for expr, c := range categories {
		sc.Step(expr, do(func(_ context.Context, s *scenario.Session) error {
			return s.ExpectErrorCategory(c)
		}))
	}
	sc.Step(`^the error message falls into category "([^"]*)"$`, withArg(func(_ context.Context, s *scenario.Session, name string) error {
		c, err := verify.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("step argument: %w", err)
		}
		return s.ExpectErrorCategory(c)
	}))
}
