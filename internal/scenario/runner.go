// Package scenario carries the per-scenario state of a verification run:
// credentials, tokens, the last responses, and the auto-fix switch. A Runner
// hands out one Session per scenario and guards the shared mock reset.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wondertwin-ai/authtwin/internal/dispatch"
	"github.com/wondertwin-ai/authtwin/internal/mockbackend"
	"github.com/wondertwin-ai/authtwin/internal/report"
)

// Deps are the collaborators shared by every scenario of a run.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Mock       mockbackend.Controller
	// APIKey is the key every scenario starts with.
	APIKey string
	// NegativeKeyMarkers identify deliberately wrong API keys.
	NegativeKeyMarkers []string
	Sink               report.Sink
	Logger             *slog.Logger
}

// Runner creates Sessions and resets the mock at scenario boundaries.
type Runner struct {
	deps Deps

	mu     sync.Mutex
	active int
}

// NewRunner creates a Runner. A nil Mock means no upstream double.
func NewRunner(deps Deps) *Runner {
	if deps.Mock == nil {
		deps.Mock = mockbackend.Disabled{}
	}
	if deps.Sink == nil {
		deps.Sink = report.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runner{deps: deps}
}

// Active returns the number of scenarios between Begin and End.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Begin starts a scenario. The stub table is reset only while no other
// scenario is in flight; concurrent scenarios rely on unique tokens instead.
func (r *Runner) Begin(ctx context.Context, name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	logger := r.deps.Logger.With("scenario", name, "scenario_id", id)
	if r.active == 0 {
		if err := r.deps.Mock.Reset(ctx); err != nil {
			return nil, fmt.Errorf("beginning scenario %q: %w", name, err)
		}
		logger.Debug("mock reset")
	} else {
		logger.Debug("mock reset skipped", "in_flight", r.active)
	}
	r.active++

	s := &Session{
		ID:      id,
		Name:    name,
		runner:  r,
		creds:   dispatch.NewCredentials(r.deps.APIKey),
		autoFix: true,
		report:  report.Scoped{Scenario: name, Sink: r.deps.Sink},
		logger:  logger,
		start:   time.Now(),
	}
	logger.Info("scenario started")
	return s, nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
}

// Func is the body of a scenario.
type Func func(ctx context.Context, s *Session) error

// Named pairs a scenario name with its body.
type Named struct {
	Name string
	Run  Func
}

// Run executes one scenario in its own Session.
func (r *Runner) Run(ctx context.Context, name string, fn Func) (report.ScenarioResult, error) {
	s, err := r.Begin(ctx, name)
	if err != nil {
		return report.ScenarioResult{Name: name, Error: err.Error()}, err
	}
	runErr := fn(ctx, s)
	return s.End(runErr), runErr
}

// RunParallel executes scenarios concurrently, at most limit at a time
// (limit <= 0 means no limit). One failing scenario does not stop the
// others; the joined failures are returned with every result.
func (r *Runner) RunParallel(ctx context.Context, limit int, scenarios ...Named) ([]report.ScenarioResult, error) {
	results := make([]report.ScenarioResult, len(scenarios))
	errs := make([]error, len(scenarios))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, sc := range scenarios {
		g.Go(func() error {
			res, err := r.Run(ctx, sc.Name, sc.Run)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("scenario %q: %w", sc.Name, err)
			}
			return nil
		})
	}
	g.Wait()

	return results, errors.Join(errs...)
}
