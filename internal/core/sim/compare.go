package sim

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/pkg/concurrent"
)

// Scenario builds an independent simulator and the mission it flies.
type Scenario struct {
	Name  string
	Build func() (*Simulator, Mission, error)
}

// Compare runs every scenario on its own goroutine, at most limit at a time
// (unbounded when limit <= 0), and returns results in input order. Scenarios
// share nothing, so the single-threaded core is never touched concurrently.
func Compare(ctx context.Context, limit int, scenarios ...Scenario) ([]Result, error) {
	return concurrent.Map(ctx, scenarios, limit, func(ctx context.Context, sc Scenario) (Result, error) {
		if sc.Build == nil {
			return Result{}, errors.Wrapf(ErrInvalidConfig, "scenario %q has no builder", sc.Name)
		}
		s, mission, err := sc.Build()
		if err != nil {
			return Result{}, errors.Wrapf(err, "build scenario %q", sc.Name)
		}
		if s.name == "" {
			s.name = sc.Name
		}
		res, runErr := s.Run(ctx, mission)
		if err = stderrors.Join(runErr, s.Close()); err != nil {
			return res, errors.Wrapf(err, "run scenario %q", sc.Name)
		}
		return res, nil
	})
}
