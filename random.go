package hyperband

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

//////
// Random search.
//////

// RandomSearch draws n independent configurations from the space and
// evaluates each one at the full MaxIter budget, concurrently up to
// Config.Parallelism. It is the zero-assumptions baseline Hyperband is
// usually compared against: same sampler, no early stopping.
//
// Failure semantics match Run: failed trials are recorded in
// Result.Failures and never win, and an all-failed run returns
// ErrNoValidResult.
func RandomSearch(ctx context.Context, config Config, n int, space SearchSpace, evaluate EvaluateFunc) (*Result, error) {
	if err := validateConfig(config, evaluate); err != nil {
		return nil, err
	}

	if n < 1 {
		return nil, invalidParamf("n", "must be positive, got %d", n)
	}

	if err := space.Validate(); err != nil {
		return nil, err
	}

	run := newRunState(config, space, evaluate)

	seen := make(map[string]struct{}, n)
	configs := make([]Configuration, n)

	for i := range configs {
		configs[i] = run.sampleUnseen(seen)
	}

	return run.runSingleRound(ctx, configs)
}

// runSingleRound evaluates every configuration once at full budget and
// assembles the result as a single-rung report. Shared by RandomSearch and
// GridSearch.
func (run *runState) runSingleRound(ctx context.Context, configs []Configuration) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return run.result(), errors.Wrap(err, "search interrupted")
	}

	trials := make([]Trial, len(configs))
	for i, cfg := range configs {
		trials[i] = Trial{
			ID:          uuid.NewString(),
			Config:      cfg,
			Resource:    run.config.MaxIter,
			Score:       worstScore,
			sampleOrder: i,
		}
	}

	memo := make(map[memoKey]rungOutcome)
	run.evaluateRung(ctx, 0, 0, trials, memo)
	run.trials += len(trials)

	rankTrials(trials)

	report := BracketReport{
		S:         0,
		BestScore: worstScore,
		Rungs: []RungReport{{
			Resource: run.config.MaxIter,
			Trials:   len(trials),
		}},
	}

	if top := trials[0]; !top.Failed {
		report.Best = top.Config
		report.BestScore = top.Score
		report.BestOK = true

		run.observeBest(top.Config, top.Score)
	}

	run.brackets = append(run.brackets, report)

	res := run.result()
	if !run.bestOK {
		return res, ErrNoValidResult
	}

	return res, nil
}
