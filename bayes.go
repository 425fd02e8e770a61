package hyperband

import (
	"context"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//////
// Bayesian optimization.
//////

// failedTrialPenalty is the score fed to the surrogate for failed trials:
// bad enough that the model learns to avoid the region, finite enough not
// to wreck its arithmetic.
const failedTrialPenalty = -math.MaxFloat64 / 2

// BayesianConfig controls BayesianSearch. The embedded Config provides the
// budget (MaxIter), seed and timeout; Eta and Parallelism are unused (the
// surrogate loop is inherently sequential: every evaluation informs the
// choice of the next).
type BayesianConfig struct {
	Config

	// InitialSamples is the number of random configurations evaluated
	// before the surrogate starts guiding the search.
	// Recommended range: 5-20.
	InitialSamples int

	// Iterations is the number of surrogate-guided evaluations after the
	// initial sampling phase. Recommended range: 20-200.
	Iterations int

	// NumCandidates is how many random candidates the acquisition function
	// ranks per iteration before picking one to evaluate.
	// Recommended range: 50-500.
	NumCandidates int

	// AcquisitionFunc selects the next candidate. See the built-in options
	// (UCB, ProbabilityOfImprovement, ExpectedImprovement,
	// ThompsonSampling).
	AcquisitionFunc AcquisitionFunc

	// AcqParams parameterizes the acquisition function.
	AcqParams AcquisitionParams
}

// DefaultBayesianConfig returns a configuration with UCB acquisition and
// moderate sampling budgets.
func DefaultBayesianConfig() BayesianConfig {
	return BayesianConfig{
		Config:          DefaultConfig(),
		InitialSamples:  10,
		Iterations:      50,
		NumCandidates:   50,
		AcquisitionFunc: UCB,
		AcqParams: AcquisitionParams{
			Beta:      2.0,
			Xi:        0.01,
			BestSoFar: math.Inf(-1),
		},
	}
}

// BayesianSearch tunes the space with a Gaussian Process surrogate: it
// takes InitialSamples random samples to build an initial model, then for
// each iteration ranks NumCandidates random candidates by the acquisition
// function, evaluates the most promising one at full budget, and updates
// the model with the observation.
//
// Conditional sub-spaces are not supported (the surrogate needs a
// fixed-length numeric encoding of a configuration) and are rejected with
// InvalidSpaceError. Choice parameters are encoded by value index, numeric
// ranges by value.
func BayesianSearch(ctx context.Context, config BayesianConfig, space SearchSpace, evaluate EvaluateFunc) (*Result, error) {
	if err := validateConfig(config.Config, evaluate); err != nil {
		return nil, err
	}

	if config.InitialSamples < 1 {
		return nil, invalidParamf("InitialSamples", "must be positive, got %d", config.InitialSamples)
	}

	if config.Iterations < 0 {
		return nil, invalidParamf("Iterations", "must be non-negative, got %d", config.Iterations)
	}

	if config.NumCandidates < 1 {
		return nil, invalidParamf("NumCandidates", "must be positive, got %d", config.NumCandidates)
	}

	if config.AcquisitionFunc == nil {
		return nil, invalidParamf("AcquisitionFunc", "must not be nil")
	}

	if err := space.Validate(); err != nil {
		return nil, err
	}

	names := sortedNames(space)
	for _, name := range names {
		if _, ok := space[name].(Conditional); ok {
			return nil, invalidSpacef("parameter %q: Bayesian search does not support conditional sub-spaces", name)
		}
	}

	if config.AcqParams.RandomState == nil {
		config.AcqParams.RandomState = rand.New(rand.NewSource(config.Seed))
	}

	run := newRunState(config.Config, space, evaluate)
	gp := newGaussianProcess()

	// evalOne evaluates one configuration at full budget, records it in the
	// run report and feeds the observation to the surrogate.
	evalOne := func(cfg Configuration, phase string, iteration, total int) {
		trialID := uuid.NewString()

		score, err := run.callEvaluate(ctx, cfg, config.MaxIter)

		run.trials++

		y := score
		if err != nil {
			y = failedTrialPenalty

			run.recordFailure(&TrialError{
				TrialID:  trialID,
				Config:   cfg,
				Resource: config.MaxIter,
				Err:      err,
			})

			klog.Warningf("trial %s (config %s) failed: %v", trialID, cfg.Key(), err)
		} else {
			run.observeBest(cfg, score)
		}

		gp.Update(encodeConfiguration(space, names, cfg), y)

		run.sendProgress(ProgressUpdate{
			Phase:       phase,
			Resource:    config.MaxIter,
			TrialsDone:  iteration,
			TrialsTotal: total,
			BestScore:   run.snapshotBest(),
		})
	}

	// Phase 1: random samples to seed the model.
	for i := 0; i < config.InitialSamples && ctx.Err() == nil; i++ {
		evalOne(run.space.sample(run.rng), PhaseSampling, i+1, config.InitialSamples)
	}

	// Phase 2: surrogate-guided iterations.
	for i := 0; i < config.Iterations && ctx.Err() == nil; i++ {
		params := config.AcqParams
		params.BestSoFar = run.snapshotBest()

		var next Configuration

		bestAcq := math.Inf(-1)

		for j := 0; j < config.NumCandidates; j++ {
			candidate := run.space.sample(run.rng)

			mean, variance := gp.Predict(encodeConfiguration(space, names, candidate))

			if acq := config.AcquisitionFunc(mean, variance, params); j == 0 || acq > bestAcq {
				bestAcq = acq
				next = candidate
			}
		}

		evalOne(next, PhaseOptimization, i+1, config.Iterations)
	}

	run.brackets = append(run.brackets, BracketReport{
		S:         0,
		Best:      run.best,
		BestScore: run.bestScore,
		BestOK:    run.bestOK,
		Rungs: []RungReport{{
			Resource: config.MaxIter,
			Trials:   run.trials,
		}},
	})

	res := run.result()

	if err := ctx.Err(); err != nil {
		return res, errors.Wrap(err, "search interrupted")
	}

	if !run.bestOK {
		return res, ErrNoValidResult
	}

	return res, nil
}

// encodeConfiguration flattens a configuration into the fixed-length
// vector the surrogate works with: Choice parameters by value index,
// numeric parameters by value.
func encodeConfiguration(space SearchSpace, names []string, cfg Configuration) []float64 {
	vec := make([]float64, len(names))

	for i, name := range names {
		if choice, ok := space[name].(Choice); ok {
			v, _ := cfg.Value(name)

			for idx, option := range choice.Values {
				if option == v {
					vec[i] = float64(idx)

					break
				}
			}

			continue
		}

		vec[i] = cfg.Float(name)
	}

	return vec
}
