package hyperband

import (
	"context"
	"time"
)

//////
// Public types: evaluator contract, engine configuration, run report.
//////

// EvaluateFunc is the caller-supplied training/benchmark routine: it
// receives one configuration and the resource budget (e.g. training epochs)
// it may spend, and returns a scalar score. Higher scores are better.
//
// The engine treats the evaluator as a black box. Returning an error (or
// panicking) marks the trial as failed: the configuration receives the
// worst possible score and is discarded at the next halving, but the search
// itself continues.
//
// The context carries cancellation for the whole run and, when
// Config.TrialTimeout is set, a per-trial deadline. Long-running evaluators
// should honor it.
//
// Usage example:
//
//	evaluate := func(ctx context.Context, cfg hyperband.Configuration, epochs int) (float64, error) {
//	    model := buildModel(cfg.Float("learning_rate"), cfg.Int("batch_size"))
//	    return model.Train(ctx, epochs)
//	}
type EvaluateFunc func(ctx context.Context, cfg Configuration, resource int) (float64, error)

// Phase values reported in ProgressUpdate.
const (
	// PhaseSampling: drawing the initial configurations of a bracket.
	PhaseSampling = "Sampling"

	// PhaseRung: evaluating the trials of one rung.
	PhaseRung = "Rung"

	// PhaseBracketDone: a bracket finished all its rungs.
	PhaseBracketDone = "BracketDone"

	// PhaseOptimization: BayesianSearch's surrogate-guided iterations,
	// after its initial random samples.
	PhaseOptimization = "Optimization"
)

// ProgressUpdate represents the current state of a search. Updates are
// sent on Config.ProgressChan with a non-blocking send: if the channel is
// full the update is dropped rather than stalling a trial.
type ProgressUpdate struct {
	// Phase is one of the Phase* constants.
	Phase string

	// Bracket is the bracket index s currently running.
	Bracket int

	// Rung is the rung index within the bracket, starting at 0.
	Rung int

	// Resource is the per-trial budget of the current rung.
	Resource int

	// TrialsDone and TrialsTotal count completed vs. issued trials of the
	// current rung.
	TrialsDone  int
	TrialsTotal int

	// BestScore is the best score observed so far across the whole run.
	// Meaningless (negative infinity) until the first trial succeeds.
	BestScore float64
}

// Config controls a search run.
//
// Default values recommendations:
// - MaxIter: 81 with Eta 3 reproduces the reference Hyperband schedule
// - Parallelism: number of available workers/accelerators
// - Seed: fix it to make runs reproducible
type Config struct {
	// MaxIter is the maximum resource units (e.g. epochs) any single
	// configuration may receive. Must be positive.
	MaxIter int

	// Eta is the downsampling factor: each halving keeps the best
	// floor(n/Eta) configurations. Must be >= 2. Reference value: 3.
	Eta int

	// Seed feeds the sampler. Two runs with the same seed, space and
	// evaluator produce identical schedules and identical sampled
	// configurations.
	Seed int64

	// Parallelism bounds how many trials of a rung are evaluated
	// concurrently. Values < 1 mean sequential evaluation.
	Parallelism int

	// TrialTimeout, when positive, is applied to each evaluation as a
	// context deadline. Zero means no timeout.
	TrialTimeout time.Duration

	// ProgressChan receives progress updates during the run.
	// If nil, no updates are sent.
	ProgressChan chan<- ProgressUpdate
}

// DefaultConfig returns a configuration reproducing the reference
// Hyperband schedule (MaxIter 81, Eta 3), sequential evaluation and a
// time-based seed.
func DefaultConfig() Config {
	return Config{
		MaxIter:     81,
		Eta:         3,
		Seed:        time.Now().UnixNano(),
		Parallelism: 1,
	}
}

// Trial is one (configuration, resource budget) evaluation. A trial is
// owned by exactly one bracket and one rung.
type Trial struct {
	// ID uniquely identifies the trial in the run report.
	ID string

	// Config is the configuration under evaluation.
	Config Configuration

	// Resource is the budget the trial ran with.
	Resource int

	// Score is the observed score; the worst sentinel (negative infinity)
	// when the trial failed.
	Score float64

	// Failed reports whether the evaluator returned an error or panicked.
	Failed bool

	// sampleOrder is the position of the configuration in its bracket's
	// sample sequence; it breaks score ties deterministically (earlier
	// samples win).
	sampleOrder int
}

// RungReport summarizes one elimination round of a bracket.
type RungReport struct {
	// Resource is the per-trial budget of the rung.
	Resource int

	// Trials is the number of trials issued in the rung.
	Trials int

	// Survivors is the number of configurations promoted to the next rung
	// (0 for the bracket's last rung).
	Survivors int
}

// BracketReport summarizes one successive-halving run.
type BracketReport struct {
	// S is the bracket index.
	S int

	// Rungs are the bracket's rounds, in execution order.
	Rungs []RungReport

	// Best and BestScore are the bracket's winning configuration and its
	// score. BestOK is false when every trial of the bracket failed.
	Best      Configuration
	BestScore float64
	BestOK    bool
}

// Result is the aggregated outcome of a search run.
type Result struct {
	// Best is the configuration with the best observed score across all
	// brackets, and BestScore that score. Only meaningful when the run did
	// not return ErrNoValidResult.
	Best      Configuration
	BestScore float64

	// Trials is the total number of trials issued.
	Trials int

	// Brackets reports the per-bracket schedules actually executed.
	Brackets []BracketReport

	// Failures aggregates every recovered evaluation failure, in
	// completion order. An empty slice means every trial succeeded.
	Failures []*TrialError
}
