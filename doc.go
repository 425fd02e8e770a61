// Package hyperband provides automated hyperparameter search built around
// the Hyperband resource-allocation algorithm: a bracket-based elimination
// tournament that allocates exponentially increasing compute budgets to
// exponentially shrinking sets of surviving configurations. Grid search,
// random search and Gaussian-Process Bayesian optimization are included as
// alternative strategies over the same search-space declaration and
// evaluator contract.
//
// # Features
//
// The package includes the following key features:
//
//   - Hyperband / successive halving: principled early stopping that spends
//     most of the budget on promising configurations
//   - Declarative search spaces: discrete choices, uniform and log-uniform
//     numeric ranges, and conditional sub-spaces (tagged variants active
//     only for a specific parent value)
//   - Black-box evaluator contract: configuration and resource budget in,
//     scalar score out; the engine never inspects the training routine
//   - Bounded parallelism: trials of a rung run concurrently up to a
//     caller-supplied worker limit
//   - Deterministic runs: a fixed seed reproduces the exact bracket
//     schedules and sampled configurations, regardless of parallelism
//   - Robust failure handling: a failing trial is scored worst and
//     discarded at the next halving; it never aborts the search
//   - Progress monitoring: real-time updates via channels
//   - Alternative strategies: GridSearch, RandomSearch and BayesianSearch
//     (UCB, Probability of Improvement, Expected Improvement, Thompson
//     Sampling acquisitions)
//
// # The algorithm
//
// Run executes brackets s = s_max down to 0, where s_max =
// floor(log_eta(MaxIter)). Bracket s samples n = ceil((s_max+1)/(s+1) *
// eta^s) configurations and evaluates them all with r = MaxIter*eta^(-s)
// resource units each. The best floor(n/eta) survive and are re-evaluated
// with eta times the resource, repeatedly, until one configuration remains
// or the budget per configuration would exceed MaxIter.
//
// For the reference budget MaxIter=81, Eta=3 this produces five brackets,
// whose first rungs are (n=81, r=1), (34, 3), (15, 9), (8, 27) and
// (5, 81); bracket s=4 runs the full ladder 81@1 -> 27@3 -> 9@9 -> 3@27 ->
// 1@81.
//
// # Usage
//
//	space := hyperband.SearchSpace{
//	    "learning_rate": hyperband.LogUniform(1e-4, 1e-1),
//	    "batch_size":    hyperband.Choose(16, 32, 64, 128),
//	}
//
//	evaluate := func(ctx context.Context, cfg hyperband.Configuration, epochs int) (float64, error) {
//	    return trainAndScore(ctx, cfg.Float("learning_rate"), cfg.Int("batch_size"), epochs)
//	}
//
//	config := hyperband.DefaultConfig() // MaxIter=81, Eta=3
//	config.Seed = 42
//	config.Parallelism = 8
//
//	result, err := hyperband.Run(ctx, config, space, evaluate)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Best, result.BestScore)
//
// # Determinism and ties
//
// Sampling happens sequentially on the seeded generator before trials are
// dispatched to workers, so concurrency never changes which configurations
// are drawn. Equal scores are broken by sample order: the configuration
// drawn earlier ranks first. Discrete spaces smaller than a bracket's
// population degrade to sampling with replacement, deterministically under
// a fixed seed; duplicates share one evaluation per resource level.
//
// # Thread safety
//
// A single Run may fan out trials to many goroutines internally; distinct
// runs with their own Config values are independent and may execute
// concurrently. The evaluator must be safe for concurrent calls when
// Parallelism > 1.
package hyperband
