package hyperband

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//////
// Resource-allocation search engine.
//////

// worstScore is the sentinel assigned to failed trials. It compares below
// every real score, so failed configurations are discarded at the next
// halving.
var worstScore = math.Inf(-1)

// maxSampleAttempts bounds how many times the sampler redraws to avoid a
// configuration already seen in the current bracket. Discrete spaces with
// fewer distinct configurations than requested exhaust the attempts and
// degrade to sampling with replacement; under a fixed seed the degradation
// is deterministic, and the per-resource memo still guarantees no
// configuration is evaluated twice at the same level within a bracket.
const maxSampleAttempts = 32

// Run executes the full Hyperband schedule over the search space: every
// bracket from s_max down to 0, each one a successive-halving tournament
// that allocates exponentially growing budgets to exponentially shrinking
// surviving subsets. It returns the configuration with the best observed
// score across all brackets.
//
// Fatal errors (InvalidParameterError, InvalidSpaceError) are returned
// before any evaluation begins. Individual evaluation failures never abort
// the search: the failing configuration is scored with the worst sentinel
// and reported in Result.Failures. Only when every single trial fails does
// Run return ErrNoValidResult, together with the report of what was
// attempted.
//
// Usage example:
//
//	config := hyperband.DefaultConfig()
//	config.Seed = 42
//	config.Parallelism = 8
//
//	result, err := hyperband.Run(ctx, config, space, evaluate)
//	if err != nil {
//	    return err
//	}
//	fmt.Println("best:", result.Best, "score:", result.BestScore)
func Run(ctx context.Context, config Config, space SearchSpace, evaluate EvaluateFunc) (*Result, error) {
	if err := validateConfig(config, evaluate); err != nil {
		return nil, err
	}

	if config.Eta < 2 {
		return nil, invalidParamf("Eta", "must be >= 2, got %d", config.Eta)
	}

	if err := space.Validate(); err != nil {
		return nil, err
	}

	run := newRunState(config, space, evaluate)

	for _, plan := range schedule(config.MaxIter, config.Eta) {
		if err := run.runBracket(ctx, plan); err != nil {
			return run.result(), err
		}
	}

	res := run.result()
	if !run.bestOK {
		return res, ErrNoValidResult
	}

	return res, nil
}

// validateConfig fails fast on invalid parameters shared by every search
// strategy, before any evaluation begins. The Hyperband-specific Eta check
// lives in Run: grid and random search never downsample.
func validateConfig(config Config, evaluate EvaluateFunc) error {
	if evaluate == nil {
		return invalidParamf("evaluate", "must not be nil")
	}

	if config.MaxIter < 1 {
		return invalidParamf("MaxIter", "must be positive, got %d", config.MaxIter)
	}

	return nil
}

// rankTrials sorts best-first; ties go to the earlier sample.
func rankTrials(trials []Trial) {
	sort.SliceStable(trials, func(i, j int) bool {
		if trials[i].Score != trials[j].Score {
			return trials[i].Score > trials[j].Score
		}

		return trials[i].sampleOrder < trials[j].sampleOrder
	})
}

// rungOutcome is the memoized result of evaluating one configuration at
// one resource level within a bracket.
type rungOutcome struct {
	score  float64
	failed bool
}

// memoKey identifies a (configuration, resource level) pair within a
// bracket.
type memoKey struct {
	config   string
	resource int
}

// runState carries everything shared across a run's brackets. Trial
// goroutines only touch bestScore/failures, both behind mu; all scheduling
// decisions happen on the calling goroutine.
type runState struct {
	config   Config
	space    SearchSpace
	evaluate EvaluateFunc
	rng      *rand.Rand

	mu        sync.Mutex
	bestOK    bool
	best      Configuration
	bestScore float64
	failures  []*TrialError

	trials   int
	brackets []BracketReport
}

func newRunState(config Config, space SearchSpace, evaluate EvaluateFunc) *runState {
	return &runState{
		config:    config,
		space:     space,
		evaluate:  evaluate,
		rng:       rand.New(rand.NewSource(config.Seed)),
		bestScore: worstScore,
	}
}

// survivor is a configuration still alive in a bracket, together with its
// position in the bracket's sample sequence (used as the deterministic
// tie-break: earlier samples rank first on equal scores).
type survivor struct {
	cfg   Configuration
	order int
}

// runBracket executes one successive-halving tournament. It only returns
// an error when the context is cancelled; evaluation failures are recorded
// and the tournament continues.
func (run *runState) runBracket(ctx context.Context, plan bracketPlan) error {
	first := plan.Rungs[0]

	run.sendProgress(ProgressUpdate{
		Phase:       PhaseSampling,
		Bracket:     plan.S,
		Resource:    first.Resource,
		TrialsTotal: first.N,
		BestScore:   run.snapshotBest(),
	})

	// Draw the bracket's starting population up front, sequentially, so the
	// sampled configurations depend only on the seed, never on evaluation
	// timing.
	seen := make(map[string]struct{}, first.N)
	current := make([]survivor, first.N)

	for i := range current {
		current[i] = survivor{cfg: run.sampleUnseen(seen), order: i}
	}

	// Scores per (configuration, resource) for this bracket: duplicate
	// samples are never evaluated twice at the same level.
	memo := make(map[memoKey]rungOutcome)

	report := BracketReport{S: plan.S, BestScore: worstScore}

	for rungIdx, rung := range plan.Rungs {
		if err := ctx.Err(); err != nil {
			run.brackets = append(run.brackets, report)

			return errors.Wrap(err, "search interrupted")
		}

		klog.V(1).Infof("bracket s=%d rung %d: %d trials at resource %d",
			plan.S, rungIdx, len(current), rung.Resource)

		trials := make([]Trial, len(current))
		for i, sv := range current {
			trials[i] = Trial{
				ID:          uuid.NewString(),
				Config:      sv.cfg,
				Resource:    rung.Resource,
				Score:       worstScore,
				sampleOrder: sv.order,
			}
		}

		run.evaluateRung(ctx, plan.S, rungIdx, trials, memo)
		run.trials += len(trials)

		rankTrials(trials)

		// The rung maximum is the only candidate for the bracket best. A
		// failed trial at the top means the whole rung failed.
		if top := trials[0]; !top.Failed && (!report.BestOK || top.Score > report.BestScore) {
			report.Best = top.Config
			report.BestScore = top.Score
			report.BestOK = true
		}

		keep := 0
		if rungIdx+1 < len(plan.Rungs) {
			keep = plan.Rungs[rungIdx+1].N
		}

		report.Rungs = append(report.Rungs, RungReport{
			Resource:  rung.Resource,
			Trials:    len(trials),
			Survivors: keep,
		})

		// Discard everything below the cut permanently; discarded
		// configurations are never resumed.
		if keep > 0 {
			next := make([]survivor, keep)
			for i := 0; i < keep; i++ {
				next[i] = survivor{cfg: trials[i].Config, order: trials[i].sampleOrder}
			}

			current = next
		}
	}

	if report.BestOK {
		run.observeBest(report.Best, report.BestScore)
	}

	run.brackets = append(run.brackets, report)

	run.sendProgress(ProgressUpdate{
		Phase:     PhaseBracketDone,
		Bracket:   plan.S,
		BestScore: run.snapshotBest(),
	})

	return nil
}

// evaluateRung scores every trial of a rung, invoking the evaluator for
// the rung's survivors concurrently, bounded by Config.Parallelism. The
// rung is not closed until every trial has a score or is marked failed.
//
// Each trial writes exactly once to its own slot; trials sharing a
// configuration (replacement sampling on small discrete spaces) share a
// single evaluation through the bracket memo.
func (run *runState) evaluateRung(ctx context.Context, s, rungIdx int, trials []Trial, memo map[memoKey]rungOutcome) {
	resource := trials[0].Resource

	// Pick one owner per distinct configuration; only owners evaluate.
	owners := make([]int, 0, len(trials))
	ownerByKey := make(map[string]int, len(trials))

	for i := range trials {
		key := trials[i].Config.Key()
		if _, ok := ownerByKey[key]; ok {
			continue
		}

		ownerByKey[key] = i
		owners = append(owners, i)
	}

	parallelism := run.config.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup

	var done atomic.Int64

	for _, idx := range owners {
		wg.Add(1)

		sem <- struct{}{}

		go func(t *Trial) {
			defer wg.Done()
			defer func() { <-sem }()

			score, err := run.callEvaluate(ctx, t.Config, t.Resource)
			if err != nil {
				t.Score = worstScore
				t.Failed = true

				run.recordFailure(&TrialError{
					TrialID:  t.ID,
					Config:   t.Config,
					Resource: t.Resource,
					Err:      err,
				})

				klog.Warningf("trial %s (config %s) failed at resource %d: %v",
					t.ID, t.Config.Key(), t.Resource, err)
			} else {
				t.Score = score
			}

			run.sendProgress(ProgressUpdate{
				Phase:       PhaseRung,
				Bracket:     s,
				Rung:        rungIdx,
				Resource:    t.Resource,
				TrialsDone:  int(done.Add(1)),
				TrialsTotal: len(trials),
				BestScore:   run.snapshotBest(),
			})
		}(&trials[idx])
	}

	wg.Wait()

	// Record the owners' outcomes and fill the duplicate trials.
	for _, idx := range owners {
		memo[memoKey{config: trials[idx].Config.Key(), resource: resource}] = rungOutcome{
			score:  trials[idx].Score,
			failed: trials[idx].Failed,
		}
	}

	for i := range trials {
		if ownerByKey[trials[i].Config.Key()] == i {
			continue
		}

		out := memo[memoKey{config: trials[i].Config.Key(), resource: resource}]
		trials[i].Score = out.score
		trials[i].Failed = out.failed
	}
}

// callEvaluate invokes the caller's evaluator with the optional per-trial
// timeout, converting panics into trial failures so one bad configuration
// cannot abort the search.
func (run *runState) callEvaluate(ctx context.Context, cfg Configuration, resource int) (score float64, err error) {
	if run.config.TrialTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, run.config.TrialTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("evaluator panicked: %v", r)
		}
	}()

	return run.evaluate(ctx, cfg, resource)
}

// sampleUnseen draws one configuration, redrawing a bounded number of
// times to avoid duplicates within the bracket. See maxSampleAttempts.
func (run *runState) sampleUnseen(seen map[string]struct{}) Configuration {
	var cfg Configuration

	for attempt := 0; attempt < maxSampleAttempts; attempt++ {
		cfg = run.space.sample(run.rng)
		if _, dup := seen[cfg.Key()]; !dup {
			break
		}
	}

	seen[cfg.Key()] = struct{}{}

	return cfg
}

// observeBest updates the run's global best with a bracket winner.
func (run *runState) observeBest(cfg Configuration, score float64) {
	run.mu.Lock()
	defer run.mu.Unlock()

	if !run.bestOK || score > run.bestScore {
		run.best = cfg
		run.bestScore = score
		run.bestOK = true
	}
}

// snapshotBest returns the current global best score (worstScore until the
// first trial succeeds).
func (run *runState) snapshotBest() float64 {
	run.mu.Lock()
	defer run.mu.Unlock()

	return run.bestScore
}

// recordFailure appends a recovered evaluation failure to the aggregated
// diagnostics.
func (run *runState) recordFailure(failure *TrialError) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.failures = append(run.failures, failure)
}

// sendProgress sends a progress update without blocking: if the channel
// is full the update is skipped rather than stalling a trial.
func (run *runState) sendProgress(update ProgressUpdate) {
	if run.config.ProgressChan == nil {
		return
	}

	select {
	case run.config.ProgressChan <- update:
	default:
		// Skip update if channel is full.
	}
}

// result assembles the run report.
func (run *runState) result() *Result {
	return &Result{
		Best:      run.best,
		BestScore: run.bestScore,
		Trials:    run.trials,
		Brackets:  run.brackets,
		Failures:  run.failures,
	}
}
