package hyperband

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scoreX scores a configuration by its "x" value, ignoring the resource:
// a monotonic, deterministic benchmark where more budget never changes the
// ranking, so the maximum reachable x must win.
func scoreX(_ context.Context, cfg Configuration, _ int) (float64, error) {
	return float64(cfg.Int("x")), nil
}

// scheduleTrials sums the planned rung sizes.
func scheduleTrials(t *testing.T, maxIter, eta int) int {
	t.Helper()

	brackets, err := Schedule(maxIter, eta)
	require.NoError(t, err)

	total := 0
	for _, bracket := range brackets {
		for _, rung := range bracket.Rungs {
			total += rung.Trials
		}
	}

	return total
}

func TestRunMonotonicBenchmark(t *testing.T) {
	config := DefaultConfig()
	config.Seed = 42
	config.Parallelism = 4

	space := SearchSpace{"x": Uniform(1, 10)}

	result, err := Run(context.Background(), config, space, scoreX)
	require.NoError(t, err)

	// With 143 samples over ten values, 10 is reached in every bracket and
	// survives every halving.
	assert.Equal(t, int64(10), result.Best.Int("x"))
	assert.Equal(t, 10.0, result.BestScore)

	// Every planned trial was issued, none twice.
	assert.Equal(t, scheduleTrials(t, 81, 3), result.Trials)

	// The executed rungs match the planned schedule exactly.
	planned, err := Schedule(81, 3)
	require.NoError(t, err)
	require.Len(t, result.Brackets, len(planned))

	for i, bracket := range result.Brackets {
		assert.Equal(t, planned[i].S, bracket.S)
		assert.Equal(t, planned[i].Rungs, bracket.Rungs)
		assert.True(t, bracket.BestOK)
	}

	assert.Empty(t, result.Failures)
}

func TestRunDeterminism(t *testing.T) {
	runOnce := func() (*Result, []string) {
		config := DefaultConfig()
		config.Seed = 7
		config.Parallelism = 1

		var keys []string

		space := benchmarkSpace()

		result, err := Run(context.Background(), config, space,
			func(_ context.Context, cfg Configuration, _ int) (float64, error) {
				keys = append(keys, cfg.Key())

				return cfg.Float("learning_rate"), nil
			})
		require.NoError(t, err)

		return result, keys
	}

	result1, keys1 := runOnce()
	result2, keys2 := runOnce()

	// Same seed, same space, same evaluator: identical sampled
	// configurations in identical order, identical outcome.
	assert.Equal(t, keys1, keys2)
	assert.Equal(t, result1.Best.Key(), result2.Best.Key())
	assert.Equal(t, result1.BestScore, result2.BestScore)
	assert.Equal(t, result1.Brackets, result2.Brackets)
}

func TestRunInvalidParameters(t *testing.T) {
	var evaluations int32

	counting := func(_ context.Context, cfg Configuration, _ int) (float64, error) {
		atomic.AddInt32(&evaluations, 1)

		return 0, nil
	}

	space := SearchSpace{"x": Uniform(1, 10)}

	var paramErr *InvalidParameterError

	config := DefaultConfig()
	config.Eta = 1

	_, err := Run(context.Background(), config, space, counting)
	require.ErrorAs(t, err, &paramErr)
	assert.Equal(t, "Eta", paramErr.Param)

	config = DefaultConfig()
	config.MaxIter = 0

	_, err = Run(context.Background(), config, space, counting)
	require.ErrorAs(t, err, &paramErr)
	assert.Equal(t, "MaxIter", paramErr.Param)

	_, err = Run(context.Background(), DefaultConfig(), space, nil)
	require.ErrorAs(t, err, &paramErr)

	var spaceErr *InvalidSpaceError

	_, err = Run(context.Background(), DefaultConfig(), SearchSpace{}, counting)
	require.ErrorAs(t, err, &spaceErr)

	// All of the above fail fast, before any evaluation.
	assert.Zero(t, atomic.LoadInt32(&evaluations))
}

func TestRunRecoversFailedTrials(t *testing.T) {
	config := DefaultConfig()
	config.Seed = 42
	config.Parallelism = 4

	space := SearchSpace{"x": Uniform(1, 10)}

	// x=10 fails every single evaluation; the best valid value is 9.
	result, err := Run(context.Background(), config, space,
		func(_ context.Context, cfg Configuration, _ int) (float64, error) {
			if cfg.Int("x") == 10 {
				return 0, errors.New("diverged")
			}

			return float64(cfg.Int("x")), nil
		})
	require.NoError(t, err)

	// A wholly-failed configuration never wins.
	assert.Equal(t, int64(9), result.Best.Int("x"))
	assert.Equal(t, 9.0, result.BestScore)

	// Every aggregated failure points at the failing configuration.
	require.NotEmpty(t, result.Failures)

	for _, failure := range result.Failures {
		assert.Equal(t, int64(10), failure.Config.Int("x"))
		assert.ErrorContains(t, failure, "diverged")
	}
}

func TestRunRecoversEvaluatorPanic(t *testing.T) {
	config := DefaultConfig()
	config.Seed = 42

	space := SearchSpace{"x": Uniform(1, 10)}

	result, err := Run(context.Background(), config, space,
		func(_ context.Context, cfg Configuration, _ int) (float64, error) {
			if cfg.Int("x") == 10 {
				panic("NaN loss")
			}

			return float64(cfg.Int("x")), nil
		})
	require.NoError(t, err)

	assert.Equal(t, int64(9), result.Best.Int("x"))
	require.NotEmpty(t, result.Failures)
	assert.ErrorContains(t, result.Failures[0], "NaN loss")
}

func TestRunAllTrialsFailed(t *testing.T) {
	config := DefaultConfig()
	config.Seed = 3

	space := SearchSpace{"x": Uniform(1, 10)}

	result, err := Run(context.Background(), config, space,
		func(_ context.Context, _ Configuration, _ int) (float64, error) {
			return 0, errors.New("out of memory")
		})

	// No fabricated winner: the run reports what it attempted and the
	// designated no-valid-result outcome.
	require.ErrorIs(t, err, ErrNoValidResult)
	require.NotNil(t, result)
	assert.Equal(t, scheduleTrials(t, 81, 3), result.Trials)
	assert.NotEmpty(t, result.Failures)

	for _, bracket := range result.Brackets {
		assert.False(t, bracket.BestOK)
	}
}

func TestRunBoundedParallelism(t *testing.T) {
	config := DefaultConfig()
	config.MaxIter = 9
	config.Eta = 3
	config.Seed = 5
	config.Parallelism = 8

	var inFlight, peak int32

	space := SearchSpace{"x": Uniform(1, 1_000_000)}

	_, err := Run(context.Background(), config, space,
		func(_ context.Context, cfg Configuration, _ int) (float64, error) {
			n := atomic.AddInt32(&inFlight, 1)
			defer atomic.AddInt32(&inFlight, -1)

			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}

			time.Sleep(5 * time.Millisecond)

			return float64(cfg.Int("x")), nil
		})
	require.NoError(t, err)

	// The semaphore caps concurrency at Parallelism, and a 9-trial rung
	// with 8 workers actually runs trials side by side.
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(8))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestRunPromotesOnlySurvivors(t *testing.T) {
	config := DefaultConfig()
	config.MaxIter = 3
	config.Eta = 3
	config.Seed = 11
	config.Parallelism = 1

	type event struct {
		key      string
		resource int
		score    float64
	}

	var mu sync.Mutex

	var events []event

	// A space large enough that duplicate samples do not occur.
	space := SearchSpace{"x": Uniform(1, 1_000_000)}

	_, err := Run(context.Background(), config, space,
		func(_ context.Context, cfg Configuration, r int) (float64, error) {
			score := float64(cfg.Int("x"))

			mu.Lock()
			events = append(events, event{key: cfg.Key(), resource: r, score: score})
			mu.Unlock()

			return score, nil
		})
	require.NoError(t, err)

	// Schedule for (3, 3): bracket s=1 runs 3@1 then 1@3; bracket s=0 runs
	// 2@3. Six evaluations in order.
	require.Len(t, events, 6)

	first := events[:3]
	for _, e := range first {
		assert.Equal(t, 1, e.resource)
	}

	// The single survivor promoted to resource 3 must be the best of the
	// first rung; the two discarded configurations never reappear in this
	// bracket.
	best := first[0]
	for _, e := range first[1:] {
		if e.score > best.score {
			best = e
		}
	}

	assert.Equal(t, 3, events[3].resource)
	assert.Equal(t, best.key, events[3].key)

	for _, e := range events[4:] {
		assert.Equal(t, 3, e.resource)
	}
}

func TestRunSmallDiscreteSpaceDeduplicates(t *testing.T) {
	config := DefaultConfig()
	config.MaxIter = 3
	config.Eta = 3
	config.Seed = 9

	// Two distinct configurations, three slots in the first rung: sampling
	// degrades to replacement, but the bracket memo still evaluates each
	// configuration at most once per resource level.
	space := SearchSpace{"x": Choose(1, 2)}

	var mu sync.Mutex

	evalsAtResource := map[int]map[string]int{}

	result, err := Run(context.Background(), config, space,
		func(_ context.Context, cfg Configuration, r int) (float64, error) {
			mu.Lock()
			if evalsAtResource[r] == nil {
				evalsAtResource[r] = map[string]int{}
			}
			evalsAtResource[r][cfg.Key()]++
			mu.Unlock()

			return float64(cfg.Int("x")), nil
		})
	require.NoError(t, err)

	// All planned trials are still reported.
	assert.Equal(t, scheduleTrials(t, 3, 3), result.Trials)
	assert.Equal(t, 3, result.Brackets[0].Rungs[0].Trials)

	// The first rung of bracket s=1 runs at resource 1; only that bracket
	// uses resource 1, so per-key counts there must be exactly one.
	for key, count := range evalsAtResource[1] {
		assert.Equal(t, 1, count, "configuration %s evaluated twice at resource 1", key)
	}

	assert.Equal(t, int64(2), result.Best.Int("x"))
}

func TestRunProgressChannel(t *testing.T) {
	config := DefaultConfig()
	config.MaxIter = 9
	config.Eta = 3
	config.Seed = 1

	// Create a bidirectional channel for progress updates
	progressChan := make(chan ProgressUpdate, 256)
	config.ProgressChan = progressChan

	var rungUpdates int32

	var bracketsDone int32

	consumed := make(chan struct{})

	// Start a goroutine to handle progress updates.
	go func() {
		defer close(consumed)

		for update := range progressChan {
			switch update.Phase {
			case PhaseRung:
				atomic.AddInt32(&rungUpdates, 1)
			case PhaseBracketDone:
				atomic.AddInt32(&bracketsDone, 1)
			}
		}
	}()

	space := SearchSpace{"x": Uniform(1, 1_000_000)}

	_, err := Run(context.Background(), config, space, scoreX)
	require.NoError(t, err)

	close(progressChan)
	<-consumed

	// Ensure events were emitted.
	assert.Greater(t, atomic.LoadInt32(&rungUpdates), int32(0))
	assert.Equal(t, int32(3), atomic.LoadInt32(&bracketsDone))
}

func TestRunTrialTimeout(t *testing.T) {
	config := DefaultConfig()
	config.MaxIter = 3
	config.Eta = 3
	config.Seed = 2
	config.Parallelism = 4
	config.TrialTimeout = 10 * time.Millisecond

	space := SearchSpace{"x": Uniform(1, 1_000_000)}

	// An evaluator that never returns on its own: only the per-trial
	// deadline unblocks it.
	result, err := Run(context.Background(), config, space,
		func(ctx context.Context, _ Configuration, _ int) (float64, error) {
			<-ctx.Done()

			return 0, ctx.Err()
		})

	require.ErrorIs(t, err, ErrNoValidResult)
	require.NotEmpty(t, result.Failures)
	assert.ErrorIs(t, result.Failures[0], context.DeadlineExceeded)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := DefaultConfig()
	config.Seed = 4

	result, err := Run(ctx, config, SearchSpace{"x": Uniform(1, 10)}, scoreX)

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Trials)
}
