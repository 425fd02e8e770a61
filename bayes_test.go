package hyperband

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallBayesianConfig(seed int64) BayesianConfig {
	config := DefaultBayesianConfig()
	config.Seed = seed
	config.InitialSamples = 5
	config.Iterations = 10
	config.NumCandidates = 20

	return config
}

func TestBayesianSearchTrialCount(t *testing.T) {
	config := smallBayesianConfig(13)

	space := SearchSpace{"x": Uniform(1.0, 100.0)}

	// The loop is sequential, so tracking the running maximum needs no lock.
	observed := math.Inf(-1)

	result, err := BayesianSearch(context.Background(), config, space,
		func(_ context.Context, cfg Configuration, _ int) (float64, error) {
			score := cfg.Float("x")
			if score > observed {
				observed = score
			}

			return score, nil
		})
	require.NoError(t, err)

	assert.Equal(t, config.InitialSamples+config.Iterations, result.Trials)
	assert.Equal(t, observed, result.BestScore)
	assert.Empty(t, result.Failures)
}

func TestBayesianSearchDeterminism(t *testing.T) {
	space := SearchSpace{
		"x": Uniform(1.0, 100.0),
		"k": Choose("a", "b", "c"),
	}

	run := func() string {
		result, err := BayesianSearch(context.Background(), smallBayesianConfig(7), space,
			func(_ context.Context, cfg Configuration, _ int) (float64, error) {
				return cfg.Float("x"), nil
			})
		require.NoError(t, err)

		return result.Best.Key()
	}

	assert.Equal(t, run(), run())
}

func TestBayesianSearchRejectsConditionals(t *testing.T) {
	space := SearchSpace{
		"optimizer": Choose("sgd", "adam"),
		"sgd_params": Conditional{
			Parent: "optimizer",
			When:   "sgd",
			Space:  SearchSpace{"momentum": Uniform(0.0, 0.99)},
		},
	}

	var spaceErr *InvalidSpaceError

	_, err := BayesianSearch(context.Background(), smallBayesianConfig(1), space, scoreX)
	require.ErrorAs(t, err, &spaceErr)
	assert.Contains(t, spaceErr.Reason, "conditional")
}

func TestBayesianSearchInvalidParameters(t *testing.T) {
	space := SearchSpace{"x": Uniform(1.0, 100.0)}

	var paramErr *InvalidParameterError

	config := smallBayesianConfig(1)
	config.InitialSamples = 0

	_, err := BayesianSearch(context.Background(), config, space, scoreX)
	require.ErrorAs(t, err, &paramErr)
	assert.Equal(t, "InitialSamples", paramErr.Param)

	config = smallBayesianConfig(1)
	config.AcquisitionFunc = nil

	_, err = BayesianSearch(context.Background(), config, space, scoreX)
	require.ErrorAs(t, err, &paramErr)
	assert.Equal(t, "AcquisitionFunc", paramErr.Param)

	config = smallBayesianConfig(1)
	config.NumCandidates = 0

	_, err = BayesianSearch(context.Background(), config, space, scoreX)
	require.ErrorAs(t, err, &paramErr)
	assert.Equal(t, "NumCandidates", paramErr.Param)
}

func TestBayesianSearchRecoversFailedTrials(t *testing.T) {
	config := smallBayesianConfig(21)

	space := SearchSpace{"x": Uniform(1.0, 100.0)}

	result, err := BayesianSearch(context.Background(), config, space,
		func(_ context.Context, cfg Configuration, _ int) (float64, error) {
			if cfg.Float("x") > 50 {
				return 0, assert.AnError
			}

			return cfg.Float("x"), nil
		})
	require.NoError(t, err)

	assert.LessOrEqual(t, result.BestScore, 50.0)
	assert.NotEmpty(t, result.Failures)

	var trialErr *TrialError
	require.ErrorAs(t, result.Failures[0], &trialErr)
	assert.Greater(t, trialErr.Config.Float("x"), 50.0)
}
