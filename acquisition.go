package hyperband

import (
	"math"
	"math/rand"
)

//////
// Acquisition functions for BayesianSearch.
//
// Each function scores how promising an untested configuration is, given
// the surrogate's prediction for it. Higher acquisition values are more
// promising (scores are maximized). They differ in how they trade
// exploration (uncertain areas) against exploitation (known good areas).
//////

// AcquisitionFunc scores a candidate from the surrogate's predicted mean
// and variance at that point. Higher values indicate more promising
// candidates.
//
// Custom implementations must be deterministic given their AcquisitionParams
// (ThompsonSampling is the deliberate exception: it draws from
// params.RandomState) and must handle zero variance.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams carries the knobs shared by the built-in acquisition
// functions.
type AcquisitionParams struct {
	// Beta controls UCB's exploration-exploitation trade-off: higher values
	// favor uncertain areas. Typical values range 0.1 to 5.0; 2.0 is a good
	// default.
	Beta float64

	// Xi is the minimum-improvement margin used by PI and EI. Typical
	// values range 0.01 to 0.1.
	Xi float64

	// BestSoFar is the best score observed so far. BayesianSearch keeps it
	// up to date between iterations; initialize it to math.Inf(-1).
	BestSoFar float64

	// RandomState is the generator ThompsonSampling draws from. When nil,
	// BayesianSearch seeds one from Config.Seed.
	RandomState *rand.Rand
}

// UCB is the Upper Confidence Bound acquisition: predicted mean plus a
// Beta-weighted uncertainty bonus. Simple and robust; the default.
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean + params.Beta*math.Sqrt(positive(variance))
}

// ProbabilityOfImprovement scores a candidate by the probability that it
// improves on BestSoFar by at least Xi, under a normal assumption. A
// conservative strategy: it prefers likely small wins over risky big ones.
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(positive(variance))
	if sigma == 0 {
		if mean > params.BestSoFar+params.Xi {
			return 1
		}

		return 0
	}

	z := (mean - params.BestSoFar - params.Xi) / sigma

	return normalCDF(z)
}

// ExpectedImprovement weighs both how likely and how large an improvement
// over BestSoFar would be. The most commonly used acquisition in practice.
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(positive(variance))

	improvement := mean - params.BestSoFar - params.Xi

	if sigma == 0 {
		return positive(improvement)
	}

	z := improvement / sigma

	return improvement*normalCDF(z) + sigma*normalPDF(z)
}

// ThompsonSampling draws one sample from the surrogate's posterior at the
// candidate. Randomness does the exploration; no Beta or Xi to tune.
// Requires params.RandomState.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(positive(variance))*params.RandomState.NormFloat64()
}

// positive clamps the surrogate's variance estimate, which can come out
// slightly negative from float cancellation.
func positive(v float64) float64 {
	if v < 0 {
		return 0
	}

	return v
}
