package hyperband

import (
	"math"
	"sync"
)

//////
// Gaussian Process surrogate used by BayesianSearch.
//////

// gaussianProcess is a thread-safe Gaussian Process regression model over
// encoded configurations. BayesianSearch uses it to predict the score of
// untested configurations from previously observed trials.
//
// Memory grows linearly with observations; Predict is O(n^2) in the number
// of observations, which is fine for the few hundred evaluations a search
// typically affords.
type gaussianProcess struct {
	// mu protects all fields.
	mu sync.RWMutex

	// X stores the observed input points (encoded configurations).
	X [][]float64

	// Y stores the observed scores, one per point in X.
	Y []float64

	// sigma is the RBF kernel width: larger means smoother interpolation,
	// smaller means more local influence.
	sigma float64
}

// newGaussianProcess returns an empty model with a kernel width suitable
// for roughly unit-scale inputs.
func newGaussianProcess() *gaussianProcess {
	return &gaussianProcess{sigma: 1.0}
}

// RBFKernel measures the similarity of two points: 1.0 for identical
// points, decaying exponentially with squared Euclidean distance.
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// Panics if the vectors have different lengths.
func (gp *gaussianProcess) RBFKernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	gp.mu.RLock()
	sigma := gp.sigma
	gp.mu.RUnlock()

	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * sigma * sigma))
}

// Predict estimates the expected score at x and the uncertainty of that
// estimate. With no observations it returns (0, 1): maximum uncertainty.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.X) == 0 {
		return 0, 1
	}

	// Kernel values between x and every observed point.
	k := make([]float64, len(gp.X))
	for i := range gp.X {
		k[i] = gp.RBFKernel(x, gp.X[i])
	}

	// Mean: similarity-weighted average of the observed scores.
	var sum float64

	for i := range gp.X {
		sum += k[i] * gp.Y[i]
	}

	mean = sum / float64(len(gp.X))

	// Variance shrinks as x gets close to observed points.
	variance = 1.0

	for i := range gp.X {
		for j := range gp.X {
			variance -= k[i] * k[j] / float64(len(gp.X))
		}
	}

	return mean, variance
}

// Update adds one observation. The input slice is copied, so the caller
// may reuse it.
func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	newX := make([]float64, len(x))
	copy(newX, x)

	gp.X = append(gp.X, newX)
	gp.Y = append(gp.Y, y)
}
