package hyperband

import "math"

//////
// Helper functions.
//////

// normalCDF is the cumulative distribution function of the standard normal
// distribution, used by the PI and EI acquisition functions.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normalPDF is the probability density function of the standard normal
// distribution, used by the EI acquisition function.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}
