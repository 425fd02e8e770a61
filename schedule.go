package hyperband

import "math"

//////
// Bracket schedule.
//////

// rungPlan is one elimination round of a bracket: N configurations each
// evaluated with Resource budget units.
type rungPlan struct {
	N        int
	Resource int
}

// bracketPlan is one full successive-halving run. S is the bracket index,
// counting down from sMax: high S means many cheap configurations, S == 0
// means few configurations at full budget.
type bracketPlan struct {
	S     int
	Rungs []rungPlan
}

// trials returns the total number of trials the bracket will issue, i.e.
// the sum of its rung sizes.
func (b bracketPlan) trials() int {
	total := 0
	for _, rung := range b.Rungs {
		total += rung.N
	}

	return total
}

// maxExponent returns floor(log_eta(maxIter)) computed with integer
// arithmetic, avoiding the float rounding that bites log(81)/log(3).
func maxExponent(maxIter, eta int) int {
	s := 0
	for p := eta; p <= maxIter; p *= eta {
		s++
	}

	return s
}

// intPow returns base**exp for non-negative exp.
func intPow(base, exp int) int {
	result := 1
	for i := 0; i < exp; i++ {
		result *= base
	}

	return result
}

// Schedule returns the bracket schedule Run would execute for the given
// budget, without evaluating anything. Useful for previewing cost before a
// run: the total number of trials is the sum of all rung Trials. Survivors
// of a rung is the size of the next rung (0 for a bracket's last rung).
func Schedule(maxIter, eta int) ([]BracketReport, error) {
	if maxIter < 1 {
		return nil, invalidParamf("MaxIter", "must be positive, got %d", maxIter)
	}

	if eta < 2 {
		return nil, invalidParamf("Eta", "must be >= 2, got %d", eta)
	}

	plans := schedule(maxIter, eta)

	reports := make([]BracketReport, len(plans))
	for i, plan := range plans {
		report := BracketReport{S: plan.S}

		for j, rung := range plan.Rungs {
			survivors := 0
			if j+1 < len(plan.Rungs) {
				survivors = plan.Rungs[j+1].N
			}

			report.Rungs = append(report.Rungs, RungReport{
				Resource:  rung.Resource,
				Trials:    rung.N,
				Survivors: survivors,
			})
		}

		reports[i] = report
	}

	return reports, nil
}

// schedule builds the full Hyperband bracket schedule for the given budget.
//
// Bracket s (for s = sMax down to 0) starts with
//
//	n = ceil((sMax+1)/(s+1) * eta^s)
//
// configurations at resource r = maxIter * eta^(-s), then repeatedly keeps
// the floor(n_i/eta) best and multiplies the resource by eta, until one
// configuration remains or the resource would exceed maxIter.
//
// For maxIter=81, eta=3 this yields bracket starts
// (81,1), (34,3), (15,9), (8,27), (5,81), and bracket s=4 runs the rungs
// (81,1), (27,3), (9,9), (3,27), (1,81).
func schedule(maxIter, eta int) []bracketPlan {
	sMax := maxExponent(maxIter, eta)

	brackets := make([]bracketPlan, 0, sMax+1)

	for s := sMax; s >= 0; s-- {
		n := int(math.Ceil(float64((sMax+1)*intPow(eta, s)) / float64(s+1)))

		r := maxIter / intPow(eta, s)
		if r < 1 {
			r = 1
		}

		bracket := bracketPlan{S: s}

		for {
			bracket.Rungs = append(bracket.Rungs, rungPlan{N: n, Resource: r})

			keep := n / eta
			if keep < 1 || r*eta > maxIter {
				break
			}

			n = keep
			r *= eta
		}

		brackets = append(brackets, bracket)
	}

	return brackets
}
