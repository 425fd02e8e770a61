package hyperband

import (
	"fmt"

	"github.com/pkg/errors"
)

//////
// Error types.
//////

// ErrNoValidResult is returned by a search whose every single trial failed.
// In that case there is no score that can honestly be reported as "best",
// so the search returns this error instead of fabricating one.
var ErrNoValidResult = errors.New("no valid result: every trial failed")

// InvalidSpaceError indicates a malformed or empty search-space declaration.
// It is always raised before any evaluation takes place.
//
// Typical causes:
// - The search space has no parameters
// - A domain is empty (e.g. a Choice with no values)
// - A range is inverted (Min > Max) or log-scaled over non-positive bounds
// - A Conditional references an undeclared parent, a parent that is not a
//   Choice, or a discriminant value the parent can never take
type InvalidSpaceError struct {
	// Reason describes what is wrong with the declaration.
	Reason string
}

func (e *InvalidSpaceError) Error() string {
	return "invalid search space: " + e.Reason
}

// invalidSpacef builds an InvalidSpaceError with a formatted reason.
func invalidSpacef(format string, args ...any) error {
	return &InvalidSpaceError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidParameterError indicates an invalid engine parameter, such as
// `Eta < 2` or a non-positive `MaxIter`. It is always raised before any
// evaluation takes place.
type InvalidParameterError struct {
	// Param is the name of the offending parameter.
	Param string

	// Reason describes why the value was rejected.
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// invalidParamf builds an InvalidParameterError with a formatted reason.
func invalidParamf(param, format string, args ...any) error {
	return &InvalidParameterError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// TrialError records a single recovered evaluation failure. The failing
// configuration receives the worst possible score and is discarded at the
// next halving; the error itself is only surfaced as part of the aggregated
// diagnostics in Result.Failures, never as a propagated error that aborts
// the search.
type TrialError struct {
	// TrialID identifies the failed trial in the run report.
	TrialID string

	// Config is the configuration whose evaluation failed.
	Config Configuration

	// Resource is the budget the trial was running with when it failed.
	Resource int

	// Err is the underlying error returned (or panicked) by the evaluator.
	Err error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial %s (config %s, resource %d) failed: %v",
		e.TrialID, e.Config.Key(), e.Resource, e.Err)
}

// Unwrap exposes the underlying evaluator error to errors.Is/As.
func (e *TrialError) Unwrap() error { return e.Err }
