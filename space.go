package hyperband

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"golang.org/x/exp/constraints"
)

//////
// Search-space declaration: domains, conditionals and sampled configurations.
//////

// Domain describes the set of values a single hyperparameter may take.
// The built-in implementations are:
//
//   - Choice: a discrete set of values
//   - Range[T]: a bounded numeric interval, optionally log-scaled
//   - Conditional: a sub-space active only when a parent Choice takes a
//     specific value (a tagged variant)
type Domain interface {
	// validate checks the domain declaration in the context of its space.
	validate(name string, space SearchSpace) error

	// sample draws one value from the domain.
	sample(rng *rand.Rand) any

	// enumerate returns every value of the domain, when the domain is
	// finite and enumerable. Used by GridSearch.
	enumerate() ([]any, bool)
}

// SearchSpace maps each hyperparameter name to its allowed domain.
//
// Usage example:
//
//	space := hyperband.SearchSpace{
//	    "learning_rate": hyperband.LogUniform(1e-4, 1e-1),
//	    "batch_size":    hyperband.Choose(16, 32, 64, 128),
//	    "optimizer":     hyperband.Choose("sgd", "adam"),
//	    "sgd_params": hyperband.Conditional{
//	        Parent: "optimizer",
//	        When:   "sgd",
//	        Space: hyperband.SearchSpace{
//	            "momentum": hyperband.Uniform(0.0, 0.99),
//	        },
//	    },
//	}
type SearchSpace map[string]Domain

// Validate checks the whole declaration and returns an InvalidSpaceError
// describing the first problem found. It is called by every search entry
// point before any evaluation begins.
func (s SearchSpace) Validate() error {
	if len(s) == 0 {
		return invalidSpacef("no parameters declared")
	}

	for _, name := range sortedNames(s) {
		if err := s[name].validate(name, s); err != nil {
			return err
		}
	}

	return nil
}

// sample draws one full configuration: every unconditional parameter gets a
// value, and each Conditional contributes a nested configuration only when
// its parent sampled the discriminant value.
//
// Parameters are visited in sorted name order, so for a fixed seed the
// sequence of drawn configurations is fully deterministic.
func (s SearchSpace) sample(rng *rand.Rand) Configuration {
	names := sortedNames(s)

	values := make(map[string]any, len(s))

	// Unconditional parameters first: conditionals depend on their values.
	for _, name := range names {
		if _, ok := s[name].(Conditional); ok {
			continue
		}

		values[name] = s[name].sample(rng)
	}

	for _, name := range names {
		cond, ok := s[name].(Conditional)
		if !ok {
			continue
		}

		if values[cond.Parent] == cond.When {
			values[name] = cond.sample(rng)
		}
	}

	return newConfiguration(values)
}

//////
// Domains.
//////

// Choice is a discrete domain: the parameter takes exactly one of Values.
// Values must be comparable (strings, numbers, bools) so that sampled
// configurations can serve as map keys.
type Choice struct {
	Values []any
}

// Choose builds a Choice domain from the given values.
func Choose(values ...any) Choice {
	return Choice{Values: values}
}

func (c Choice) validate(name string, _ SearchSpace) error {
	if len(c.Values) == 0 {
		return invalidSpacef("parameter %q: Choice has no values", name)
	}

	return nil
}

func (c Choice) sample(rng *rand.Rand) any {
	return c.Values[rng.Intn(len(c.Values))]
}

func (c Choice) enumerate() ([]any, bool) {
	return c.Values, true
}

// Range is a bounded numeric interval, inclusive on both ends.
//
// With Log set, values are drawn log-uniformly: uniform in log-space and
// exponentiated back, which is the usual way to sample scale-like
// parameters such as learning rates. Log ranges require Min > 0.
//
// Integer ranges enumerate for GridSearch; float ranges do not.
type Range[T constraints.Integer | constraints.Float] struct {
	// Min is the minimum allowed value (inclusive).
	Min T

	// Max is the maximum allowed value (inclusive).
	Max T

	// Log switches to log-uniform sampling.
	Log bool
}

// Uniform builds a Range sampled uniformly over [min, max].
func Uniform[T constraints.Integer | constraints.Float](min, max T) Range[T] {
	return Range[T]{Min: min, Max: max}
}

// LogUniform builds a Range sampled log-uniformly over [min, max].
// min must be positive.
func LogUniform[T constraints.Integer | constraints.Float](min, max T) Range[T] {
	return Range[T]{Min: min, Max: max, Log: true}
}

func (r Range[T]) validate(name string, _ SearchSpace) error {
	if r.Max < r.Min {
		return invalidSpacef("parameter %q: Min (%v) greater than Max (%v)", name, r.Min, r.Max)
	}

	if r.Log && float64(r.Min) <= 0 {
		return invalidSpacef("parameter %q: log-scaled range requires Min > 0, got %v", name, r.Min)
	}

	return nil
}

func (r Range[T]) sample(rng *rand.Rand) any {
	switch any(r.Min).(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		lo := int64(r.Min)
		hi := int64(r.Max)

		if r.Log {
			v := math.Exp(logUniform(rng, float64(lo), float64(hi)))

			// Round back to the integer grid and clamp to the declared bounds.
			rounded := int64(math.Round(v))
			if rounded < lo {
				rounded = lo
			}
			if rounded > hi {
				rounded = hi
			}

			return T(rounded)
		}

		return T(lo + rng.Int63n(hi-lo+1))
	default:
		lo := float64(r.Min)
		hi := float64(r.Max)

		if r.Log {
			return T(math.Exp(logUniform(rng, lo, hi)))
		}

		return T(lo + rng.Float64()*(hi-lo))
	}
}

func (r Range[T]) enumerate() ([]any, bool) {
	switch any(r.Min).(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		lo := int64(r.Min)
		hi := int64(r.Max)

		values := make([]any, 0, hi-lo+1)
		for v := lo; v <= hi; v++ {
			values = append(values, T(v))
		}

		return values, true
	default:
		return nil, false
	}
}

// logUniform draws uniformly in log-space over [lo, hi] and returns the
// logarithm of the drawn value.
func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	logLo := math.Log(lo)
	logHi := math.Log(hi)

	return logLo + rng.Float64()*(logHi-logLo)
}

// Conditional is a tagged-variant domain: a sub-space that is only active
// when the parameter named Parent (which must be a Choice declared in the
// same space) samples the value When. When inactive, the parameter is
// simply absent from the sampled configuration.
//
// The sub-space is self-contained: its parameters cannot reference
// parameters of the enclosing space.
type Conditional struct {
	// Parent names the Choice parameter this variant is keyed on.
	Parent string

	// When is the discriminant value that activates this variant.
	When any

	// Space declares the variant's own parameters.
	Space SearchSpace
}

func (c Conditional) validate(name string, space SearchSpace) error {
	parent, ok := space[c.Parent]
	if !ok {
		return invalidSpacef("parameter %q: conditional references undeclared parent %q", name, c.Parent)
	}

	choice, ok := parent.(Choice)
	if !ok {
		return invalidSpacef("parameter %q: conditional parent %q is not a Choice", name, c.Parent)
	}

	found := false
	for _, v := range choice.Values {
		if v == c.When {
			found = true

			break
		}
	}

	if !found {
		return invalidSpacef("parameter %q: parent %q never takes discriminant value %v", name, c.Parent, c.When)
	}

	if len(c.Space) == 0 {
		return invalidSpacef("parameter %q: conditional sub-space is empty", name)
	}

	return c.Space.Validate()
}

func (c Conditional) sample(rng *rand.Rand) any {
	return c.Space.sample(rng)
}

func (c Conditional) enumerate() ([]any, bool) {
	// Enumeration of a conditional depends on the parent's value; GridSearch
	// handles it when building the product.
	return nil, false
}

//////
// Configuration.
//////

// Configuration is one immutable assignment of a value to every active
// parameter of a search space. Its canonical Key is stable across runs and
// can be used as a map key, which is how the engine guarantees a
// configuration is never evaluated twice at the same resource level within
// a bracket.
type Configuration struct {
	values map[string]any
	key    string
}

// newConfiguration freezes the given assignment and computes its canonical
// key: parameters in sorted name order, nested configurations in braces.
func newConfiguration(values map[string]any) Configuration {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(values))
	for _, name := range names {
		switch v := values[name].(type) {
		case Configuration:
			parts = append(parts, fmt.Sprintf("%s={%s}", name, v.key))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", name, v))
		}
	}

	return Configuration{
		values: values,
		key:    strings.Join(parts, ";"),
	}
}

// Key returns the canonical textual identity of the configuration.
func (c Configuration) Key() string { return c.key }

// String implements fmt.Stringer.
func (c Configuration) String() string { return c.key }

// Len returns the number of active parameters.
func (c Configuration) Len() int { return len(c.values) }

// Value returns the raw value of a parameter and whether it is present.
// Inactive conditional parameters are absent.
func (c Configuration) Value(name string) (any, bool) {
	v, ok := c.values[name]

	return v, ok
}

// Int returns the parameter as an int64, or 0 when absent or non-integer.
func (c Configuration) Int(name string) int64 {
	switch v := c.values[name].(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return 0
	}
}

// Float returns the parameter as a float64, converting integer values, or
// 0 when absent or non-numeric.
func (c Configuration) Float(name string) float64 {
	switch v := c.values[name].(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		if _, ok := c.values[name]; ok {
			return float64(c.Int(name))
		}

		return 0
	}
}

// Text returns the parameter as a string, or "" when absent or not a string.
func (c Configuration) Text(name string) string {
	v, _ := c.values[name].(string)

	return v
}

// Sub returns the nested configuration of an active Conditional parameter.
// The second result reports whether the variant is active.
func (c Configuration) Sub(name string) (Configuration, bool) {
	v, ok := c.values[name].(Configuration)

	return v, ok
}

// sortedNames returns the space's parameter names in sorted order.
func sortedNames(s SearchSpace) []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
