package hyperband

import "context"

//////
// Grid search.
//////

// GridSearch evaluates every configuration of the space's Cartesian
// product at the full MaxIter budget. It requires every domain to be
// enumerable: Choice values, integer Ranges, and Conditionals whose
// sub-spaces are themselves enumerable. Continuous float ranges are
// rejected with InvalidSpaceError.
//
// The grid size is the product of the domain sizes; the caller is
// responsible for keeping it tractable.
func GridSearch(ctx context.Context, config Config, space SearchSpace, evaluate EvaluateFunc) (*Result, error) {
	if err := validateConfig(config, evaluate); err != nil {
		return nil, err
	}

	if err := space.Validate(); err != nil {
		return nil, err
	}

	configs, err := enumerateSpace(space)
	if err != nil {
		return nil, err
	}

	run := newRunState(config, space, evaluate)

	return run.runSingleRound(ctx, configs)
}

// enumerateSpace builds the full Cartesian product of the space. Inactive
// conditional variants contribute nothing; active ones cross their
// sub-space's own product in.
func enumerateSpace(s SearchSpace) ([]Configuration, error) {
	names := sortedNames(s)

	base := make([]string, 0, len(names))
	conds := make([]string, 0)

	for _, name := range names {
		if _, ok := s[name].(Conditional); ok {
			conds = append(conds, name)
		} else {
			base = append(base, name)
		}
	}

	assignments := []map[string]any{{}}

	for _, name := range base {
		values, ok := s[name].enumerate()
		if !ok {
			return nil, invalidSpacef(
				"parameter %q: domain is not enumerable (grid search requires discrete values or integer ranges)",
				name)
		}

		next := make([]map[string]any, 0, len(assignments)*len(values))

		for _, a := range assignments {
			for _, v := range values {
				clone := cloneAssignment(a)
				clone[name] = v

				next = append(next, clone)
			}
		}

		assignments = next
	}

	for _, name := range conds {
		cond := s[name].(Conditional)

		sub, err := enumerateSpace(cond.Space)
		if err != nil {
			return nil, err
		}

		next := make([]map[string]any, 0, len(assignments))

		for _, a := range assignments {
			if a[cond.Parent] != cond.When {
				next = append(next, a)

				continue
			}

			for _, subCfg := range sub {
				clone := cloneAssignment(a)
				clone[name] = subCfg

				next = append(next, clone)
			}
		}

		assignments = next
	}

	configs := make([]Configuration, len(assignments))
	for i, a := range assignments {
		configs[i] = newConfiguration(a)
	}

	return configs, nil
}

func cloneAssignment(a map[string]any) map[string]any {
	clone := make(map[string]any, len(a)+1)
	for k, v := range a {
		clone[k] = v
	}

	return clone
}
