package core

import (
	"errors"
	"fmt"
)

// ErrDependencyCycle marks a feature whose dependency graph loops back on
// itself. It is a configuration error on the feature being evaluated.
var ErrDependencyCycle = errors.New("dependency cycle")

// dependenciesSatisfied evaluates every parent feature this feature depends
// on, with the same context and environment. It reports false as soon as one
// parent does not match its required enabled state or variant set. Returned
// diagnostics describe configuration errors (cycles, missing parents).
func (e *Evaluator) dependenciesSatisfied(feature Feature, context Context, environment string, visiting map[string]bool) (bool, []string) {
	var diagnostics []string

	for _, dependency := range feature.Dependencies {
		if visiting[dependency.Feature] {
			diagnostics = append(diagnostics, fmt.Sprintf("%v: %q depends on %q which is already on the evaluation stack", ErrDependencyCycle, feature.Name, dependency.Feature))
			return false, diagnostics
		}

		parent, found := e.features[dependency.Feature]
		if !found {
			diagnostics = append(diagnostics, fmt.Sprintf("dependency %q not found", dependency.Feature))
			return false, diagnostics
		}

		parentResult := e.evaluate(parent, context, environment, visiting)
		diagnostics = append(diagnostics, parentResult.Diagnostics...)

		if parentResult.Enabled != dependency.ExpectedEnabled() {
			return false, diagnostics
		}
		if dependency.ExpectedEnabled() && len(dependency.Variants) > 0 {
			if !inSet(parentResult.Variant.Name, dependency.Variants, false) {
				return false, diagnostics
			}
		}
	}
	return true, diagnostics
}
