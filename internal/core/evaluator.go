package core

import "fmt"

// Evaluator evaluates features against contexts over a read-only snapshot of
// definitions. The segment lookup table is built once at construction and
// never mutated, so an Evaluator is safe for concurrent use.
type Evaluator struct {
	features map[string]Feature
	ordered  []string
	segments map[int]Segment
}

// NewEvaluator builds an evaluator over a snapshot of feature and segment
// definitions. The snapshot must not be mutated while the evaluator is in
// use.
func NewEvaluator(features []Feature, segments []Segment) *Evaluator {
	e := &Evaluator{
		features: make(map[string]Feature, len(features)),
		ordered:  make([]string, 0, len(features)),
		segments: make(map[int]Segment, len(segments)),
	}
	for _, feature := range features {
		if _, seen := e.features[feature.Name]; !seen {
			e.ordered = append(e.ordered, feature.Name)
		}
		e.features[feature.Name] = feature
	}
	for _, segment := range segments {
		e.segments[segment.ID] = segment
	}
	return e
}

// Feature looks up a feature definition by name.
func (e *Evaluator) Feature(name string) (Feature, bool) {
	feature, ok := e.features[name]
	return feature, ok
}

// FeatureNames returns the snapshot's feature names in discovery order.
func (e *Evaluator) FeatureNames() []string {
	names := make([]string, len(e.ordered))
	copy(names, e.ordered)
	return names
}

// Evaluate evaluates one feature against one concrete context and
// environment.
func (e *Evaluator) Evaluate(feature Feature, context Context, environment string) EvaluationResult {
	return e.evaluate(feature, context, environment, map[string]bool{})
}

// EvaluateAll evaluates every feature in the snapshot, in discovery order.
func (e *Evaluator) EvaluateAll(context Context, environment string) []EvaluationResult {
	results := make([]EvaluationResult, 0, len(e.ordered))
	for _, name := range e.ordered {
		results = append(results, e.Evaluate(e.features[name], context, environment))
	}
	return results
}

// evaluate runs the full state machine for one feature. visiting holds the
// feature names currently on the dependency recursion stack; a revisit is a
// dependency cycle, which is a configuration error on the feature rather
// than unbounded recursion.
func (e *Evaluator) evaluate(feature Feature, context Context, environment string, visiting map[string]bool) EvaluationResult {
	result := EvaluationResult{
		FeatureName: feature.Name,
		Environment: environment,
		Context:     context,
		Variant:     DisabledVariant(),
		StrategyResult: StrategyResult{
			Outcome:     OutcomeFalse,
			Evaluations: []StrategyEvaluation{},
		},
	}

	// The environment toggle is the first gate: no strategy detail is
	// produced for a feature that is off in this environment.
	if !feature.EnabledIn(environment) {
		return result
	}

	if len(feature.Dependencies) > 0 {
		visiting[feature.Name] = true
		satisfied, diagnostics := e.dependenciesSatisfied(feature, context, environment, visiting)
		delete(visiting, feature.Name)

		result.Diagnostics = append(result.Diagnostics, diagnostics...)
		if !satisfied {
			result.HasUnsatisfiedDependency = true
			return result
		}
	}

	outcome, evaluations, satisfiedStrategy, diagnostics := e.runStrategies(feature, context)
	result.StrategyResult = StrategyResult{Outcome: outcome, Evaluations: evaluations}
	result.Diagnostics = append(result.Diagnostics, diagnostics...)

	if outcome == OutcomeTrue {
		result.Enabled = true
		var strategyVariants []Variant
		if satisfiedStrategy != nil {
			strategyVariants = satisfiedStrategy.Variants
		}
		result.Variant = selectVariant(feature, strategyVariants, context)
	}
	return result
}

// runStrategies walks the feature's strategies in order. Strategies are ORed:
// one true strategy enables the feature; if none is true but at least one is
// unknown, the aggregate is unknown. A feature with no active strategies is
// enabled unconditionally, matching the behavior of an implicit default
// strategy.
func (e *Evaluator) runStrategies(feature Feature, context Context) (StrategyOutcome, []StrategyEvaluation, *Strategy, []string) {
	evaluations := make([]StrategyEvaluation, 0, len(feature.Strategies))
	var diagnostics []string
	var satisfied *Strategy

	active := 0
	aggregate := OutcomeFalse
	for i := range feature.Strategies {
		strategy := feature.Strategies[i]
		if strategy.Disabled {
			continue
		}
		active++

		evaluation := StrategyEvaluation{Name: strategy.Name}
		constraintsOK, note := e.constraintLayer(strategy, context)
		evaluation.ConstraintsSatisfied = constraintsOK
		if note != "" {
			evaluation.Note = note
			diagnostics = append(diagnostics, fmt.Sprintf("strategy %q: %s", strategy.Name, note))
		}

		if constraintsOK {
			evaluation.Outcome = runStrategy(feature.Name, strategy, context)
		} else {
			evaluation.Outcome = OutcomeFalse
		}
		evaluations = append(evaluations, evaluation)

		switch evaluation.Outcome {
		case OutcomeTrue:
			if satisfied == nil {
				satisfied = &feature.Strategies[i]
			}
			aggregate = OutcomeTrue
		case OutcomeUnknown:
			if aggregate != OutcomeTrue {
				aggregate = OutcomeUnknown
			}
		}
	}

	if active == 0 {
		aggregate = OutcomeTrue
	}
	return aggregate, evaluations, satisfied, diagnostics
}

// constraintLayer evaluates the strategy's own constraints plus every
// constraint contributed by its referenced segments, ANDed. The returned note
// is non-empty only for configuration errors (unknown operator, missing
// segment), which fail the strategy but never abort the evaluation.
func (e *Evaluator) constraintLayer(strategy Strategy, context Context) (bool, string) {
	for _, constraint := range strategy.Constraints {
		ok, err := evaluateConstraint(constraint, context)
		if err != nil {
			return false, err.Error()
		}
		if !ok {
			return false, ""
		}
	}
	for _, segmentID := range strategy.Segments {
		segment, found := e.segments[segmentID]
		if !found {
			return false, fmt.Sprintf("segment %d not found", segmentID)
		}
		for _, constraint := range segment.Constraints {
			ok, err := evaluateConstraint(constraint, context)
			if err != nil {
				return false, err.Error()
			}
			if !ok {
				return false, ""
			}
		}
	}
	return true, ""
}
