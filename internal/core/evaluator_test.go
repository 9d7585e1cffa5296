package core

import (
	"reflect"
	"strings"
	"testing"
)

func boolPtr(value bool) *bool {
	return &value
}

func TestEvaluateEnvironmentGate(t *testing.T) {
	evaluator := NewEvaluator([]Feature{
		{
			Name:         "new-ui",
			Environments: map[string]bool{"production": false, "development": true},
			Strategies:   []Strategy{{Name: StrategyDefault}},
		},
	}, nil)

	got := evaluator.Evaluate(Feature{
		Name:         "new-ui",
		Environments: map[string]bool{"production": false},
		Strategies:   []Strategy{{Name: StrategyDefault}},
	}, Context{UserID: "1"}, "production")

	if got.Enabled {
		t.Fatalf("Evaluate() enabled = true for an environment-disabled feature")
	}
	if len(got.StrategyResult.Evaluations) != 0 {
		t.Fatalf("Evaluate() produced strategy detail for a gated feature: %+v", got.StrategyResult.Evaluations)
	}
	if got.Variant.Name != DisabledVariantName {
		t.Fatalf("Evaluate() variant = %q, want disabled sentinel", got.Variant.Name)
	}
}

func TestEvaluateStrategies(t *testing.T) {
	enabled := map[string]bool{"production": true}

	tests := []struct {
		name        string
		feature     Feature
		segments    []Segment
		context     Context
		wantEnabled bool
		wantOutcome StrategyOutcome
	}{
		{
			name: "no strategies behaves as implicit default",
			feature: Feature{
				Name:         "plain",
				Environments: enabled,
			},
			wantEnabled: true,
			wantOutcome: OutcomeTrue,
		},
		{
			name: "userWithId constraint example matching",
			feature: Feature{
				Name:         "targeted",
				Environments: enabled,
				Strategies: []Strategy{{
					Name:        StrategyDefault,
					Constraints: []Constraint{{ContextName: FieldUserID, Operator: OperatorIn, Values: []string{"7"}}},
				}},
			},
			context:     Context{UserID: "7"},
			wantEnabled: true,
			wantOutcome: OutcomeTrue,
		},
		{
			name: "userWithId constraint example mismatch",
			feature: Feature{
				Name:         "targeted",
				Environments: enabled,
				Strategies: []Strategy{{
					Name:        StrategyDefault,
					Constraints: []Constraint{{ContextName: FieldUserID, Operator: OperatorIn, Values: []string{"7"}}},
				}},
			},
			context:     Context{UserID: "8"},
			wantEnabled: false,
			wantOutcome: OutcomeFalse,
		},
		{
			name: "zero percent rollout is disabled for any context",
			feature: Feature{
				Name:         "slow-rollout",
				Environments: enabled,
				Strategies: []Strategy{{
					Name:       StrategyFlexibleRollout,
					Parameters: map[string]string{"rollout": "0", "stickiness": "default", "groupId": "slow-rollout"},
				}},
			},
			context:     Context{UserID: "anyone"},
			wantEnabled: false,
			wantOutcome: OutcomeFalse,
		},
		{
			name: "strategies are ORed",
			feature: Feature{
				Name:         "either",
				Environments: enabled,
				Strategies: []Strategy{
					{Name: StrategyUserWithID, Parameters: map[string]string{"userIds": "1"}},
					{Name: StrategyDefault},
				},
			},
			context:     Context{UserID: "2"},
			wantEnabled: true,
			wantOutcome: OutcomeTrue,
		},
		{
			name: "disabled strategy is skipped",
			feature: Feature{
				Name:         "switched-off",
				Environments: enabled,
				Strategies: []Strategy{
					{Name: StrategyDefault, Disabled: true},
					{Name: StrategyUserWithID, Parameters: map[string]string{"userIds": "1"}},
				},
			},
			context:     Context{UserID: "2"},
			wantEnabled: false,
			wantOutcome: OutcomeFalse,
		},
		{
			name: "unknown custom strategy propagates instead of failing",
			feature: Feature{
				Name:         "remote-only",
				Environments: enabled,
				Strategies: []Strategy{
					{Name: "customRemoteCheck"},
					{Name: StrategyUserWithID, Parameters: map[string]string{"userIds": "1"}},
				},
			},
			context:     Context{UserID: "2"},
			wantEnabled: false,
			wantOutcome: OutcomeUnknown,
		},
		{
			name: "true strategy wins over unknown",
			feature: Feature{
				Name:         "mostly-known",
				Environments: enabled,
				Strategies: []Strategy{
					{Name: "customRemoteCheck"},
					{Name: StrategyDefault},
				},
			},
			wantEnabled: true,
			wantOutcome: OutcomeTrue,
		},
		{
			name: "segment constraints are ANDed into the strategy",
			feature: Feature{
				Name:         "segmented",
				Environments: enabled,
				Strategies: []Strategy{{
					Name:        StrategyDefault,
					Constraints: []Constraint{{ContextName: FieldUserID, Operator: OperatorIn, Values: []string{"7"}}},
					Segments:    []int{1},
				}},
			},
			segments: []Segment{{
				ID:          1,
				Name:        "beta-testers",
				Constraints: []Constraint{{ContextName: "plan", Operator: OperatorIn, Values: []string{"beta"}}},
			}},
			context:     Context{UserID: "7", Properties: map[string]string{"plan": "free"}},
			wantEnabled: false,
			wantOutcome: OutcomeFalse,
		},
		{
			name: "satisfied segment lets the strategy run",
			feature: Feature{
				Name:         "segmented",
				Environments: enabled,
				Strategies: []Strategy{{
					Name:     StrategyDefault,
					Segments: []int{1},
				}},
			},
			segments: []Segment{{
				ID:          1,
				Name:        "beta-testers",
				Constraints: []Constraint{{ContextName: "plan", Operator: OperatorIn, Values: []string{"beta"}}},
			}},
			context:     Context{Properties: map[string]string{"plan": "beta"}},
			wantEnabled: true,
			wantOutcome: OutcomeTrue,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			evaluator := NewEvaluator([]Feature{test.feature}, test.segments)
			got := evaluator.Evaluate(test.feature, test.context, "production")
			if got.Enabled != test.wantEnabled {
				t.Fatalf("Evaluate() enabled = %t, want %t", got.Enabled, test.wantEnabled)
			}
			if got.StrategyResult.Outcome != test.wantOutcome {
				t.Fatalf("Evaluate() outcome = %q, want %q", got.StrategyResult.Outcome, test.wantOutcome)
			}
		})
	}
}

func TestEvaluateConfigurationErrors(t *testing.T) {
	enabled := map[string]bool{"production": true}

	t.Run("unknown operator disables the strategy and reports a diagnostic", func(t *testing.T) {
		feature := Feature{
			Name:         "bad-operator",
			Environments: enabled,
			Strategies: []Strategy{{
				Name:        StrategyDefault,
				Constraints: []Constraint{{ContextName: FieldUserID, Operator: Operator("SEMVER_GT"), Value: "1.0.0"}},
			}},
		}
		evaluator := NewEvaluator([]Feature{feature}, nil)

		got := evaluator.Evaluate(feature, Context{UserID: "7"}, "production")
		if got.Enabled {
			t.Fatalf("Evaluate() enabled = true despite an unknown operator")
		}
		if len(got.Diagnostics) == 0 || !strings.Contains(got.Diagnostics[0], "unknown constraint operator") {
			t.Fatalf("Evaluate() diagnostics = %v, want an unknown-operator note", got.Diagnostics)
		}
	})

	t.Run("missing segment disables the strategy and reports a diagnostic", func(t *testing.T) {
		feature := Feature{
			Name:         "dangling-segment",
			Environments: enabled,
			Strategies:   []Strategy{{Name: StrategyDefault, Segments: []int{99}}},
		}
		evaluator := NewEvaluator([]Feature{feature}, nil)

		got := evaluator.Evaluate(feature, Context{}, "production")
		if got.Enabled {
			t.Fatalf("Evaluate() enabled = true despite a missing segment")
		}
		if len(got.Diagnostics) == 0 || !strings.Contains(got.Diagnostics[0], "segment 99 not found") {
			t.Fatalf("Evaluate() diagnostics = %v, want a missing-segment note", got.Diagnostics)
		}
	})
}

func TestEvaluateDependencies(t *testing.T) {
	enabled := map[string]bool{"production": true}
	parentOn := Feature{Name: "parent", Environments: enabled}
	parentOff := Feature{Name: "parent", Environments: map[string]bool{"production": false}}

	tests := []struct {
		name           string
		features       []Feature
		context        Context
		wantEnabled    bool
		wantUnsat      bool
		wantDiagnostic string
	}{
		{
			name: "satisfied dependency lets the child run",
			features: []Feature{
				parentOn,
				{
					Name:         "child",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "parent"}},
				},
			},
			wantEnabled: true,
		},
		{
			name: "disabled parent blocks the child",
			features: []Feature{
				parentOff,
				{
					Name:         "child",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "parent"}},
				},
			},
			wantEnabled: false,
			wantUnsat:   true,
		},
		{
			name: "expected-disabled dependency inverts the requirement",
			features: []Feature{
				parentOff,
				{
					Name:         "child",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "parent", Enabled: boolPtr(false)}},
				},
			},
			wantEnabled: true,
		},
		{
			name: "missing parent is an unsatisfied dependency",
			features: []Feature{
				{
					Name:         "child",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "nowhere"}},
				},
			},
			wantEnabled:    false,
			wantUnsat:      true,
			wantDiagnostic: `dependency "nowhere" not found`,
		},
		{
			name: "required variant must match",
			features: []Feature{
				{
					Name:         "parent",
					Environments: enabled,
					Variants:     []Variant{{Name: "blue", Weight: 1000}},
				},
				{
					Name:         "child",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "parent", Variants: []string{"green"}}},
				},
			},
			context:     Context{UserID: "42"},
			wantEnabled: false,
			wantUnsat:   true,
		},
		{
			name: "required variant satisfied",
			features: []Feature{
				{
					Name:         "parent",
					Environments: enabled,
					Variants:     []Variant{{Name: "blue", Weight: 1000}},
				},
				{
					Name:         "child",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "parent", Variants: []string{"blue", "green"}}},
				},
			},
			context:     Context{UserID: "42"},
			wantEnabled: true,
		},
		{
			name: "direct self dependency is a cycle not a stack overflow",
			features: []Feature{
				{
					Name:         "ouroboros",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "ouroboros"}},
				},
			},
			wantEnabled:    false,
			wantUnsat:      true,
			wantDiagnostic: "dependency cycle",
		},
		{
			name: "transitive cycle is detected",
			features: []Feature{
				{
					Name:         "a",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "b"}},
				},
				{
					Name:         "b",
					Environments: enabled,
					Dependencies: []Dependency{{Feature: "a"}},
				},
			},
			wantEnabled:    false,
			wantUnsat:      true,
			wantDiagnostic: "dependency cycle",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			evaluator := NewEvaluator(test.features, nil)
			child := test.features[len(test.features)-1]
			if test.name == "transitive cycle is detected" {
				child = test.features[0]
			}

			got := evaluator.Evaluate(child, test.context, "production")
			if got.Enabled != test.wantEnabled {
				t.Fatalf("Evaluate() enabled = %t, want %t", got.Enabled, test.wantEnabled)
			}
			if got.HasUnsatisfiedDependency != test.wantUnsat {
				t.Fatalf("Evaluate() hasUnsatisfiedDependency = %t, want %t", got.HasUnsatisfiedDependency, test.wantUnsat)
			}
			if test.wantDiagnostic != "" {
				found := false
				for _, d := range got.Diagnostics {
					if strings.Contains(d, test.wantDiagnostic) {
						found = true
					}
				}
				if !found {
					t.Fatalf("Evaluate() diagnostics = %v, want one containing %q", got.Diagnostics, test.wantDiagnostic)
				}
			}
		})
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	features := []Feature{
		{
			Name:         "parent",
			Environments: map[string]bool{"production": true},
			Variants:     []Variant{{Name: "blue", Weight: 500}, {Name: "green", Weight: 500}},
		},
		{
			Name:         "child",
			Environments: map[string]bool{"production": true},
			Dependencies: []Dependency{{Feature: "parent"}},
			Strategies: []Strategy{{
				Name:       StrategyFlexibleRollout,
				Parameters: map[string]string{"rollout": "50", "stickiness": "default", "groupId": "child"},
			}},
			Variants: []Variant{{Name: "a", Weight: 300}, {Name: "b", Weight: 700}},
		},
	}
	evaluator := NewEvaluator(features, nil)
	context := Context{UserID: "42", SessionID: "s-1"}

	first := evaluator.Evaluate(features[1], context, "production")
	for i := 0; i < 50; i++ {
		got := evaluator.Evaluate(features[1], context, "production")
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("Evaluate() call %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestEvaluateAllPreservesDiscoveryOrder(t *testing.T) {
	features := []Feature{
		{Name: "zeta", Environments: map[string]bool{"production": true}},
		{Name: "alpha", Environments: map[string]bool{"production": true}},
	}
	evaluator := NewEvaluator(features, nil)

	results := evaluator.EvaluateAll(Context{}, "production")
	if len(results) != 2 || results[0].FeatureName != "zeta" || results[1].FeatureName != "alpha" {
		t.Fatalf("EvaluateAll() order = %v, want input order", []string{results[0].FeatureName, results[1].FeatureName})
	}
}
