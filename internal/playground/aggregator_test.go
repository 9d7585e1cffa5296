package playground

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/switchyard-io/switchyard/internal/core"
)

func TestEvaluateRejectsOversizedBatches(t *testing.T) {
	features := make([]core.Feature, 50)
	for i := range features {
		features[i] = core.Feature{
			Name:         "feature-" + strconv.Itoa(i),
			Environments: map[string]bool{"development": true},
		}
	}
	// 3 environments x 50 features x 40 contexts = 6000 combinations.
	request := Request{
		Environments: []string{"development", "staging", "production"},
		Features:     features,
		Template: Template{Fields: []TemplateField{
			{Name: core.FieldUserID, Values: manyValues(40)},
		}},
		MaxCombinations: 5000,
	}

	_, err := Evaluate(context.Background(), request)
	var complexity *ComplexityExceededError
	if !errors.As(err, &complexity) {
		t.Fatalf("Evaluate() error = %v, want *ComplexityExceededError", err)
	}
	if complexity.Combinations != 6000 || complexity.Limit != 5000 {
		t.Fatalf("ComplexityExceededError = %+v, want combinations 6000 and limit 5000", complexity)
	}
}

func manyValues(n int) []string {
	values := make([]string, n)
	for i := range values {
		values[i] = strconv.Itoa(i)
	}
	return values
}

func TestEvaluateGroupsByFeatureThenEnvironment(t *testing.T) {
	request := Request{
		Environments: []string{"development", "production"},
		Features: []core.Feature{
			{
				Name:         "targeted",
				Environments: map[string]bool{"development": true, "production": true},
				Strategies: []core.Strategy{{
					Name:       core.StrategyUserWithID,
					Parameters: map[string]string{"userIds": "1"},
				}},
			},
			{
				Name:         "dev-only",
				Environments: map[string]bool{"development": true},
			},
		},
		Template: Template{Fields: []TemplateField{
			{Name: core.FieldUserID, Values: []string{"1", "2"}},
		}},
		Workers: 4,
	}

	result, err := Evaluate(context.Background(), request)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if !reflect.DeepEqual(result.FeatureOrder, []string{"targeted", "dev-only"}) {
		t.Fatalf("FeatureOrder = %v, want discovery order", result.FeatureOrder)
	}
	if len(result.Features) != 2 {
		t.Fatalf("Features has %d entries, want 2", len(result.Features))
	}

	targeted := result.Features["targeted"]
	for _, environment := range request.Environments {
		results := targeted[environment]
		if len(results) != 2 {
			t.Fatalf("targeted[%s] has %d results, want one per expanded context", environment, len(results))
		}
		if !results[0].Enabled || results[1].Enabled {
			t.Fatalf("targeted[%s] = enabled %t,%t; want user 1 enabled and user 2 disabled", environment, results[0].Enabled, results[1].Enabled)
		}
		if results[0].Context.UserID != "1" || results[1].Context.UserID != "2" {
			t.Fatalf("targeted[%s] context order = %q,%q; want expansion order", environment, results[0].Context.UserID, results[1].Context.UserID)
		}
	}

	devOnly := result.Features["dev-only"]
	if !devOnly["development"][0].Enabled {
		t.Fatalf("dev-only should be enabled in development")
	}
	if devOnly["production"][0].Enabled {
		t.Fatalf("dev-only should be gated off in production")
	}
}

func TestEvaluateFillsEnvironmentField(t *testing.T) {
	request := Request{
		Environments: []string{"production"},
		Features: []core.Feature{{
			Name:         "env-constrained",
			Environments: map[string]bool{"production": true},
			Strategies: []core.Strategy{{
				Name: core.StrategyDefault,
				Constraints: []core.Constraint{{
					ContextName: core.FieldEnvironment,
					Operator:    core.OperatorIn,
					Values:      []string{"production"},
				}},
			}},
		}},
	}

	result, err := Evaluate(context.Background(), request)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Features["env-constrained"]["production"][0].Enabled {
		t.Fatalf("environment field was not defaulted into the evaluation context")
	}
}

func TestEvaluateMalformedFeatureDoesNotFailBatch(t *testing.T) {
	request := Request{
		Environments: []string{"production"},
		Features: []core.Feature{
			{
				Name:         "cyclic",
				Environments: map[string]bool{"production": true},
				Dependencies: []core.Dependency{{Feature: "cyclic"}},
			},
			{
				Name:         "healthy",
				Environments: map[string]bool{"production": true},
			},
		},
	}

	result, err := Evaluate(context.Background(), request)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want per-feature diagnostics instead", err)
	}

	cyclic := result.Features["cyclic"]["production"][0]
	if cyclic.Enabled || !cyclic.HasUnsatisfiedDependency || len(cyclic.Diagnostics) == 0 {
		t.Fatalf("cyclic feature result = %+v, want disabled with a cycle diagnostic", cyclic)
	}
	if !result.Features["healthy"]["production"][0].Enabled {
		t.Fatalf("healthy feature should evaluate despite the malformed sibling")
	}
}

func TestEvaluateIsDeterministicAcrossRuns(t *testing.T) {
	request := Request{
		Environments: []string{"development", "production"},
		Features: []core.Feature{{
			Name:         "rollout",
			Environments: map[string]bool{"development": true, "production": true},
			Strategies: []core.Strategy{{
				Name:       core.StrategyFlexibleRollout,
				Parameters: map[string]string{"rollout": "50", "stickiness": "default", "groupId": "rollout"},
			}},
			Variants: []core.Variant{
				{Name: "a", Weight: 500},
				{Name: "b", Weight: 500},
			},
		}},
		Template: Template{Fields: []TemplateField{
			{Name: core.FieldUserID, Values: manyValues(20)},
		}},
		Workers: 8,
	}

	first, err := Evaluate(context.Background(), request)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Evaluate(context.Background(), request)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Evaluate() run %d differed from the first run", i)
		}
	}
}

func TestEvaluateHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	request := Request{
		Environments: []string{"production"},
		Features:     []core.Feature{{Name: "f", Environments: map[string]bool{"production": true}}},
	}
	if _, err := Evaluate(ctx, request); !errors.Is(err, context.Canceled) {
		t.Fatalf("Evaluate() error = %v, want context.Canceled", err)
	}
}
