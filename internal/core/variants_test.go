package core

import "testing"

func TestSelectVariantDeterminism(t *testing.T) {
	feature := Feature{
		Name: "checkout-redesign",
		Variants: []Variant{
			{Name: "A", Weight: 50},
			{Name: "B", Weight: 50},
		},
	}
	context := Context{UserID: "42"}

	first := selectVariant(feature, nil, context)
	if first.Name == DisabledVariantName {
		t.Fatalf("selectVariant() returned the disabled sentinel for a weighted list")
	}
	for i := 0; i < 100; i++ {
		if got := selectVariant(feature, nil, context); got.Name != first.Name {
			t.Fatalf("selectVariant() flipped from %q to %q on call %d", first.Name, got.Name, i)
		}
	}
}

func TestSelectVariantFullWeightWins(t *testing.T) {
	feature := Feature{
		Name: "banner",
		Variants: []Variant{
			{Name: "on", Weight: 1000},
			{Name: "off", Weight: 0},
		},
	}

	for _, userID := range []string{"1", "2", "3", "alice", "bob"} {
		got := selectVariant(feature, nil, Context{UserID: userID})
		if got.Name != "on" {
			t.Fatalf("selectVariant(userId=%q) = %q, want %q", userID, got.Name, "on")
		}
	}
}

func TestSelectVariantOverrides(t *testing.T) {
	payload := &VariantPayload{Type: "string", Value: "beta"}
	feature := Feature{
		Name: "editor",
		Variants: []Variant{
			{Name: "stable", Weight: 1000},
			{
				Name:      "beta",
				Weight:    0,
				Payload:   payload,
				Overrides: []VariantOverride{{ContextName: FieldUserID, Values: []string{"7"}}},
			},
		},
	}

	got := selectVariant(feature, nil, Context{UserID: "7"})
	if got.Name != "beta" {
		t.Fatalf("selectVariant() = %q, want override variant %q", got.Name, "beta")
	}
	if got.Payload != payload {
		t.Fatalf("selectVariant() dropped the override payload")
	}

	got = selectVariant(feature, nil, Context{UserID: "8"})
	if got.Name != "stable" {
		t.Fatalf("selectVariant() = %q, want %q for non-override user", got.Name, "stable")
	}
}

func TestSelectVariantStrategyOverridesTakePrecedence(t *testing.T) {
	feature := Feature{
		Name:     "search",
		Variants: []Variant{{Name: "feature-level", Weight: 1000}},
	}
	strategyVariants := []Variant{
		{
			Name:      "strategy-level",
			Weight:    1000,
			Overrides: []VariantOverride{{ContextName: FieldSessionID, Values: []string{"s1"}}},
		},
	}

	got := selectVariant(feature, strategyVariants, Context{SessionID: "s1"})
	if got.Name != "strategy-level" {
		t.Fatalf("selectVariant() = %q, want strategy override to win", got.Name)
	}
}

func TestSelectVariantNoVariants(t *testing.T) {
	got := selectVariant(Feature{Name: "plain"}, nil, Context{UserID: "1"})
	if got.Name != DisabledVariantName || got.Enabled {
		t.Fatalf("selectVariant() = %+v, want the disabled sentinel", got)
	}
}

func TestDistributeWeights(t *testing.T) {
	tests := []struct {
		name     string
		variants []Variant
		want     []int
	}{
		{
			name: "all variable keeps proportions over the full range",
			variants: []Variant{
				{Name: "a", Weight: 1},
				{Name: "b", Weight: 1},
			},
			want: []int{500, 500},
		},
		{
			name: "fixed weight reserves its slice",
			variants: []Variant{
				{Name: "pinned", Weight: 200, WeightType: WeightTypeFix},
				{Name: "a", Weight: 1},
				{Name: "b", Weight: 1},
			},
			want: []int{200, 400, 400},
		},
		{
			name: "all fixed passes weights through",
			variants: []Variant{
				{Name: "a", Weight: 700, WeightType: WeightTypeFix},
				{Name: "b", Weight: 300, WeightType: WeightTypeFix},
			},
			want: []int{700, 300},
		},
		{
			name: "rounding remainder lands on the last variable variant",
			variants: []Variant{
				{Name: "a", Weight: 1},
				{Name: "b", Weight: 1},
				{Name: "c", Weight: 1},
			},
			want: []int{333, 333, 334},
		},
		{
			name: "fixed overflow leaves nothing for variable variants",
			variants: []Variant{
				{Name: "pinned", Weight: 1200, WeightType: WeightTypeFix},
				{Name: "a", Weight: 1},
			},
			want: []int{1200, 0},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := distributeWeights(test.variants)
			if len(got) != len(test.want) {
				t.Fatalf("distributeWeights() = %v, want %v", got, test.want)
			}
			for i := range got {
				if got[i] != test.want[i] {
					t.Fatalf("distributeWeights() = %v, want %v", got, test.want)
				}
			}
		})
	}
}
