package core

// selectVariant assigns a variant for an enabled feature. Selection order:
// strategy-level variant overrides, then feature-level variant overrides,
// then a stable weighted hash on the stickiness field. strategyVariants are
// the variants attached to the satisfied strategy; when present they replace
// the feature-level list for weighted selection.
func selectVariant(feature Feature, strategyVariants []Variant, context Context) VariantResult {
	if v, ok := overrideMatch(strategyVariants, context); ok {
		return v
	}
	if v, ok := overrideMatch(feature.Variants, context); ok {
		return v
	}

	variants := feature.Variants
	if len(strategyVariants) > 0 {
		variants = strategyVariants
	}
	if len(variants) == 0 {
		return DisabledVariant()
	}

	weights := distributeWeights(variants)
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return DisabledVariant()
	}

	target := normalizedHash(feature.Name, variantStickinessValue(variants, context), uint32(total))
	cumulative := uint32(0)
	for i, variant := range variants {
		cumulative += uint32(weights[i])
		if target <= cumulative {
			return VariantResult{Name: variant.Name, Enabled: true, Payload: variant.Payload}
		}
	}
	return DisabledVariant()
}

func overrideMatch(variants []Variant, context Context) (VariantResult, bool) {
	for _, variant := range variants {
		for _, override := range variant.Overrides {
			value, ok := context.Field(override.ContextName)
			if ok && inSet(value, override.Values, false) {
				return VariantResult{Name: variant.Name, Enabled: true, Payload: variant.Payload}, true
			}
		}
	}
	return VariantResult{}, false
}

// distributeWeights computes the effective weight of each variant on the
// per-mille scale. Fixed weights reserve their slice as-is; the remainder is
// split among variable-weight variants proportionally to their declared
// weights, with integer rounding assigned to earlier variants so the total
// is exact.
func distributeWeights(variants []Variant) []int {
	weights := make([]int, len(variants))

	fixedTotal := 0
	variableTotal := 0
	variableCount := 0
	for _, variant := range variants {
		if variant.WeightType == WeightTypeFix {
			fixedTotal += variant.Weight
		} else {
			variableTotal += variant.Weight
			variableCount++
		}
	}

	if variableCount == 0 {
		for i, variant := range variants {
			weights[i] = variant.Weight
		}
		return weights
	}

	remaining := 1000 - fixedTotal
	if remaining < 0 {
		remaining = 0
	}

	distributed := 0
	assigned := 0
	for i, variant := range variants {
		if variant.WeightType == WeightTypeFix {
			weights[i] = variant.Weight
			continue
		}
		assigned++
		var share int
		if variableTotal > 0 {
			share = remaining * variant.Weight / variableTotal
		} else {
			share = remaining / variableCount
		}
		if assigned == variableCount {
			share = remaining - distributed
		}
		weights[i] = share
		distributed += share
	}
	return weights
}

// variantStickinessValue resolves the stickiness field for weighted variant
// selection. The first variant declaring a custom stickiness field wins;
// otherwise the default fallback chain applies.
func variantStickinessValue(variants []Variant, context Context) string {
	for _, variant := range variants {
		if variant.Stickiness != "" && variant.Stickiness != "default" {
			value, _ := context.Field(variant.Stickiness)
			return value
		}
	}
	return rolloutIdentifier(context)
}
