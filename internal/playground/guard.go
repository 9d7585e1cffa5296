package playground

import "fmt"

// DefaultMaxCombinations bounds environments × features × expanded contexts
// for one batch unless the caller configures a different limit.
const DefaultMaxCombinations = 15000

// ComplexityExceededError rejects a batch whose combinatorial size exceeds
// the configured limit. It is raised before any evaluation work starts, so a
// rejected batch never returns partial results.
type ComplexityExceededError struct {
	Combinations int
	Limit        int
}

func (e *ComplexityExceededError) Error() string {
	return fmt.Sprintf("evaluation of %d combinations exceeds the configured limit of %d", e.Combinations, e.Limit)
}

// checkComplexity validates the batch size before expansion or fan-out.
func checkComplexity(environments, features int, template Template, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxCombinations
	}
	combinations := environments * features * template.Combinations()
	if combinations > limit {
		return &ComplexityExceededError{Combinations: combinations, Limit: limit}
	}
	return nil
}
