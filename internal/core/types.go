// Package core implements the feature flag evaluation engine: given a
// snapshot of feature definitions and segments plus one concrete evaluation
// context, it decides whether each feature is enabled and which variant the
// context receives.
//
// The engine is a pure computation library. It performs no I/O, never mutates
// its inputs, and produces deterministic results: the same (feature, context,
// environment, segments) tuple always evaluates to the same result.
package core

import "strings"

// StrategyOutcome is the tri-state result of evaluating one strategy.
//
// OutcomeUnknown marks strategies the engine cannot resolve offline (custom
// strategy kinds that run against live SDK execution). It propagates to the
// aggregate outcome instead of collapsing to false so callers can surface
// "cannot be determined" rather than a false negative.
type StrategyOutcome string

const (
	OutcomeTrue    StrategyOutcome = "true"
	OutcomeFalse   StrategyOutcome = "false"
	OutcomeUnknown StrategyOutcome = "unknown"
)

// Operator identifies a constraint predicate.
type Operator string

const (
	OperatorIn            Operator = "IN"
	OperatorNotIn         Operator = "NOT_IN"
	OperatorStrStartsWith Operator = "STR_STARTS_WITH"
	OperatorStrEndsWith   Operator = "STR_ENDS_WITH"
	OperatorStrContains   Operator = "STR_CONTAINS"
	OperatorNumEq         Operator = "NUM_EQ"
	OperatorNumGt         Operator = "NUM_GT"
	OperatorNumGte        Operator = "NUM_GTE"
	OperatorNumLt         Operator = "NUM_LT"
	OperatorNumLte        Operator = "NUM_LTE"
	OperatorDateAfter     Operator = "DATE_AFTER"
	OperatorDateBefore    Operator = "DATE_BEFORE"
)

// Constraint is a single predicate over one context field.
//
// Set and string operators compare against Values; numeric and date operators
// compare against the single Value. CaseInsensitive applies to string
// operators only. Inverted negates the final result of the predicate.
type Constraint struct {
	ContextName     string   `json:"contextName"`
	Operator        Operator `json:"operator"`
	Values          []string `json:"values,omitempty"`
	Value           string   `json:"value,omitempty"`
	CaseInsensitive bool     `json:"caseInsensitive,omitempty"`
	Inverted        bool     `json:"inverted,omitempty"`
}

// Segment is a reusable named bundle of constraints. Referencing a segment
// from a strategy ANDs the segment's constraints into that strategy.
type Segment struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Constraints []Constraint `json:"constraints"`
}

// Strategy is a named activation algorithm plus parameters, gated by
// constraints and segments. Strategy order within a feature is evaluation
// order. A disabled strategy is skipped entirely.
type Strategy struct {
	Name        string            `json:"name"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Constraints []Constraint      `json:"constraints,omitempty"`
	Segments    []int             `json:"segments,omitempty"`
	Variants    []Variant         `json:"variants,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
}

// WeightType controls how a variant's weight participates in distribution
// normalization.
type WeightType string

const (
	// WeightTypeVariable weights share the range left over after fixed
	// weights have reserved their slice.
	WeightTypeVariable WeightType = "variable"
	// WeightTypeFix weights are taken as-is and excluded from
	// renormalization.
	WeightTypeFix WeightType = "fix"
)

// VariantPayload is the payload a variant carries back to the caller.
type VariantPayload struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// VariantOverride forces a variant for contexts whose field value is in the
// override's value set, bypassing weighted hashing.
type VariantOverride struct {
	ContextName string   `json:"contextName"`
	Values      []string `json:"values"`
}

// Variant is a named payload-bearing branch a feature can resolve to.
// Weights are per-mille: a full distribution sums to 1000.
type Variant struct {
	Name       string            `json:"name"`
	Weight     int               `json:"weight"`
	WeightType WeightType        `json:"weightType,omitempty"`
	Stickiness string            `json:"stickiness,omitempty"`
	Payload    *VariantPayload   `json:"payload,omitempty"`
	Overrides  []VariantOverride `json:"overrides,omitempty"`
}

// Dependency requires a parent feature to be in a specific state before the
// dependent feature can be enabled. A nil Enabled means the parent must be
// enabled. Variants, when set, additionally requires the parent to resolve to
// one of the named variants.
type Dependency struct {
	Feature  string   `json:"feature"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Variants []string `json:"variants,omitempty"`
}

// ExpectedEnabled reports the enabled state the parent feature must have.
func (d Dependency) ExpectedEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Feature is one feature flag definition. It is immutable for the duration of
// an evaluation batch; the store collaborator owns the definitions.
type Feature struct {
	Name         string          `json:"name"`
	Project      string          `json:"project,omitempty"`
	Environments map[string]bool `json:"environments"`
	Strategies   []Strategy      `json:"strategies,omitempty"`
	Variants     []Variant       `json:"variants,omitempty"`
	Dependencies []Dependency    `json:"dependencies,omitempty"`
}

// EnabledIn reports whether the feature's toggle is on in the given
// environment. Unknown environments are off.
func (f Feature) EnabledIn(environment string) bool {
	return f.Environments[environment]
}

// Context is one concrete single-valued evaluation context. Well-known fields
// have first-class slots; everything else lives in Properties.
type Context struct {
	UserID        string            `json:"userId,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	RemoteAddress string            `json:"remoteAddress,omitempty"`
	Environment   string            `json:"environment,omitempty"`
	AppName       string            `json:"appName,omitempty"`
	CurrentTime   string            `json:"currentTime,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// Well-known context field names. These are a fixed contract between callers
// and constraint authors.
const (
	FieldUserID        = "userId"
	FieldSessionID     = "sessionId"
	FieldRemoteAddress = "remoteAddress"
	FieldEnvironment   = "environment"
	FieldAppName       = "appName"
	FieldCurrentTime   = "currentTime"
)

// Field returns the value of the named context field, checking well-known
// fields first and custom properties second.
func (c Context) Field(name string) (string, bool) {
	switch name {
	case FieldUserID:
		return c.UserID, c.UserID != ""
	case FieldSessionID:
		return c.SessionID, c.SessionID != ""
	case FieldRemoteAddress:
		return c.RemoteAddress, c.RemoteAddress != ""
	case FieldEnvironment:
		return c.Environment, c.Environment != ""
	case FieldAppName:
		return c.AppName, c.AppName != ""
	case FieldCurrentTime:
		return c.CurrentTime, c.CurrentTime != ""
	}
	value, ok := c.Properties[name]
	return value, ok
}

// WithField returns a copy of the context with the named field set. The
// receiver is not modified; Properties is copied on write.
func (c Context) WithField(name, value string) Context {
	switch name {
	case FieldUserID:
		c.UserID = value
	case FieldSessionID:
		c.SessionID = value
	case FieldRemoteAddress:
		c.RemoteAddress = value
	case FieldEnvironment:
		c.Environment = value
	case FieldAppName:
		c.AppName = value
	case FieldCurrentTime:
		c.CurrentTime = value
	default:
		props := make(map[string]string, len(c.Properties)+1)
		for k, v := range c.Properties {
			props[k] = v
		}
		props[name] = value
		c.Properties = props
	}
	return c
}

// StrategyEvaluation is the per-strategy diagnostic detail of one evaluation.
type StrategyEvaluation struct {
	Name                 string          `json:"name"`
	Outcome              StrategyOutcome `json:"outcome"`
	ConstraintsSatisfied bool            `json:"constraintsSatisfied"`
	Note                 string          `json:"note,omitempty"`
}

// StrategyResult aggregates the strategy layer of one evaluation: the ORed
// outcome plus the ordered per-strategy detail.
type StrategyResult struct {
	Outcome     StrategyOutcome      `json:"outcome"`
	Evaluations []StrategyEvaluation `json:"evaluations"`
}

// VariantResult is the variant assigned by an evaluation. Callers never
// receive a nil variant; DisabledVariant is the sentinel for "no variant".
type VariantResult struct {
	Name    string          `json:"name"`
	Enabled bool            `json:"enabled"`
	Payload *VariantPayload `json:"payload,omitempty"`
}

// DisabledVariantName is the name of the sentinel variant.
const DisabledVariantName = "disabled"

// DisabledVariant returns the sentinel variant assigned when a feature is
// disabled or defines no variants.
func DisabledVariant() VariantResult {
	return VariantResult{Name: DisabledVariantName, Enabled: false}
}

// EvaluationResult is the outcome of evaluating one feature against one
// context in one environment.
type EvaluationResult struct {
	FeatureName              string         `json:"featureName"`
	Environment              string         `json:"environment"`
	Context                  Context        `json:"context"`
	Enabled                  bool           `json:"enabled"`
	HasUnsatisfiedDependency bool           `json:"hasUnsatisfiedDependency,omitempty"`
	StrategyResult           StrategyResult `json:"strategyResult"`
	Variant                  VariantResult  `json:"variant"`
	Diagnostics              []string       `json:"diagnostics,omitempty"`
}

// splitParameter splits a comma-separated strategy parameter into trimmed,
// non-empty entries.
func splitParameter(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
