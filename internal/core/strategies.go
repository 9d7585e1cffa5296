package core

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// The closed set of built-in strategy kinds. Any other name is a custom
// strategy that only live SDK execution can resolve, so it evaluates to
// OutcomeUnknown.
const (
	StrategyDefault                 = "default"
	StrategyUserWithID              = "userWithId"
	StrategyRemoteAddress           = "remoteAddress"
	StrategyApplicationHostname     = "applicationHostname"
	StrategyGradualRolloutUserID    = "gradualRolloutUserId"
	StrategyGradualRolloutSessionID = "gradualRolloutSessionId"
	StrategyGradualRolloutRandom    = "gradualRolloutRandom"
	StrategyFlexibleRollout         = "flexibleRollout"
)

// runStrategy executes one strategy's activation algorithm for a context
// whose constraint and segment layer has already been satisfied.
func runStrategy(featureName string, strategy Strategy, context Context) StrategyOutcome {
	switch strategy.Name {
	case StrategyDefault, "":
		return OutcomeTrue
	case StrategyUserWithID:
		return outcomeOf(context.UserID != "" && inSet(context.UserID, splitParameter(strategy.Parameters["userIds"]), false))
	case StrategyRemoteAddress:
		return outcomeOf(remoteAddressMatches(context.RemoteAddress, splitParameter(strategy.Parameters["IPs"])))
	case StrategyApplicationHostname:
		return outcomeOf(hostnameMatches(context, splitParameter(strategy.Parameters["hostNames"])))
	case StrategyGradualRolloutUserID:
		return outcomeOf(gradualRollout(strategy.Parameters, context.UserID, featureName))
	case StrategyGradualRolloutSessionID:
		return outcomeOf(gradualRollout(strategy.Parameters, context.SessionID, featureName))
	case StrategyGradualRolloutRandom:
		return outcomeOf(gradualRollout(strategy.Parameters, rolloutIdentifier(context), featureName))
	case StrategyFlexibleRollout:
		return outcomeOf(flexibleRollout(strategy.Parameters, context, featureName))
	default:
		return OutcomeUnknown
	}
}

func outcomeOf(enabled bool) StrategyOutcome {
	if enabled {
		return OutcomeTrue
	}
	return OutcomeFalse
}

// remoteAddressMatches accepts both plain IPs and CIDR ranges in the
// strategy's IP list.
func remoteAddressMatches(remoteAddress string, allowed []string) bool {
	if remoteAddress == "" {
		return false
	}
	addr, err := netip.ParseAddr(remoteAddress)
	if err != nil {
		return false
	}
	for _, entry := range allowed {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		other, err := netip.ParseAddr(entry)
		if err == nil && other == addr {
			return true
		}
	}
	return false
}

// hostnameMatches compares the strategy's host list against the context's
// "hostname" property, falling back to appName. The live SDK checks its own
// machine hostname; offline evaluation can only use what the caller supplies.
func hostnameMatches(context Context, hostNames []string) bool {
	hostname, ok := context.Field("hostname")
	if !ok {
		hostname, ok = context.Field(FieldAppName)
	}
	return ok && inSet(hostname, hostNames, true)
}

// gradualRollout buckets the identifier into [1,100] and enables the strategy
// when the bucket falls within the configured percentage. An absent
// identifier never enters the rollout.
func gradualRollout(parameters map[string]string, identifier, featureName string) bool {
	if identifier == "" {
		return false
	}
	percentage := parsePercentage(parameters["percentage"])
	if percentage == 0 {
		return false
	}
	group := parameters["groupId"]
	if group == "" {
		group = featureName
	}
	return normalizedHash(group, identifier, 100) <= percentage
}

func flexibleRollout(parameters map[string]string, context Context, featureName string) bool {
	identifier := flexibleStickinessValue(parameters["stickiness"], context)
	if identifier == "" {
		return false
	}
	percentage := parsePercentage(parameters["rollout"])
	if percentage == 0 {
		return false
	}
	group := parameters["groupId"]
	if group == "" {
		group = featureName
	}
	return normalizedHash(group, identifier, 100) <= percentage
}

func flexibleStickinessValue(stickiness string, context Context) string {
	switch stickiness {
	case "", "default":
		return rolloutIdentifier(context)
	case "random":
		return uuid.NewString()
	default:
		value, _ := context.Field(stickiness)
		return value
	}
}

// rolloutIdentifier picks the stickiness value by the fixed fallback priority
// userId, sessionId, remoteAddress. When none is present a random identifier
// keeps the strategy resolvable, at the cost of reproducibility for that one
// evaluation.
func rolloutIdentifier(context Context) string {
	if context.UserID != "" {
		return context.UserID
	}
	if context.SessionID != "" {
		return context.SessionID
	}
	if context.RemoteAddress != "" {
		return context.RemoteAddress
	}
	return uuid.NewString()
}

func parsePercentage(raw string) uint32 {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return uint32(value)
}
