// Package limiter evaluates a rule set's rules against a request and
// aggregates their bucket decisions into one RateLimitResult per request.
package limiter

import (
	"context"
	"errors"
	"sort"

	"github.com/fluxgate/fluxgate/internal/bucket"
	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/keyresolver"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// RateLimiter evaluates rules in a rule set against a request context.
type RateLimiter struct {
	store    bucket.Store
	resolver *keyresolver.Resolver
}

// New creates a RateLimiter backed by the given bucket store and key
// resolver.
func New(store bucket.Store, resolver *keyresolver.Resolver) *RateLimiter {
	return &RateLimiter{store: store, resolver: resolver}
}

// Evaluate walks a rule set's enabled rules in deterministic priority
// order. Rules are additive: every enabled rule must admit the request,
// so evaluation stops at the first rule that rejects (its later peers are
// never consumed) and the rejecting rule is reported as matchedRule. If
// every rule admits, the result reports the first enabled rule as
// matchedRule regardless of how many rules were evaluated, with the
// tightest remaining-token count across all of them.
//
// Per rule, every band is consumed in a single atomic store call: a rule
// either commits across all its bands or rejects with none of them
// touched.
func (l *RateLimiter) Evaluate(ctx context.Context, rs rules.RateLimitRuleSet, rc rules.RequestContext, permits int64) (*rules.RateLimitResult, error) {
	enabled := enabledRulesInOrder(rs.Rules)
	if len(enabled) == 0 {
		return nil, nil
	}

	firstRule := enabled[0]
	overallMinRemaining := int64(0)
	haveRemaining := false

	for _, rule := range enabled {
		keyValue := l.resolver.Resolve(rc, rule.Scope, rule.CustomKeySource)

		allowed, states, _, err := l.store.Consume(ctx, rule.RuleSetID, rule.ID, keyValue, rule.Bands, permits)
		if err != nil {
			var fgErr *errs.Error
			if errors.As(err, &fgErr) {
				return nil, err
			}
			return nil, errs.ConnectionStore("limiter.Evaluate", err)
		}

		result := aggregate(rule, states, allowed)

		if !allowed {
			return result, nil
		}

		for _, s := range states {
			if !haveRemaining || s.RemainingTokens < overallMinRemaining {
				overallMinRemaining = s.RemainingTokens
				haveRemaining = true
			}
		}
	}

	// Every enabled rule admitted: the request is allowed. matchedRule is
	// always the first enabled rule (§4.4 step 5), not the last one
	// evaluated, and minRemaining reflects the tightest band across every
	// rule that was consumed.
	return &rules.RateLimitResult{
		Allowed:      true,
		RuleID:       firstRule.ID,
		MinRemaining: overallMinRemaining,
		MaxWaitNanos: 0,
		Policy:       firstRule.OnLimitExceedPolicy,
	}, nil
}

// enabledRulesInOrder returns enabled rules sorted by ascending priority,
// then by ID, so iteration order is deterministic across runs.
func enabledRulesInOrder(in []rules.RateLimitRule) []rules.RateLimitRule {
	out := make([]rules.RateLimitRule, 0, len(in))
	for _, r := range in {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// aggregate folds a rule's per-band bucket states into one result: the
// minimum remaining tokens across bands, and the maximum wait time across
// bands, since the slowest-to-refill band governs when a retry could
// succeed.
func aggregate(rule rules.RateLimitRule, states []rules.BucketState, allowed bool) *rules.RateLimitResult {
	result := &rules.RateLimitResult{
		Allowed: allowed,
		RuleID:  rule.ID,
		Bands:   states,
		Policy:  rule.OnLimitExceedPolicy,
	}

	for i, s := range states {
		if i == 0 || s.RemainingTokens < result.MinRemaining {
			result.MinRemaining = s.RemainingTokens
		}
		if s.WaitNanos > result.MaxWaitNanos {
			result.MaxWaitNanos = s.WaitNanos
		}
	}

	return result
}
