package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/internal/keyresolver"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// fakeStore lets tests script per-(ruleID) outcomes without a real store.
type fakeStore struct {
	callsByRule map[string]int
	rejectRule  string
}

func (f *fakeStore) Consume(ctx context.Context, ruleSetID, ruleID, keyValue string, bands []rules.RateLimitBand, permits int64) (bool, []rules.BucketState, int64, error) {
	if f.callsByRule == nil {
		f.callsByRule = map[string]int{}
	}
	f.callsByRule[ruleID]++

	states := make([]rules.BucketState, len(bands))
	allowed := ruleID != f.rejectRule
	for i, b := range bands {
		remaining := b.Capacity - 1
		wait := int64(0)
		if !allowed {
			remaining = 0
			wait = int64(time.Second)
		}
		states[i] = rules.BucketState{BandLabel: b.Label, Consumed: allowed, RemainingTokens: remaining, WaitNanos: wait}
	}
	return allowed, states, 0, nil
}

func (f *fakeStore) Reset(ctx context.Context, ruleSetID, ruleID, keyValue string, bandLabels []string) error {
	return nil
}
func (f *fakeStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }
func (f *fakeStore) DeleteKeys(ctx context.Context, keys []string) error            { return nil }
func (f *fakeStore) Ping(ctx context.Context) error                                { return nil }
func (f *fakeStore) Close() error                                                  { return nil }

func band(label string, capacity int64) rules.RateLimitBand {
	return rules.RateLimitBand{Label: label, Capacity: capacity, RefillTokens: capacity, RefillInterval: time.Second}
}

func TestRateLimiter_AllowsWhenAllRulesPass(t *testing.T) {
	store := &fakeStore{}
	l := New(store, keyresolver.NewResolver())

	rs := rules.RateLimitRuleSet{
		ID: "set-1",
		Rules: []rules.RateLimitRule{
			{ID: "r1", RuleSetID: "set-1", Scope: rules.ScopeGlobal, Enabled: true, Priority: 1, Bands: []rules.RateLimitBand{band("b", 10)}},
			{ID: "r2", RuleSetID: "set-1", Scope: rules.ScopeGlobal, Enabled: true, Priority: 2, Bands: []rules.RateLimitBand{band("b", 10)}},
		},
	}

	result, err := l.Evaluate(context.Background(), rs, rules.RequestContext{ClientIP: "1.1.1.1"}, 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result == nil || !result.Allowed {
		t.Fatalf("expected allowed result, got %+v", result)
	}
	if result.RuleID != "r1" {
		t.Errorf("expected matchedRule to be the first enabled rule (r1), got %s", result.RuleID)
	}
	if store.callsByRule["r1"] != 1 || store.callsByRule["r2"] != 1 {
		t.Errorf("expected both rules evaluated exactly once, got %+v", store.callsByRule)
	}
}

func TestRateLimiter_StopsAtFirstRejectingRule(t *testing.T) {
	store := &fakeStore{rejectRule: "r1"}
	l := New(store, keyresolver.NewResolver())

	rs := rules.RateLimitRuleSet{
		ID: "set-1",
		Rules: []rules.RateLimitRule{
			{ID: "r1", RuleSetID: "set-1", Scope: rules.ScopeGlobal, Enabled: true, Priority: 1, Bands: []rules.RateLimitBand{band("b", 10)}},
			{ID: "r2", RuleSetID: "set-1", Scope: rules.ScopeGlobal, Enabled: true, Priority: 2, Bands: []rules.RateLimitBand{band("b", 10)}},
		},
	}

	result, err := l.Evaluate(context.Background(), rs, rules.RequestContext{ClientIP: "1.1.1.1"}, 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result == nil || result.Allowed {
		t.Fatalf("expected rejected result, got %+v", result)
	}
	if result.RuleID != "r1" {
		t.Errorf("expected rejection to be attributed to r1, got %s", result.RuleID)
	}
	if _, called := store.callsByRule["r2"]; called {
		t.Error("expected r2 to never be evaluated once r1 rejected")
	}
}

func TestRateLimiter_SkipsDisabledRules(t *testing.T) {
	store := &fakeStore{}
	l := New(store, keyresolver.NewResolver())

	rs := rules.RateLimitRuleSet{
		ID: "set-1",
		Rules: []rules.RateLimitRule{
			{ID: "r1", RuleSetID: "set-1", Scope: rules.ScopeGlobal, Enabled: false, Priority: 1, Bands: []rules.RateLimitBand{band("b", 10)}},
		},
	}

	result, err := l.Evaluate(context.Background(), rs, rules.RequestContext{ClientIP: "1.1.1.1"}, 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result when no enabled rules, got %+v", result)
	}
}
