package rulecache

import (
	"context"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// Source loads a rule set from its system of record (the rule repository)
// on a cache miss.
type Source interface {
	Load(ctx context.Context, ruleSetID string) (rules.RateLimitRuleSet, error)
}

// RuleSetProvider is what the orchestrator depends on to resolve a rule
// set. CachingRuleSetProvider is the only production implementation.
type RuleSetProvider interface {
	Get(ctx context.Context, ruleSetID string) (rules.RateLimitRuleSet, error)
}

// Registrar is implemented by a ReloadStrategy: it accepts listeners to
// notify on rule-set changes. CachingRuleSetProvider depends on this
// interface, never the other way around, so the cache never has to know
// which reload transport is in play.
type Registrar interface {
	AddListener(l rules.ReloadListener)
}

// CachingRuleSetProvider decorates a Source with a bounded cache and
// registers itself as a reload listener so cache entries are invalidated
// the moment a change is observed, rather than surviving until their TTL
// lapses.
type CachingRuleSetProvider struct {
	source Source
	cache  *Cache
}

// NewCachingRuleSetProvider builds a provider and, if registrar is
// non-nil, subscribes it to reload events.
func NewCachingRuleSetProvider(source Source, cache *Cache, registrar Registrar) *CachingRuleSetProvider {
	p := &CachingRuleSetProvider{source: source, cache: cache}
	if registrar != nil {
		registrar.AddListener(p)
	}
	return p
}

// Get returns the cached rule set, loading and caching it from source on
// a miss.
func (p *CachingRuleSetProvider) Get(ctx context.Context, ruleSetID string) (rules.RateLimitRuleSet, error) {
	if rs, ok := p.cache.Get(ruleSetID); ok {
		return rs, nil
	}

	rs, err := p.source.Load(ctx, ruleSetID)
	if err != nil {
		return rules.RateLimitRuleSet{}, err
	}

	p.cache.Set(ruleSetID, rs)
	return rs, nil
}

// OnRuleReload implements rules.ReloadListener. A targeted event evicts
// just that rule set; a full reload clears the cache outright.
func (p *CachingRuleSetProvider) OnRuleReload(event rules.RuleReloadEvent) {
	if event.FullReload {
		p.cache.Clear()
		return
	}
	p.cache.Delete(event.RuleSetID)
}
