package rulecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// ErrRuleSetNotFound is returned by RepositorySource.Load when the
// repository has no rules under the requested rule-set ID. It is
// distinguishable from a transport failure via errors.Is so callers can
// tell "no such rule set" apart from "couldn't reach the store" if they
// ever need to, even though both currently flow through the same
// missing-rule-behavior branch at the orchestrator.
var ErrRuleSetNotFound = errors.New("rulecache: rule set not found")

// RepositorySource adapts a rules.RuleRepository into a Source, assembling
// a RateLimitRuleSet from the rules stored under a given rule-set ID.
//
// Descriptions aren't persisted per rule row (Non-goal: rule-set metadata
// storage), so RepositorySource carries a static description table keyed
// by rule-set ID, falling back to the ID itself.
type RepositorySource struct {
	repo         rules.RuleRepository
	descriptions map[string]string
}

// NewRepositorySource builds a Source over repo. descriptions may be nil.
func NewRepositorySource(repo rules.RuleRepository, descriptions map[string]string) *RepositorySource {
	return &RepositorySource{repo: repo, descriptions: descriptions}
}

// Load implements Source.
func (s *RepositorySource) Load(ctx context.Context, ruleSetID string) (rules.RateLimitRuleSet, error) {
	found, err := s.repo.FindByRuleSetID(ctx, ruleSetID)
	if err != nil {
		return rules.RateLimitRuleSet{}, fmt.Errorf("failed to load rule set %s: %w", ruleSetID, err)
	}
	if len(found) == 0 {
		return rules.RateLimitRuleSet{}, fmt.Errorf("rule set %s: %w", ruleSetID, ErrRuleSetNotFound)
	}

	description := ruleSetID
	if s.descriptions != nil {
		if d, ok := s.descriptions[ruleSetID]; ok {
			description = d
		}
	}

	return rules.RateLimitRuleSet{
		ID:          ruleSetID,
		Description: description,
		Rules:       found,
	}, nil
}
