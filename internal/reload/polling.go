package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// hashable is the deterministic projection of a rule set used to compute
// its version hash. Field order is fixed by the struct tags, not map
// iteration, so the hash is stable across processes.
type hashable struct {
	ID    string               `json:"id"`
	Rules []rules.RateLimitRule `json:"rules"`
}

// RuleSetIDSource supplies the set of rule-set IDs a PollingStrategy
// should check on each tick. rulecache.Cache satisfies this directly, so
// polling always tracks whatever is currently resident in the cache
// rather than a list frozen at startup.
type RuleSetIDSource interface {
	GetCachedRuleSetIDs() []string
}

// PollingStrategy periodically re-reads every currently-cached rule set
// from the repository and hashes it. The first hash seen for an ID and
// every later change of it are reported as a targeted reload event; the
// first sighting is not kept as a silent baseline.
type PollingStrategy struct {
	*dispatcher

	repo          rules.RuleRepository
	ids           RuleSetIDSource
	interval      time.Duration
	initialDelay  time.Duration
	knownVersions map[string]string
	stop          chan struct{}
}

// NewPollingStrategy builds a polling strategy that, every interval after
// an initial delay (staggering startup load against the repository across
// multiple FluxGate instances), re-checks every rule-set ID ids currently
// reports as cached.
func NewPollingStrategy(repo rules.RuleRepository, ids RuleSetIDSource, interval, initialDelay time.Duration) *PollingStrategy {
	return &PollingStrategy{
		dispatcher:    newDispatcher(),
		repo:          repo,
		ids:           ids,
		interval:      interval,
		initialDelay:  initialDelay,
		knownVersions: make(map[string]string),
		stop:          make(chan struct{}),
	}
}

// Start implements Strategy.
func (p *PollingStrategy) Start(ctx context.Context) error {
	p.setRunning(true)
	defer p.setRunning(false)

	select {
	case <-time.After(p.initialDelay):
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case <-ticker.C:
			p.checkAll(ctx)
		}
	}
}

func (p *PollingStrategy) checkAll(ctx context.Context) {
	for _, ruleSetID := range p.ids.GetCachedRuleSetIDs() {
		found, err := p.repo.FindByRuleSetID(ctx, ruleSetID)
		if err != nil {
			log.Warn().Err(err).Str("component", "reload").Str("rule_set_id", ruleSetID).Msg("polling check failed")
			continue
		}

		version, err := versionHash(ruleSetID, found)
		if err != nil {
			log.Warn().Err(err).Str("component", "reload").Str("rule_set_id", ruleSetID).Msg("failed to hash rule set")
			continue
		}

		if prev, ok := p.knownVersions[ruleSetID]; ok && prev == version {
			continue
		}

		p.knownVersions[ruleSetID] = version
		p.dispatch(rules.RuleReloadEvent{
			RuleSetID:  ruleSetID,
			FullReload: false,
			Timestamp:  time.Now(),
			Source:     rules.SourcePolling,
		})
	}
}

// Stop implements Strategy.
func (p *PollingStrategy) Stop() error {
	close(p.stop)
	return nil
}

func versionHash(ruleSetID string, rs []rules.RateLimitRule) (string, error) {
	payload, err := json.Marshal(hashable{ID: ruleSetID, Rules: rs})
	if err != nil {
		return "", fmt.Errorf("failed to marshal rule set for hashing: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
