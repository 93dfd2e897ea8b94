// Package reset implements bucket reset on rule-set reload: when a rule's
// bands change shape (new capacity, new refill rate), stale bucket state
// keyed under the old parameters would otherwise linger until its TTL
// expires.
package reset

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/bucket"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// Handler deletes every bucket key belonging to a rule set, scanning
// rather than blocking the store with KEYS.
//
// It is best-effort: a scan or delete failure is logged and swallowed
// rather than returned, since a reset that partially fails should not
// block the reload event that triggered it — the worst case is a few
// buckets keep their old state until their TTL naturally expires.
type Handler struct {
	store bucket.Store
}

// NewHandler builds a reset handler over the given bucket store.
func NewHandler(store bucket.Store) *Handler {
	return &Handler{store: store}
}

// ResetRuleSet deletes every bucket key under ruleSetID.
func (h *Handler) ResetRuleSet(ctx context.Context, ruleSetID string) {
	pattern := "fluxgate:" + ruleSetID + ":*"
	h.resetPattern(ctx, pattern)
}

// ResetRule deletes every bucket key under ruleSetID/ruleID, across every
// key value and band.
func (h *Handler) ResetRule(ctx context.Context, ruleSetID, ruleID string) {
	pattern := "fluxgate:" + ruleSetID + ":" + ruleID + ":*"
	h.resetPattern(ctx, pattern)
}

// ResetAll deletes every bucket key FluxGate owns, used on a full reload.
func (h *Handler) ResetAll(ctx context.Context) {
	h.resetPattern(ctx, "fluxgate:*")
}

func (h *Handler) resetPattern(ctx context.Context, pattern string) {
	keys, err := h.store.ScanKeys(ctx, pattern)
	if err != nil {
		log.Warn().Err(err).Str("component", "reset").Str("pattern", pattern).Msg("bucket scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := h.store.DeleteKeys(ctx, keys); err != nil {
		log.Warn().Err(err).Str("component", "reset").Int("key_count", len(keys)).Msg("bucket delete failed")
		return
	}

	log.Info().Str("component", "reset").Str("pattern", pattern).Int("key_count", len(keys)).Msg("reset bucket state")
}

// OnRuleReload implements rules.ReloadListener so a Handler can be wired
// directly into a reload.Strategy when reset-on-reload is enabled. A full
// reload (RuleSetID unset) purges every bucket key FluxGate owns rather
// than the single, empty-string rule-set pattern.
func (h *Handler) OnRuleReload(event rules.RuleReloadEvent) {
	if event.FullReload {
		h.ResetAll(context.Background())
		return
	}
	h.ResetRuleSet(context.Background(), event.RuleSetID)
}
