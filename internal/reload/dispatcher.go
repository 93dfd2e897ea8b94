// Package reload implements the hot-reload protocol: strategies that
// observe rule-set changes from an external source and fan them out to
// registered listeners (chiefly rulecache.CachingRuleSetProvider).
package reload

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// dedupWindow is how close together two events for the same rule set are
// treated as one. Redis pub/sub and a racing admin write can otherwise
// double-deliver the same change within the same round trip.
const dedupWindow = 100 * time.Millisecond

// dispatcher is embedded by every Strategy implementation. It serializes
// listener invocation for a single reload event, since listeners (the
// rule cache) are not required to be reentrant-safe across concurrent
// events for the same rule set.
type dispatcher struct {
	mu        sync.Mutex
	listeners []rules.ReloadListener
	lastSeen  map[string]time.Time
	running   bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{lastSeen: make(map[string]time.Time)}
}

// AddListener implements rulecache.Registrar.
func (d *dispatcher) AddListener(l rules.ReloadListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// IsRunning implements Strategy.
func (d *dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *dispatcher) setRunning(running bool) {
	d.mu.Lock()
	d.running = running
	d.mu.Unlock()
}

// TriggerReload implements Strategy: it dispatches a targeted reload event
// immediately, bypassing whatever transport this strategy normally
// listens on. Used by an admin operation that wants an instant refresh
// rather than waiting for the next poll or pub/sub round trip.
func (d *dispatcher) TriggerReload(ruleSetID string) {
	d.dispatch(rules.RuleReloadEvent{
		RuleSetID:  ruleSetID,
		FullReload: false,
		Timestamp:  time.Now(),
		Source:     rules.SourceManual,
	})
}

// TriggerReloadAll implements Strategy: a manually triggered full reload.
func (d *dispatcher) TriggerReloadAll() {
	d.dispatch(rules.RuleReloadEvent{
		FullReload: true,
		Timestamp:  time.Now(),
		Source:     rules.SourceManual,
	})
}

// dispatch delivers event to every listener in registration order,
// skipping a duplicate seen within dedupWindow for the same rule set. A
// listener that panics is contained so its peers still run.
func (d *dispatcher) dispatch(event rules.RuleReloadEvent) {
	d.mu.Lock()
	if last, ok := d.lastSeen[event.RuleSetID]; ok && event.Timestamp.Sub(last) < dedupWindow {
		d.mu.Unlock()
		return
	}
	d.lastSeen[event.RuleSetID] = event.Timestamp
	listeners := make([]rules.ReloadListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()

	for _, l := range listeners {
		invokeListener(l, event)
	}

	log.Debug().
		Str("component", "reload").
		Str("rule_set_id", event.RuleSetID).
		Bool("full_reload", event.FullReload).
		Str("source", event.Source).
		Int("listeners", len(listeners)).
		Msg("dispatched rule reload event")
}

// invokeListener calls l.OnRuleReload with a panic recovered and logged,
// so one misbehaving listener never stops its peers from observing the
// same event.
func invokeListener(l rules.ReloadListener, event rules.RuleReloadEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "reload").
				Interface("panic", r).
				Str("rule_set_id", event.RuleSetID).
				Msg("reload listener panicked, continuing with remaining listeners")
		}
	}()
	l.OnRuleReload(event)
}
