package reload

import (
	"context"

	"github.com/fluxgate/fluxgate/internal/rules"
)

// Strategy observes rule-set changes from some external transport and
// dispatches rules.RuleReloadEvent to its registered listeners until Stop
// is called or ctx is canceled.
type Strategy interface {
	// Start runs the strategy's listen loop. It blocks until ctx is
	// canceled or an unrecoverable error occurs.
	Start(ctx context.Context) error

	// AddListener registers a listener for reload events. Safe to call
	// before or after Start.
	AddListener(l rules.ReloadListener)

	// IsRunning reports whether Start's listen loop is currently active.
	IsRunning() bool

	// TriggerReload dispatches an immediate targeted reload event for
	// ruleSetID, independent of whatever this strategy's transport would
	// otherwise observe.
	TriggerReload(ruleSetID string)

	// TriggerReloadAll dispatches an immediate full reload event.
	TriggerReloadAll()

	// Stop releases the strategy's resources.
	Stop() error
}
