// Package metrics records outcomes of rate-limit decisions for
// observability, independently of the decision path itself: a metrics
// failure must never affect the HTTP response.
package metrics

import (
	"context"
	"time"

	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// Recorder observes rate-limit decisions and internal errors. Recorders run
// after the decision is made; they may never block the request.
type Recorder interface {
	RecordDecision(ctx context.Context, ruleSetID string, result *rules.RateLimitResult, duration time.Duration)
	RecordError(ctx context.Context, kind errs.Kind)
}

// Composite fans a decision out to every registered Recorder. A panic or
// error from one recorder is caught and logged; it never stops the
// remaining recorders from running and never propagates to the caller,
// mirroring the plugin chain's non-critical-failure discipline.
type Composite struct {
	recorders []Recorder
}

// NewComposite builds a Composite over the given recorders.
func NewComposite(recorders ...Recorder) *Composite {
	return &Composite{recorders: recorders}
}

// RecordDecision implements Recorder.
func (c *Composite) RecordDecision(ctx context.Context, ruleSetID string, result *rules.RateLimitResult, duration time.Duration) {
	for _, r := range c.recorders {
		c.safeDecision(ctx, r, ruleSetID, result, duration)
	}
}

// RecordError implements Recorder.
func (c *Composite) RecordError(ctx context.Context, kind errs.Kind) {
	for _, r := range c.recorders {
		c.safeError(ctx, r, kind)
	}
}

func (c *Composite) safeDecision(ctx context.Context, r Recorder, ruleSetID string, result *rules.RateLimitResult, duration time.Duration) {
	defer recoverRecorder()
	r.RecordDecision(ctx, ruleSetID, result, duration)
}

func (c *Composite) safeError(ctx context.Context, r Recorder, kind errs.Kind) {
	defer recoverRecorder()
	r.RecordError(ctx, kind)
}

func recoverRecorder() {
	if rec := recover(); rec != nil {
		logRecoveredPanic(rec)
	}
}
