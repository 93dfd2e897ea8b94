package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/rules"
)

type panicRecorder struct{}

func (panicRecorder) RecordDecision(ctx context.Context, ruleSetID string, result *rules.RateLimitResult, duration time.Duration) {
	panic("boom")
}
func (panicRecorder) RecordError(ctx context.Context, kind errs.Kind) { panic("boom") }

type countingRecorder struct {
	decisions int
	errors    int
}

func (c *countingRecorder) RecordDecision(ctx context.Context, ruleSetID string, result *rules.RateLimitResult, duration time.Duration) {
	c.decisions++
}
func (c *countingRecorder) RecordError(ctx context.Context, kind errs.Kind) { c.errors++ }

func TestComposite_PanicInOneRecorderDoesNotStopOthers(t *testing.T) {
	counting := &countingRecorder{}
	composite := NewComposite(panicRecorder{}, counting)

	composite.RecordDecision(context.Background(), "set-1", &rules.RateLimitResult{Allowed: true}, time.Millisecond)
	composite.RecordError(context.Background(), errs.KindTimeout)

	if counting.decisions != 1 {
		t.Errorf("expected the surviving recorder to see 1 decision, got %d", counting.decisions)
	}
	if counting.errors != 1 {
		t.Errorf("expected the surviving recorder to see 1 error, got %d", counting.errors)
	}
}

func TestComposite_NilResultIsSafe(t *testing.T) {
	counting := &countingRecorder{}
	composite := NewComposite(counting)
	composite.RecordDecision(context.Background(), "set-1", nil, time.Millisecond)
	if counting.decisions != 1 {
		t.Errorf("expected 1 decision even with a nil result, got %d", counting.decisions)
	}
}
