package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/keyresolver"
	"github.com/fluxgate/fluxgate/internal/metrics"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// Limiter is the subset of limiter.RateLimiter the orchestrator depends on.
type Limiter interface {
	Evaluate(ctx context.Context, rs rules.RateLimitRuleSet, rc rules.RequestContext, permits int64) (*rules.RateLimitResult, error)
}

// RuleSetProvider is the subset of rulecache.CachingRuleSetProvider the
// orchestrator depends on.
type RuleSetProvider interface {
	Get(ctx context.Context, ruleSetID string) (rules.RateLimitRuleSet, error)
}

// Orchestrator composes pattern filtering, request-context building, rule
// evaluation, and the WAIT_FOR_REFILL retry into one decision per request.
//
// It is safe for concurrent use: the only shared mutable state is the
// bounded wait semaphore.
type Orchestrator struct {
	limiter  Limiter
	provider RuleSetProvider
	recorder metrics.Recorder
	cfg      config.RateLimitConfig
	wait     config.WaitForRefillConfig
	waitSem  chan struct{}
}

// New builds an Orchestrator. recorder may be nil, in which case decisions
// are not recorded.
func New(limiter Limiter, provider RuleSetProvider, recorder metrics.Recorder, cfg config.RateLimitConfig, wait config.WaitForRefillConfig) *Orchestrator {
	var sem chan struct{}
	if wait.Enabled && wait.MaxConcurrentWaits > 0 {
		sem = make(chan struct{}, wait.MaxConcurrentWaits)
	}

	return &Orchestrator{
		limiter:  limiter,
		provider: provider,
		recorder: recorder,
		cfg:      cfg,
		wait:     wait,
		waitSem:  sem,
	}
}

// Wrap returns an http.Handler that applies rate limiting before delegating
// to next. Any internal error fails open: the request proceeds to next.
func (o *Orchestrator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !o.cfg.FilterEnabled {
			next.ServeHTTP(w, r)
			return
		}

		if matchesAny(r.URL.Path, o.cfg.ExcludePatterns) {
			next.ServeHTTP(w, r)
			return
		}
		if len(o.cfg.IncludePatterns) > 0 && !matchesAny(r.URL.Path, o.cfg.IncludePatterns) {
			next.ServeHTTP(w, r)
			return
		}

		traceID := traceIDFor(r)
		logger := log.With().Str("trace_id", traceID).Logger()
		rc := keyresolver.BuildRequestContext(r, o.cfg, traceID)

		start := time.Now()
		result, err := o.decide(r.Context(), rc)
		duration := time.Since(start)

		if err != nil {
			o.recordError(r.Context(), err)
			logger.Error().Err(err).Str("component", "orchestrator").Msg("rate limit evaluation failed, failing open")
			next.ServeHTTP(w, r)
			return
		}

		if o.recorder != nil && result != nil {
			o.recorder.RecordDecision(r.Context(), o.cfg.DefaultRuleSetID, result, duration)
		}

		if result == nil {
			// No enabled rule in the rule set, or the rule set could not be
			// loaded and missing-rule-behavior is ALLOW: nothing to enforce.
			next.ServeHTTP(w, r)
			return
		}

		if result.Allowed {
			setRemainingHeader(w, result.MinRemaining)
			logger.Info().Str("component", "orchestrator").Bool("allowed", true).Dur("elapsed", duration).Msg("request admitted")
			next.ServeHTTP(w, r)
			return
		}

		if result.Policy == rules.PolicyWaitForRefill && o.wait.Enabled {
			if retried, ok := o.tryWait(r.Context(), rc, result); ok {
				setRemainingHeader(w, retried.MinRemaining)
				logger.Info().Str("component", "orchestrator").Bool("allowed", true).Str("outcome", "waited").Msg("request admitted after wait-for-refill")
				next.ServeHTTP(w, r)
				return
			} else if retried != nil {
				result = retried
			}
		}

		setRemainingHeader(w, result.MinRemaining)
		writeRejected(w, result.MaxWaitNanos)
		logger.Info().Str("component", "orchestrator").Bool("allowed", false).Dur("elapsed", duration).Msg("request rejected")
	})
}

// decide resolves the configured rule set and evaluates it, applying
// missing-rule-behavior when the rule set cannot be loaded.
func (o *Orchestrator) decide(ctx context.Context, rc rules.RequestContext) (*rules.RateLimitResult, error) {
	rs, err := o.provider.Get(ctx, o.cfg.DefaultRuleSetID)
	if err != nil {
		if o.cfg.MissingRuleBehavior == "DENY" {
			return &rules.RateLimitResult{Allowed: false, Policy: rules.PolicyRejectRequest}, nil
		}
		return nil, nil
	}

	return o.limiter.Evaluate(ctx, rs, rc, 1)
}

// tryWait implements the bounded WAIT_FOR_REFILL retry: acquire a permit
// from the bounded semaphore non-blockingly, sleep the reported wait time,
// then retry the decision exactly once. It returns the retried result (nil
// if the wait was skipped entirely) and whether that retry was allowed.
func (o *Orchestrator) tryWait(ctx context.Context, rc rules.RequestContext, rejected *rules.RateLimitResult) (*rules.RateLimitResult, bool) {
	waitDuration := time.Duration(rejected.MaxWaitNanos)
	maxWait := time.Duration(o.wait.MaxWaitMs) * time.Millisecond
	if waitDuration > maxWait {
		return nil, false
	}

	if o.waitSem == nil {
		return nil, false
	}

	select {
	case o.waitSem <- struct{}{}:
	default:
		return nil, false
	}
	defer func() { <-o.waitSem }()

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, false
	case <-timer.C:
	}

	rs, err := o.provider.Get(ctx, o.cfg.DefaultRuleSetID)
	if err != nil {
		return nil, false
	}

	retried, err := o.limiter.Evaluate(ctx, rs, rc, 1)
	if err != nil || retried == nil {
		return nil, false
	}

	return retried, retried.Allowed
}

func (o *Orchestrator) recordError(ctx context.Context, err error) {
	if o.recorder == nil {
		return
	}
	var fgErr *errs.Error
	kind := errs.KindRuleExecution
	if errors.As(err, &fgErr) {
		kind = fgErr.Kind
	}
	o.recorder.RecordError(ctx, kind)
}

func traceIDFor(r *http.Request) string {
	if id := r.Header.Get("X-Trace-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func setRemainingHeader(w http.ResponseWriter, remaining int64) {
	if remaining < 0 {
		return
	}
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
}

func writeRejected(w http.ResponseWriter, waitNanos int64) {
	retryAfterSeconds := int64(math.Ceil(float64(waitNanos) / 1e9))
	if retryAfterSeconds < 0 {
		retryAfterSeconds = 0
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":      "Rate limit exceeded",
		"retryAfter": retryAfterSeconds,
	})
}
