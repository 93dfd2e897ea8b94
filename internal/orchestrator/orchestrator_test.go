package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/rules"
)

type fakeProvider struct {
	rs  rules.RateLimitRuleSet
	err error
}

func (f *fakeProvider) Get(ctx context.Context, ruleSetID string) (rules.RateLimitRuleSet, error) {
	return f.rs, f.err
}

type fakeLimiter struct {
	results []*rules.RateLimitResult
	call    int
	err     error
}

func (f *fakeLimiter) Evaluate(ctx context.Context, rs rules.RateLimitRuleSet, rc rules.RequestContext, permits int64) (*rules.RateLimitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := f.results[f.call]
	if f.call < len(f.results)-1 {
		f.call++
	}
	return r, nil
}

func defaultCfg() (config.RateLimitConfig, config.WaitForRefillConfig) {
	return config.RateLimitConfig{
			FilterEnabled:       true,
			DefaultRuleSetID:    "default",
			MissingRuleBehavior: "ALLOW",
		}, config.WaitForRefillConfig{
			Enabled:            true,
			MaxWaitMs:          5000,
			MaxConcurrentWaits: 10,
		}
}

func TestOrchestrator_AllowedRequestProceeds(t *testing.T) {
	rlCfg, waitCfg := defaultCfg()
	limiter := &fakeLimiter{results: []*rules.RateLimitResult{{Allowed: true, MinRemaining: 5}}}
	o := New(limiter, &fakeProvider{}, nil, rlCfg, waitCfg)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	o.Wrap(next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected downstream handler to be called")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "5" {
		t.Errorf("expected remaining header 5, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestOrchestrator_RejectedRequestReturns429(t *testing.T) {
	rlCfg, waitCfg := defaultCfg()
	waitCfg.Enabled = false
	limiter := &fakeLimiter{results: []*rules.RateLimitResult{
		{Allowed: false, MinRemaining: 0, MaxWaitNanos: 2_000_000_000, Policy: rules.PolicyRejectRequest},
	}}
	o := New(limiter, &fakeProvider{}, nil, rlCfg, waitCfg)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("should not reach downstream") })

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	o.Wrap(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestOrchestrator_WaitForRefillSucceedsOnRetry(t *testing.T) {
	rlCfg, waitCfg := defaultCfg()
	limiter := &fakeLimiter{results: []*rules.RateLimitResult{
		{Allowed: false, MinRemaining: 0, MaxWaitNanos: int64(10 * time.Millisecond), Policy: rules.PolicyWaitForRefill},
		{Allowed: true, MinRemaining: 1, Policy: rules.PolicyWaitForRefill},
	}}
	o := New(limiter, &fakeProvider{}, nil, rlCfg, waitCfg)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	o.Wrap(next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected downstream handler to be called after a successful wait-for-refill retry")
	}
}

func TestOrchestrator_ExcludedPathPassesThrough(t *testing.T) {
	rlCfg, waitCfg := defaultCfg()
	rlCfg.ExcludePatterns = []string{"/healthz"}
	limiter := &fakeLimiter{results: []*rules.RateLimitResult{{Allowed: false}}}
	o := New(limiter, &fakeProvider{}, nil, rlCfg, waitCfg)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	o.Wrap(next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected excluded path to pass through regardless of rule result")
	}
}

func TestOrchestrator_MissingRuleSetFailsOpenByDefault(t *testing.T) {
	rlCfg, waitCfg := defaultCfg()
	limiter := &fakeLimiter{}
	o := New(limiter, &fakeProvider{err: context.DeadlineExceeded}, nil, rlCfg, waitCfg)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	o.Wrap(next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected ALLOW missing-rule-behavior to pass the request through")
	}
}

func TestOrchestrator_MissingRuleSetDeniesWhenConfigured(t *testing.T) {
	rlCfg, waitCfg := defaultCfg()
	rlCfg.MissingRuleBehavior = "DENY"
	limiter := &fakeLimiter{}
	o := New(limiter, &fakeProvider{err: context.DeadlineExceeded}, nil, rlCfg, waitCfg)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("should not reach downstream") })

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	o.Wrap(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when DENY missing-rule-behavior configured, got %d", rec.Code)
	}
}
