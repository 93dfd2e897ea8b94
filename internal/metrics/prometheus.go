package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxgate/fluxgate/internal/errs"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// PrometheusRecorder exports rate-limit decisions as Prometheus metrics.
type PrometheusRecorder struct {
	decisions       *prometheus.CounterVec
	remainingTokens *prometheus.HistogramVec
	waitNanos       *prometheus.HistogramVec
	decisionLatency *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

// NewPrometheusRecorder builds a recorder and registers its collectors
// against reg. Pass prometheus.NewRegistry() for an isolated registry, or
// nil-safe wrap prometheus.DefaultRegisterer at the call site.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxgate_ratelimit_decisions_total",
			Help: "Count of rate-limit decisions by rule set and outcome.",
		}, []string{"rule_set_id", "allowed"}),
		remainingTokens: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fluxgate_ratelimit_remaining_tokens",
			Help:    "Remaining tokens reported by the deciding rule's band aggregate.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"rule_set_id"}),
		waitNanos: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fluxgate_ratelimit_wait_nanos",
			Help:    "Nanoseconds until refill reported on rejection.",
			Buckets: prometheus.ExponentialBuckets(1e6, 4, 10),
		}, []string{"rule_set_id"}),
		decisionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fluxgate_ratelimit_decision_seconds",
			Help:    "Time spent evaluating a rule set for one request.",
			Buckets: prometheus.DefBuckets,
		}, []string{"rule_set_id"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxgate_ratelimit_errors_total",
			Help: "Count of internal errors encountered on the rate-limit path, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(r.decisions, r.remainingTokens, r.waitNanos, r.decisionLatency, r.errorsTotal)
	return r
}

// RecordDecision implements Recorder.
func (r *PrometheusRecorder) RecordDecision(_ context.Context, ruleSetID string, result *rules.RateLimitResult, duration time.Duration) {
	if result == nil {
		return
	}

	allowed := "false"
	if result.Allowed {
		allowed = "true"
	}

	r.decisions.WithLabelValues(ruleSetID, allowed).Inc()
	r.remainingTokens.WithLabelValues(ruleSetID).Observe(float64(result.MinRemaining))
	r.decisionLatency.WithLabelValues(ruleSetID).Observe(duration.Seconds())
	if !result.Allowed {
		r.waitNanos.WithLabelValues(ruleSetID).Observe(float64(result.MaxWaitNanos))
	}
}

// RecordError implements Recorder.
func (r *PrometheusRecorder) RecordError(_ context.Context, kind errs.Kind) {
	r.errorsTotal.WithLabelValues(string(kind)).Inc()
}
