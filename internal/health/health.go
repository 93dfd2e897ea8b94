// Package health provides health check handlers for the gateway.
//
// Health checks are essential for:
//   - Load balancer health checks
//   - Kubernetes liveness/readiness probes
//   - Monitoring and alerting
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/bucket"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// Handler provides HTTP handlers for health checks against the rule store
// (Postgres) and the bucket store (Redis).
type Handler struct {
	db    *rules.DB
	store bucket.Store
}

// NewHandler creates a new health check handler.
func NewHandler(db *rules.DB, store bucket.Store) *Handler {
	return &Handler{
		db:    db,
		store: store,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy" or "unhealthy"
	Uptime    string                 `json:"uptime,omitempty"`
	RuleStore map[string]interface{} `json:"rule_store"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of an individual health check.
type CheckResult struct {
	Status  string `json:"status"` // "pass" or "fail"
	Message string `json:"message,omitempty"`
}

var startTime = time.Now()

// Health handles the /health endpoint.
//
// Returns 200 if healthy, 503 if unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ruleStoreHealth := h.db.Health(ctx)
	bucketStoreErr := h.store.Ping(ctx)

	overallStatus := "healthy"
	statusCode := http.StatusOK

	if ruleStoreHealth["status"] != "healthy" || bucketStoreErr != nil {
		overallStatus = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    overallStatus,
		Uptime:    formatDuration(time.Since(startTime)),
		RuleStore: ruleStoreHealth,
		Checks: map[string]CheckResult{
			"rule_store":   {Status: getCheckStatus(ruleStoreHealth["status"]), Message: getCheckMessage(ruleStoreHealth)},
			"bucket_store": checkFromErr(bucketStoreErr),
		},
	}

	log.Debug().
		Str("component", "health").
		Str("status", overallStatus).
		Str("remote_addr", r.RemoteAddr).
		Msg("health check requested")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode health response")
	}
}

// Ready handles the /ready endpoint for Kubernetes readiness probes.
//
// Returns 200 once both the rule store and bucket store are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("component", "health").Msg("readiness check failed: rule store unreachable")
		writeNotReady(w, "rule store unavailable")
		return
	}

	if err := h.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("component", "health").Msg("readiness check failed: bucket store unreachable")
		writeNotReady(w, "bucket store unavailable")
		return
	}

	log.Debug().Str("component", "health").Str("remote_addr", r.RemoteAddr).Msg("readiness check passed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeNotReady(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "reason": reason})
}

func checkFromErr(err error) CheckResult {
	if err == nil {
		return CheckResult{Status: "pass", Message: "operational"}
	}
	return CheckResult{Status: "fail", Message: err.Error()}
}

// getCheckStatus converts a health status to a check status.
func getCheckStatus(status interface{}) string {
	if s, ok := status.(string); ok && s == "healthy" {
		return "pass"
	}
	return "fail"
}

// getCheckMessage extracts a message from health check results.
func getCheckMessage(health map[string]interface{}) string {
	if err, ok := health["error"].(string); ok {
		return err
	}
	return "operational"
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
