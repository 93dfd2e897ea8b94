package keyresolver

import (
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/rules"
)

// BuildRequestContext extracts a RequestContext from an inbound HTTP
// request using the configured header names.
//
// API keys are hashed before being carried in the key value, so raw keys
// never end up in Redis or in logs.
func BuildRequestContext(r *http.Request, cfg config.RateLimitConfig, traceID string) rules.RequestContext {
	rc := rules.RequestContext{
		Path:      r.URL.Path,
		Method:    r.Method,
		TraceID:   traceID,
		ArrivedAt: time.Now(),
		Custom:    make(map[string]string),
	}

	rc.ClientIP = clientIP(r, cfg)

	if cfg.UserIDHeader != "" {
		rc.UserID = r.Header.Get(cfg.UserIDHeader)
	}

	if cfg.APIKeyHeader != "" {
		if raw := r.Header.Get(cfg.APIKeyHeader); raw != "" {
			rc.APIKey = hashAPIKey(raw)
		}
	}

	return rc
}

// clientIP resolves the request's client IP.
//
// When TrustClientIPHeader is set, the configured header (typically
// X-Forwarded-For) is honored; its first, left-most entry is the original
// client. Otherwise the connection's own RemoteAddr is used, since an
// untrusted header is trivially spoofable.
func clientIP(r *http.Request, cfg config.RateLimitConfig) string {
	if cfg.TrustClientIPHeader && cfg.ClientIPHeader != "" {
		if raw := r.Header.Get(cfg.ClientIPHeader); raw != "" {
			parts := strings.Split(raw, ",")
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// hashAPIKey hashes an API key so raw keys never leave the process.
func hashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("%x", sum[:8])
}
